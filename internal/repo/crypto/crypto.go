// Package crypto provides detached OpenPGP package signing, the Go
// counterpart of original_source's repository/crypto.rs (there built on
// sequoia_openpgp; here on the same golang.org/x/crypto/openpgp fallback
// implementation go.podman.io/image vendors for its own GPG mechanism).
package crypto

import (
	"io"
	"os"

	"golang.org/x/crypto/openpgp"
	"golang.org/x/crypto/openpgp/armor"
	"golang.org/x/xerrors"
)

// PrivateKeyFile is the well-known path the repository's signing key is
// read from, mirroring original_source's PRIV_KEY_FILE constant.
const PrivateKeyFile = "/etc/serene/signing-key.asc"

// Signer signs repository artifacts with a single OpenPGP key, loaded lazily
// from PrivateKeyFile on first use.
type Signer struct {
	path       string
	passphrase string

	entity *openpgp.Entity
}

// NewSigner returns a Signer reading its key from PrivateKeyFile. passphrase
// unlocks the key if its secret material is encrypted; it is ignored
// otherwise.
func NewSigner(passphrase string) *Signer {
	return &Signer{path: PrivateKeyFile, passphrase: passphrase}
}

// ShouldSign reports whether a private key is present, i.e. whether
// published packages are expected to carry a signature.
func (s *Signer) ShouldSign() bool {
	_, err := os.Stat(s.path)
	return err == nil
}

func (s *Signer) keypair() (*openpgp.Entity, error) {
	if s.entity != nil {
		return s.entity, nil
	}

	f, err := os.Open(s.path)
	if err != nil {
		return nil, xerrors.Errorf("opening private key file: %w", err)
	}
	defer f.Close()

	entity, err := readEntity(f)
	if err != nil {
		return nil, xerrors.Errorf("reading private key file: %w", err)
	}

	if entity.PrivateKey != nil && entity.PrivateKey.Encrypted {
		if s.passphrase == "" {
			return nil, xerrors.New("private key is encrypted but no password was provided")
		}
		if err := entity.PrivateKey.Decrypt([]byte(s.passphrase)); err != nil {
			return nil, xerrors.Errorf("unlocking private key: %w", err)
		}
	}
	for _, sub := range entity.Subkeys {
		if sub.PrivateKey != nil && sub.PrivateKey.Encrypted && s.passphrase != "" {
			_ = sub.PrivateKey.Decrypt([]byte(s.passphrase))
		}
	}

	s.entity = entity
	return entity, nil
}

func readEntity(r io.Reader) (*openpgp.Entity, error) {
	keyring, err := openpgp.ReadArmoredKeyRing(r)
	if err != nil {
		return nil, err
	}
	if len(keyring) == 0 {
		return nil, xerrors.New("key file contains no keys")
	}
	return keyring[0], nil
}

// Sign writes a detached, armored signature of the contents read from src
// to dst, the Go equivalent of original_source's sign(output, file).
func (s *Signer) Sign(dst io.Writer, src io.Reader) error {
	entity, err := s.keypair()
	if err != nil {
		return err
	}
	if err := openpgp.ArmoredDetachSign(dst, entity, src, nil); err != nil {
		return xerrors.Errorf("signing: %w", err)
	}
	return nil
}

// SignFile signs the file at srcPath, writing the armored signature to
// srcPath+".sig".
func (s *Signer) SignFile(srcPath string) error {
	src, err := os.Open(srcPath)
	if err != nil {
		return xerrors.Errorf("opening file to sign: %w", err)
	}
	defer src.Close()

	dst, err := os.Create(srcPath + ".sig")
	if err != nil {
		return xerrors.Errorf("creating signature file: %w", err)
	}
	defer dst.Close()

	return s.Sign(dst, src)
}

// PublicKey writes the signer's certificate as an armored public key,
// the Go equivalent of original_source's get_public_key_bytes.
func (s *Signer) PublicKey(w io.Writer) error {
	entity, err := s.keypair()
	if err != nil {
		return err
	}

	aw, err := armor.Encode(w, openpgp.PublicKeyType, nil)
	if err != nil {
		return xerrors.Errorf("building public key armorer: %w", err)
	}
	if err := entity.Serialize(aw); err != nil {
		return xerrors.Errorf("exporting public key: %w", err)
	}
	return aw.Close()
}
