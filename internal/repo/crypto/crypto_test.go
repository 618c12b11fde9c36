package crypto

import "testing"

func TestShouldSignMissingKey(t *testing.T) {
	s := &Signer{path: "/nonexistent/path/to/key.asc"}
	if s.ShouldSign() {
		t.Fatal("ShouldSign() = true for a path with no key file")
	}
}

func TestSignWithoutKeyErrors(t *testing.T) {
	s := NewSigner("")
	s.path = "/nonexistent/path/to/key.asc"
	if err := s.SignFile("/nonexistent/path/to/package.pkg.tar.zst"); err == nil {
		t.Fatal("SignFile() with no key present should error")
	}
}
