// Package repo publishes built packages into an on-disk pacman repository,
// the Go counterpart of original_source's repository/mod.rs.
package repo

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	serene "github.com/serene-build/serene"
	"github.com/serene-build/serene/internal/repo/crypto"
	"github.com/serene-build/serene/internal/repo/manage"
	"github.com/serene-build/serene/internal/store"
	"github.com/google/renameio"
	"golang.org/x/xerrors"
)

const basesFile = "bases.json"

// PackageEntry is one member package tracked inside a base's published set.
type PackageEntry struct {
	Name string `json:"name"`
	File string `json:"file"`
}

// Publisher manages the pacman repository database plus the bases.json
// sidecar that maps each package base to the member files it last
// published, the Go equivalent of PackageRepository.
type Publisher struct {
	dir    string
	name   string
	arch   string
	signer *crypto.Signer

	mu    sync.Mutex
	bases map[string][]PackageEntry
}

// New opens (creating if absent) the repository directory dir under
// database name, signing published packages with signer if non-nil and
// signer.ShouldSign() reports true.
func New(dir, name, arch string, signer *crypto.Signer) (*Publisher, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, xerrors.Errorf("creating repository directory: %w", err)
	}

	p := &Publisher{dir: dir, name: name, arch: arch, signer: signer, bases: map[string][]PackageEntry{}}
	if err := p.load(); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *Publisher) sidecarPath() string { return filepath.Join(p.dir, basesFile) }

func (p *Publisher) load() error {
	raw, err := os.ReadFile(p.sidecarPath())
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return xerrors.Errorf("reading repository database summary: %w", err)
	}
	if err := json.Unmarshal(raw, &p.bases); err != nil {
		return xerrors.Errorf("decoding repository database summary: %w", err)
	}
	return nil
}

func (p *Publisher) save() error {
	raw, err := json.Marshal(p.bases)
	if err != nil {
		return xerrors.Errorf("encoding repository database summary: %w", err)
	}
	return renameio.WriteFile(p.sidecarPath(), raw, 0o644)
}

// expectedFiles derives the member package names and their artifact
// filenames from pkg's parsed recipe metadata.
func expectedFiles(pkg store.Package, arch string) (names, files []string, err error) {
	if pkg.Metadata == nil {
		return nil, nil, xerrors.New("package has no parsed recipe metadata")
	}
	selected := serene.SelectArch(arch, pkg.Metadata.Arches)
	for _, member := range pkg.Metadata.Members {
		names = append(names, member)
		files = append(files, serene.ArtifactName{
			Member:  member,
			Epoch:   pkg.Metadata.Epoch,
			Version: pkg.Metadata.Version,
			Release: pkg.Metadata.Release,
			Arch:    selected,
		}.String())
	}
	return names, files, nil
}

func sigPath(packagePath string) string { return packagePath + ".sig" }

// Publish moves the member package files for pkg out of stagingDir (where the
// pipeline has already extracted them from the sandbox's output archive),
// signs them if signing is enabled, registers them with repo-add, and
// replaces pkg's prior entry in the bases.json sidecar.
func (p *Publisher) Publish(ctx context.Context, pkg store.Package, stagingDir string) error {
	names, files, err := expectedFiles(pkg, p.arch)
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.removeLocked(ctx, pkg.Base); err != nil {
		return err
	}

	for _, file := range files {
		if err := os.Rename(filepath.Join(stagingDir, file), filepath.Join(p.dir, file)); err != nil {
			return xerrors.Errorf("moving %s into repository: %w", file, err)
		}
	}

	if p.signer != nil && p.signer.ShouldSign() {
		for _, file := range files {
			if err := p.signer.SignFile(filepath.Join(p.dir, file)); err != nil {
				return xerrors.Errorf("signing %s: %w", file, err)
			}
		}
	}

	if err := manage.Add(ctx, p.dir, p.name, files); err != nil {
		return xerrors.Errorf("adding package files to repository database: %w", err)
	}

	entries := make([]PackageEntry, len(names))
	for i := range names {
		entries[i] = PackageEntry{Name: names[i], File: files[i]}
	}
	p.bases[pkg.Base] = entries

	return p.save()
}

// Published reports whether base currently has any package files registered
// in this repository.
func (p *Publisher) Published(base string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.bases[base]
	return ok
}

// Remove unregisters base's published package files from the repository.
func (p *Publisher) Remove(ctx context.Context, base string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.bases[base]; !ok {
		return xerrors.Errorf("package %s is not published in this repository", base)
	}
	if err := p.removeLocked(ctx, base); err != nil {
		return err
	}
	return p.save()
}

// removeLocked drops base's prior entries (if any) from the repo database
// and deletes their package and signature files. Callers must hold p.mu.
func (p *Publisher) removeLocked(ctx context.Context, base string) error {
	entries, ok := p.bases[base]
	if !ok {
		return nil
	}

	names := make([]string, len(entries))
	for i, e := range entries {
		names[i] = e.Name
	}
	if err := manage.Remove(ctx, p.dir, p.name, names); err != nil {
		return xerrors.Errorf("removing package files from repository database: %w", err)
	}

	for _, e := range entries {
		path := filepath.Join(p.dir, e.File)
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return xerrors.Errorf("deleting repository file %s: %w", e.File, err)
		}
		if err := os.Remove(sigPath(path)); err != nil && !os.IsNotExist(err) {
			return xerrors.Errorf("deleting repository signature %s: %w", e.File, err)
		}
	}

	delete(p.bases, base)
	return nil
}

// PackageFile returns the published artifact filename for member name,
// across every tracked base.
func (p *Publisher) PackageFile(name string) (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, entries := range p.bases {
		for _, e := range entries {
			if e.Name == name {
				return e.File, true
			}
		}
	}
	return "", false
}

// RemoveOrphanSignatures deletes any ".sig" file in the repository directory
// whose corresponding package file is no longer present, run once at
// startup (see https://github.com/VirtCode/serene-aur/pull/18).
func (p *Publisher) RemoveOrphanSignatures() (int, error) {
	entries, err := os.ReadDir(p.dir)
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, xerrors.Errorf("reading repository directory: %w", err)
	}

	deleted := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		const suffix = serene.PackageExtension + ".sig"
		if len(name) <= len(suffix) || name[len(name)-len(suffix):] != suffix {
			continue
		}
		pkgName := name[:len(name)-len(".sig")]
		if _, err := os.Stat(filepath.Join(p.dir, pkgName)); os.IsNotExist(err) {
			if err := os.Remove(filepath.Join(p.dir, name)); err == nil {
				deleted++
			}
		}
	}
	return deleted, nil
}
