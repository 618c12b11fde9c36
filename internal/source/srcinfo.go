package source

import (
	"bufio"
	"strings"

	"github.com/serene-build/serene/internal/store"
)

// parseSrcinfo parses the pacman .SRCINFO key-value format into
// store.RecipeMetadata. It only extracts the fields the core cares about:
// pkgbase, pkgver/pkgrel/epoch, one or more pkgname entries (members), arch,
// depends/makedepends/checkdepends (folded together, duplicates allowed),
// and source (VCS entries only).
//
// Grounded on the same well-known format autobuilder.go's caller expects
// distri's pkg.Proto build-recipe metadata to carry, adapted to pacman's key
// set instead of distri's textproto fields.
func parseSrcinfo(text string) store.RecipeMetadata {
	var m store.RecipeMetadata
	seenArch := map[string]bool{}

	sc := bufio.NewScanner(strings.NewReader(text))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)

		switch key {
		case "pkgbase":
			m.Base = value
		case "pkgname":
			m.Members = append(m.Members, value)
		case "pkgver":
			m.Version = value
		case "pkgrel":
			m.Release = value
		case "epoch":
			m.Epoch = value
		case "arch":
			if !seenArch[value] {
				seenArch[value] = true
				m.Arches = append(m.Arches, value)
			}
		case "depends", "makedepends", "checkdepends":
			m.Depends = append(m.Depends, stripVersionConstraint(value))
		case "source":
			if url, ok := vcsSourceURL(value); ok {
				m.Sources = append(m.Sources, url)
			}
		}
	}

	if m.Base == "" && len(m.Members) > 0 {
		m.Base = m.Members[0]
	}
	if len(m.Members) == 0 && m.Base != "" {
		m.Members = []string{m.Base}
	}
	return m
}

// vcsSourceURL recognizes a makepkg "source=()" entry pointing at a VCS
// checkout (the "git+https://..." convention) and returns the bare URL with
// any "#fragment" (branch/tag/commit pin) and "name::" prefix stripped.
func vcsSourceURL(entry string) (string, bool) {
	if idx := strings.Index(entry, "::"); idx > -1 {
		entry = entry[idx+2:]
	}
	if !strings.HasPrefix(entry, "git+") {
		return "", false
	}
	url := strings.TrimPrefix(entry, "git+")
	if idx := strings.IndexByte(url, '#'); idx > -1 {
		url = url[:idx]
	}
	return url, true
}

// stripVersionConstraint removes a trailing ">=1.2", "=1.0" etc from a
// dependency spec, leaving the bare package name the resolver graphs over.
func stripVersionConstraint(dep string) string {
	for _, sep := range []string{">=", "<=", "==", ">", "<", "="} {
		if idx := strings.Index(dep, sep); idx > -1 {
			return dep[:idx]
		}
	}
	return dep
}
