package resolve

import (
	"archive/tar"
	"bufio"
	"io"
	"strings"

	"golang.org/x/xerrors"
)

// DistroSet is the set of package (and provided-name) identifiers available
// in the stock distribution databases synced via internal/syncdb, read-only
// input to the resolver.
type DistroSet map[string]struct{}

// Has reports whether name is provided by the distribution.
func (s DistroSet) Has(name string) bool {
	_, ok := s[name]
	return ok
}

// ParseDistroDB reads a pacman-format repository database (a tar stream of
// "<pkgname>-<version>/desc" entries) and collects every %NAME% and
// %PROVIDES% value it declares.
func ParseDistroDB(r io.Reader) (DistroSet, error) {
	set := DistroSet{}
	tr := tar.NewReader(r)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, xerrors.Errorf("reading distribution database: %w", err)
		}
		if hdr.Typeflag != tar.TypeReg || !strings.HasSuffix(hdr.Name, "/desc") {
			continue
		}

		sc := bufio.NewScanner(tr)
		var field string
		for sc.Scan() {
			line := sc.Text()
			switch {
			case line == "%NAME%" || line == "%PROVIDES%":
				field = line
			case line == "":
				field = ""
			case field == "%NAME%":
				set[line] = struct{}{}
			case field == "%PROVIDES%":
				set[stripProvidesVersion(line)] = struct{}{}
			}
		}
		if err := sc.Err(); err != nil {
			return nil, xerrors.Errorf("reading %s: %w", hdr.Name, err)
		}
	}
	return set, nil
}

// stripProvidesVersion removes a trailing "=1.2.3" pin from a %PROVIDES%
// entry, leaving the bare provided name.
func stripProvidesVersion(entry string) string {
	if idx := strings.IndexByte(entry, '='); idx > -1 {
		return entry[:idx]
	}
	return entry
}
