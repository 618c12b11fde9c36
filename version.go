package serene

import (
	"strconv"
	"strings"
)

const PackageExtension = ".pkg.tar.zst" // see /etc/makepkg.conf

// ArtifactName describes one built package file as it is named inside the
// on-disk repository, e.g. "hello-1:1.0-1-x86_64.pkg.tar.zst".
type ArtifactName struct {
	Member  string
	Epoch   string // empty if the recipe declares none
	Version string
	Release string
	Arch    string
}

// String builds the filename of the artifact, of the form
// member-[epoch:]version-release-arch.pkg.tar.zst
func (a ArtifactName) String() string {
	var b strings.Builder
	b.WriteString(a.Member)
	b.WriteByte('-')
	if a.Epoch != "" {
		b.WriteString(a.Epoch)
		b.WriteByte(':')
	}
	b.WriteString(a.Version)
	b.WriteByte('-')
	b.WriteString(a.Release)
	b.WriteByte('-')
	b.WriteString(a.Arch)
	b.WriteString(PackageExtension)
	return b.String()
}

// ParseArtifactName parses a filename produced by ArtifactName.String back
// into its components. It returns ok=false if filename does not look like a
// built package artifact.
func ParseArtifactName(filename string) (a ArtifactName, ok bool) {
	name := strings.TrimSuffix(filename, PackageExtension)
	if name == filename {
		return ArtifactName{}, false
	}

	parts := strings.Split(name, "-")
	if len(parts) < 4 {
		return ArtifactName{}, false
	}

	a.Arch = parts[len(parts)-1]
	a.Release = parts[len(parts)-2]
	verPart := parts[len(parts)-3]
	a.Member = strings.Join(parts[:len(parts)-3], "-")

	if idx := strings.IndexByte(verPart, ':'); idx > -1 {
		a.Epoch = verPart[:idx]
		a.Version = verPart[idx+1:]
	} else {
		a.Version = verPart
	}

	return a, true
}

// ReleaseLess reports whether the pkgrel of filenameA is numerically smaller
// than that of filenameB. Non-numeric releases always sort after numeric
// ones. Used only for presenting build history in chronological-ish order
// when release numbers are otherwise ambiguous.
func ReleaseLess(filenameA, filenameB string) bool {
	a, okA := ParseArtifactName(filenameA)
	b, okB := ParseArtifactName(filenameB)
	if !okA || !okB {
		return filenameA < filenameB
	}

	ra, errA := strconv.ParseInt(a.Release, 10, 64)
	rb, errB := strconv.ParseInt(b.Release, 10, 64)
	if errA != nil || errB != nil {
		return filenameA < filenameB
	}
	return ra < rb
}
