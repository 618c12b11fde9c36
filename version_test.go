package serene

import "testing"

func TestArtifactNameString(t *testing.T) {
	for _, tt := range []struct {
		name string
		a    ArtifactName
		want string
	}{
		{
			name: "no epoch",
			a:    ArtifactName{Member: "hello", Version: "1.0", Release: "1", Arch: "x86_64"},
			want: "hello-1.0-1-x86_64.pkg.tar.zst",
		},
		{
			name: "with epoch",
			a:    ArtifactName{Member: "hello", Epoch: "1", Version: "1.0", Release: "1", Arch: "x86_64"},
			want: "hello-1:1.0-1-x86_64.pkg.tar.zst",
		},
		{
			name: "hyphenated member and any arch",
			a:    ArtifactName{Member: "python-requests", Version: "2.31.0", Release: "3", Arch: "any"},
			want: "python-requests-2.31.0-3-any.pkg.tar.zst",
		},
	} {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.a.String(); got != tt.want {
				t.Fatalf("String() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestParseArtifactName(t *testing.T) {
	for _, tt := range []struct {
		filename string
		want     ArtifactName
		wantOK   bool
	}{
		{
			filename: "hello-1.0-1-x86_64.pkg.tar.zst",
			want:     ArtifactName{Member: "hello", Version: "1.0", Release: "1", Arch: "x86_64"},
			wantOK:   true,
		},
		{
			filename: "hello-1:1.0-1-x86_64.pkg.tar.zst",
			want:     ArtifactName{Member: "hello", Epoch: "1", Version: "1.0", Release: "1", Arch: "x86_64"},
			wantOK:   true,
		},
		{
			filename: "python-requests-2.31.0-3-any.pkg.tar.zst",
			want:     ArtifactName{Member: "python-requests", Version: "2.31.0", Release: "3", Arch: "any"},
			wantOK:   true,
		},
		{
			filename: "not-an-artifact.txt",
			wantOK:   false,
		},
	} {
		t.Run(tt.filename, func(t *testing.T) {
			got, ok := ParseArtifactName(tt.filename)
			if ok != tt.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tt.wantOK)
			}
			if !ok {
				return
			}
			if got != tt.want {
				t.Fatalf("ParseArtifactName(%q) = %#v, want %#v", tt.filename, got, tt.want)
			}
		})
	}
}

func TestReleaseLess(t *testing.T) {
	for _, tt := range []struct {
		a, b string
		want bool
	}{
		{
			a:    "hello-1.0-1-x86_64.pkg.tar.zst",
			b:    "hello-1.0-2-x86_64.pkg.tar.zst",
			want: true,
		},
		{
			a:    "hello-1.0-10-x86_64.pkg.tar.zst",
			b:    "hello-1.0-2-x86_64.pkg.tar.zst",
			want: false,
		},
	} {
		t.Run(tt.a+"_"+tt.b, func(t *testing.T) {
			if got := ReleaseLess(tt.a, tt.b); got != tt.want {
				t.Errorf("ReleaseLess(%s, %s) = %v, want %v", tt.a, tt.b, got, tt.want)
			}
		})
	}
}

func TestSelectArch(t *testing.T) {
	for _, tt := range []struct {
		name       string
		configured string
		arches     []string
		want       string
	}{
		{name: "supported", configured: "x86_64", arches: []string{"x86_64", "aarch64"}, want: "x86_64"},
		{name: "unsupported falls back to any", configured: "x86_64", arches: []string{"aarch64"}, want: "any"},
		{name: "already any", configured: "x86_64", arches: []string{"any"}, want: "any"},
	} {
		t.Run(tt.name, func(t *testing.T) {
			if got := SelectArch(tt.configured, tt.arches); got != tt.want {
				t.Fatalf("SelectArch(%q, %v) = %q, want %q", tt.configured, tt.arches, got, tt.want)
			}
		})
	}
}
