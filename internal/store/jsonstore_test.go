package store

import (
	"context"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/serene-build/serene/internal/archive"
)

// fakeSource is a minimal Source used only by these tests.
type fakeSource struct {
	URL   string `json:"url"`
	Devel bool   `json:"devel"`
}

func (f *fakeSource) Kind() string                                        { return "fake" }
func (f *fakeSource) Initialize(ctx context.Context, folder string) error { return nil }
func (f *fakeSource) UpdateAvailable(ctx context.Context) (bool, error)   { return false, nil }
func (f *fakeSource) Update(ctx context.Context, folder string) error     { return nil }
func (f *fakeSource) PackBuildInputs(ctx context.Context, folder string) (*archive.Input, error) {
	return nil, nil
}
func (f *fakeSource) ReadRecipe(ctx context.Context, folder string) (string, error) { return "", nil }
func (f *fakeSource) ReadMetadata(ctx context.Context, folder string) (*RecipeMetadata, error) {
	return nil, nil
}
func (f *fakeSource) IsDevel() bool      { return f.Devel }
func (f *fakeSource) StateToken() string { return f.URL }

func init() {
	RegisterSourceKind("fake", func() Source { return &fakeSource{} })
}

func TestJSONStorePackageRoundTrip(t *testing.T) {
	ctx := context.Background()
	s, err := NewJSONStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	version := "1.0"
	pkg := Package{
		Base:     "hello",
		Added:    time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		Source:   &fakeSource{URL: "https://example.com/hello.git"},
		Settings: Settings{Enabled: true, Flags: []string{"nocheck"}},
		Version:  &version,
	}

	if err := s.PackageSave(ctx, pkg); err != nil {
		t.Fatalf("PackageSave: %v", err)
	}

	has, err := s.PackageHas(ctx, "hello")
	if err != nil || !has {
		t.Fatalf("PackageHas = %v, %v, want true, nil", has, err)
	}

	got, err := s.PackageFind(ctx, "hello")
	if err != nil {
		t.Fatalf("PackageFind: %v", err)
	}
	if diff := cmp.Diff(pkg, *got); diff != "" {
		t.Fatalf("round trip mismatch (-want +got):\n%s", diff)
	}

	if err := s.PackageDelete(ctx, "hello"); err != nil {
		t.Fatalf("PackageDelete: %v", err)
	}
	has, err = s.PackageHas(ctx, "hello")
	if err != nil || has {
		t.Fatalf("PackageHas after delete = %v, %v, want false, nil", has, err)
	}
}

func TestJSONStoreSummaryOrdering(t *testing.T) {
	ctx := context.Background()
	s, err := NewJSONStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		sum := BuildSummary{
			Base:      "hello",
			StartedAt: base.Add(time.Duration(i) * time.Hour),
			State:     Success(),
			Reason:    ReasonSchedule,
		}
		if err := s.SummarySave(ctx, sum); err != nil {
			t.Fatalf("SummarySave: %v", err)
		}
	}

	all, err := s.SummaryFindAllFor(ctx, "hello")
	if err != nil {
		t.Fatalf("SummaryFindAllFor: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("len(all) = %d, want 3", len(all))
	}
	if !all[0].StartedAt.Equal(base.Add(2 * time.Hour)) {
		t.Fatalf("all[0].StartedAt = %v, want most recent first", all[0].StartedAt)
	}

	latest, err := s.SummaryFindLatestFor(ctx, "hello")
	if err != nil {
		t.Fatalf("SummaryFindLatestFor: %v", err)
	}
	if !latest.StartedAt.Equal(base.Add(2 * time.Hour)) {
		t.Fatalf("latest.StartedAt = %v, want most recent", latest.StartedAt)
	}
}

func TestJSONStoreLogWriteRead(t *testing.T) {
	ctx := context.Background()
	s, err := NewJSONStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	sum := BuildSummary{Base: "hello", StartedAt: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	if err := s.LogWrite(ctx, sum, "building...\ndone\n"); err != nil {
		t.Fatalf("LogWrite: %v", err)
	}

	text, ok, err := s.LogRead(ctx, sum)
	if err != nil || !ok {
		t.Fatalf("LogRead = %q, %v, %v", text, ok, err)
	}
	if text != "building...\ndone\n" {
		t.Fatalf("LogRead = %q, want original contents", text)
	}

	if err := s.LogClean(ctx, "hello"); err != nil {
		t.Fatalf("LogClean: %v", err)
	}
	_, ok, err = s.LogRead(ctx, sum)
	if err != nil || ok {
		t.Fatalf("LogRead after clean = %v, %v, want false, nil", ok, err)
	}
}
