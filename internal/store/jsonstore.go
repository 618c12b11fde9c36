package store

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/renameio"
	"golang.org/x/xerrors"
)

// JSONStore is the reference Store implementation: one JSON file per
// Package, one per BuildSummary, and a plain-text log file per completed
// build, all written atomically via renameio the way the teacher persists
// its squashfs images (internal/build/build.go).
//
// Layout, rooted at Dir:
//
//	packages/<base>.json
//	summaries/<base>/<RFC3339 started_at>.json
//	logs/<base>/<RFC3339 started_at>.log
//	sources/<base>/ — cloned recipe trees (spec §6)
type JSONStore struct {
	Dir string
}

// NewJSONStore returns a Store rooted at dir, creating the directory
// skeleton if absent.
func NewJSONStore(dir string) (*JSONStore, error) {
	s := &JSONStore{Dir: dir}
	for _, sub := range []string{"packages", "summaries", "logs", "sources"} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0o755); err != nil {
			return nil, xerrors.Errorf("creating %s: %w", sub, err)
		}
	}
	return s, nil
}

func (s *JSONStore) packagePath(base string) string {
	return filepath.Join(s.Dir, "packages", base+".json")
}

// SourceFolder returns the cloned recipe tree path for base, the "folder"
// argument every Source method takes.
func (s *JSONStore) SourceFolder(base string) string {
	return filepath.Join(s.Dir, "sources", base)
}

func (s *JSONStore) summaryDir(base string) string {
	return filepath.Join(s.Dir, "summaries", base)
}

func (s *JSONStore) summaryPath(base string, startedAt time.Time) string {
	return filepath.Join(s.summaryDir(base), startedAt.UTC().Format(time.RFC3339)+".json")
}

func (s *JSONStore) logDir(base string) string {
	return filepath.Join(s.Dir, "logs", base)
}

func (s *JSONStore) logPath(summary BuildSummary) string {
	return filepath.Join(s.logDir(summary.Base), summary.StartedAt.UTC().Format(time.RFC3339)+".log")
}

func writeAtomic(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return xerrors.Errorf("creating %s: %w", filepath.Dir(path), err)
	}
	return renameio.WriteFile(path, data, 0o644)
}

// packageRecord is the on-disk shape of a Package: the polymorphic Source is
// encoded separately via its envelope so json.Marshal doesn't need to know
// about concrete source kinds.
type packageRecord struct {
	Package
	SourceEnvelope json.RawMessage `json:"source"`
}

func encodePackage(p Package) ([]byte, error) {
	env, err := MarshalSource(p.Source)
	if err != nil {
		return nil, err
	}
	return json.MarshalIndent(packageRecord{Package: p, SourceEnvelope: env}, "", "  ")
}

func decodePackage(data []byte) (Package, error) {
	var rec packageRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return Package{}, xerrors.Errorf("unmarshaling package: %w", err)
	}
	src, err := UnmarshalSource(rec.SourceEnvelope)
	if err != nil {
		return Package{}, err
	}
	rec.Package.Source = src
	return rec.Package, nil
}

func (s *JSONStore) PackageHas(ctx context.Context, base string) (bool, error) {
	_, err := os.Stat(s.packagePath(base))
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *JSONStore) PackageFind(ctx context.Context, base string) (*Package, error) {
	data, err := os.ReadFile(s.packagePath(base))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, xerrors.Errorf("reading package %s: %w", base, err)
	}
	pkg, err := decodePackage(data)
	if err != nil {
		return nil, err
	}
	return &pkg, nil
}

func (s *JSONStore) PackageFindAll(ctx context.Context) ([]Package, error) {
	entries, err := os.ReadDir(filepath.Join(s.Dir, "packages"))
	if err != nil {
		return nil, xerrors.Errorf("listing packages: %w", err)
	}
	var pkgs []Package
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".json" {
			continue
		}
		base := e.Name()[:len(e.Name())-len(".json")]
		pkg, err := s.PackageFind(ctx, base)
		if err != nil {
			return nil, err
		}
		if pkg != nil {
			pkgs = append(pkgs, *pkg)
		}
	}
	sort.Slice(pkgs, func(i, j int) bool { return pkgs[i].Base < pkgs[j].Base })
	return pkgs, nil
}

func (s *JSONStore) PackageSave(ctx context.Context, pkg Package) error {
	data, err := encodePackage(pkg)
	if err != nil {
		return err
	}
	return writeAtomic(s.packagePath(pkg.Base), data)
}

func (s *JSONStore) PackageChangeSettings(ctx context.Context, base string, settings Settings) error {
	pkg, err := s.PackageFind(ctx, base)
	if err != nil {
		return err
	}
	if pkg == nil {
		return xerrors.Errorf("package %s not found", base)
	}
	pkg.Settings = settings
	return s.PackageSave(ctx, *pkg)
}

func (s *JSONStore) PackageChangeSources(ctx context.Context, base string, src Source) error {
	pkg, err := s.PackageFind(ctx, base)
	if err != nil {
		return err
	}
	if pkg == nil {
		return xerrors.Errorf("package %s not found", base)
	}
	pkg.Source = src
	return s.PackageSave(ctx, *pkg)
}

func (s *JSONStore) PackageDelete(ctx context.Context, base string) error {
	err := os.Remove(s.packagePath(base))
	if err != nil && !os.IsNotExist(err) {
		return xerrors.Errorf("deleting package %s: %w", base, err)
	}
	return nil
}

func (s *JSONStore) SummarySave(ctx context.Context, sum BuildSummary) error {
	data, err := json.MarshalIndent(sum, "", "  ")
	if err != nil {
		return xerrors.Errorf("marshaling summary: %w", err)
	}
	return writeAtomic(s.summaryPath(sum.Base, sum.StartedAt), data)
}

// SummaryChange has the same persistence semantics as SummarySave; it is a
// distinct method because the Store contract (spec §4.1) names both a
// "save" (creation) and a "change" (update) operation even though this
// implementation's storage shape makes them identical.
func (s *JSONStore) SummaryChange(ctx context.Context, sum BuildSummary) error {
	return s.SummarySave(ctx, sum)
}

func (s *JSONStore) SummaryDelete(ctx context.Context, base string, startedAt time.Time) error {
	err := os.Remove(s.summaryPath(base, startedAt))
	if err != nil && !os.IsNotExist(err) {
		return xerrors.Errorf("deleting summary: %w", err)
	}
	return nil
}

func (s *JSONStore) SummaryFind(ctx context.Context, base string, startedAt time.Time) (*BuildSummary, error) {
	data, err := os.ReadFile(s.summaryPath(base, startedAt))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, xerrors.Errorf("reading summary: %w", err)
	}
	var sum BuildSummary
	if err := json.Unmarshal(data, &sum); err != nil {
		return nil, xerrors.Errorf("unmarshaling summary: %w", err)
	}
	return &sum, nil
}

func (s *JSONStore) SummaryFindAllFor(ctx context.Context, base string) ([]BuildSummary, error) {
	entries, err := os.ReadDir(s.summaryDir(base))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, xerrors.Errorf("listing summaries for %s: %w", base, err)
	}
	var sums []BuildSummary
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		data, err := os.ReadFile(filepath.Join(s.summaryDir(base), e.Name()))
		if err != nil {
			return nil, xerrors.Errorf("reading %s: %w", e.Name(), err)
		}
		var sum BuildSummary
		if err := json.Unmarshal(data, &sum); err != nil {
			return nil, xerrors.Errorf("unmarshaling %s: %w", e.Name(), err)
		}
		sums = append(sums, sum)
	}
	sort.Slice(sums, func(i, j int) bool { return sums[i].StartedAt.After(sums[j].StartedAt) })
	return sums, nil
}

func (s *JSONStore) SummaryFindLatestFor(ctx context.Context, base string) (*BuildSummary, error) {
	sums, err := s.SummaryFindAllFor(ctx, base)
	if err != nil {
		return nil, err
	}
	if len(sums) == 0 {
		return nil, nil
	}
	return &sums[0], nil
}

func (s *JSONStore) SummaryFindLatestNFor(ctx context.Context, base string, n int) ([]BuildSummary, error) {
	sums, err := s.SummaryFindAllFor(ctx, base)
	if err != nil {
		return nil, err
	}
	if len(sums) > n {
		sums = sums[:n]
	}
	return sums, nil
}

func (s *JSONStore) LogWrite(ctx context.Context, sum BuildSummary, text string) error {
	return writeAtomic(s.logPath(sum), []byte(text))
}

func (s *JSONStore) LogRead(ctx context.Context, sum BuildSummary) (string, bool, error) {
	data, err := os.ReadFile(s.logPath(sum))
	if os.IsNotExist(err) {
		return "", false, nil
	}
	if err != nil {
		return "", false, xerrors.Errorf("reading log: %w", err)
	}
	return string(data), true, nil
}

func (s *JSONStore) LogClean(ctx context.Context, base string) error {
	err := os.RemoveAll(s.logDir(base))
	if err != nil {
		return xerrors.Errorf("cleaning logs for %s: %w", base, err)
	}
	return os.RemoveAll(s.summaryDir(base))
}

var _ Store = (*JSONStore)(nil)
