package store

import (
	"context"
	"time"
)

// Store is the persistence contract for Packages, Build Summaries, and Build
// Logs (spec §4.1). Every operation either fully succeeds or fails without
// partial commit.
type Store interface {
	PackageHas(ctx context.Context, base string) (bool, error)
	PackageFind(ctx context.Context, base string) (*Package, error)
	PackageFindAll(ctx context.Context) ([]Package, error)
	PackageSave(ctx context.Context, pkg Package) error
	PackageChangeSettings(ctx context.Context, base string, settings Settings) error
	PackageChangeSources(ctx context.Context, base string, src Source) error
	PackageDelete(ctx context.Context, base string) error

	SummarySave(ctx context.Context, s BuildSummary) error
	SummaryChange(ctx context.Context, s BuildSummary) error
	SummaryDelete(ctx context.Context, base string, startedAt time.Time) error
	SummaryFind(ctx context.Context, base string, startedAt time.Time) (*BuildSummary, error)
	SummaryFindAllFor(ctx context.Context, base string) ([]BuildSummary, error) // ordered by StartedAt desc
	SummaryFindLatestFor(ctx context.Context, base string) (*BuildSummary, error)
	SummaryFindLatestNFor(ctx context.Context, base string, n int) ([]BuildSummary, error)

	LogWrite(ctx context.Context, s BuildSummary, text string) error
	LogRead(ctx context.Context, s BuildSummary) (string, bool, error)
	LogClean(ctx context.Context, base string) error
}
