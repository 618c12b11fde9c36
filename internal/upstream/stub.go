package upstream

import "context"

// Stub never resolves anything; wired wherever a component needs the
// internal/source.Index capability but policy says upstream lookups should
// be skipped (e.g. offline tests).
type Stub struct{}

func (Stub) RepositoryURL(ctx context.Context, base string) (string, bool, error) {
	return "", false, nil
}

func (Stub) Version(ctx context.Context, base string) (string, bool, error) {
	return "", false, nil
}
