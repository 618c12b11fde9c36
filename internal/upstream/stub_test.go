package upstream

import (
	"context"
	"testing"
)

func TestStubNeverResolves(t *testing.T) {
	ctx := context.Background()
	var s Stub

	if _, ok, err := s.RepositoryURL(ctx, "hello"); ok || err != nil {
		t.Fatalf("RepositoryURL = ok:%v err:%v, want ok:false err:nil", ok, err)
	}
	if _, ok, err := s.Version(ctx, "hello"); ok || err != nil {
		t.Fatalf("Version = ok:%v err:%v, want ok:false err:nil", ok, err)
	}
}
