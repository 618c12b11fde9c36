package broadcast

import (
	"context"
	"testing"
	"time"

	"github.com/serene-build/serene/internal/store"
)

func TestPublishLogFanOut(t *testing.T) {
	dir := t.TempDir()
	st, err := store.NewJSONStore(dir)
	if err != nil {
		t.Fatal(err)
	}

	h := New(st)
	defer h.Close()

	ctx := context.Background()
	sub := h.Subscribe(ctx, "hello")
	defer sub.Close()

	h.PublishLog("hello", "building...")

	select {
	case e := <-sub.C:
		if e.Kind != EventLog || e.Text != "building..." {
			t.Fatalf("got %+v, want log event", e)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for log event")
	}
}

func TestPublishChangeFanOut(t *testing.T) {
	dir := t.TempDir()
	st, err := store.NewJSONStore(dir)
	if err != nil {
		t.Fatal(err)
	}

	h := New(st)
	defer h.Close()

	ctx := context.Background()
	sub := h.Subscribe(ctx, "hello")
	defer sub.Close()

	h.PublishChange("hello", store.Success())

	select {
	case e := <-sub.C:
		if e.Kind != EventChange || e.State.Kind != store.StateSuccess {
			t.Fatalf("got %+v, want success change event", e)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for change event")
	}
}

func TestSubscribeCatchesUpFromStoredLog(t *testing.T) {
	dir := t.TempDir()
	st, err := store.NewJSONStore(dir)
	if err != nil {
		t.Fatal(err)
	}

	ctx := context.Background()
	sum := store.BuildSummary{Base: "hello", StartedAt: time.Now(), State: store.Success()}
	if err := st.SummarySave(ctx, sum); err != nil {
		t.Fatal(err)
	}
	if err := st.LogWrite(ctx, sum, "done\n"); err != nil {
		t.Fatal(err)
	}

	h := New(st)
	defer h.Close()

	sub := h.Subscribe(ctx, "hello")
	defer sub.Close()

	var gotLog, gotEnd bool
	for i := 0; i < 2; i++ {
		select {
		case e := <-sub.C:
			if e.Kind == EventLog {
				gotLog = true
			}
			if e.Kind == EventBuildEnd {
				gotEnd = true
			}
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for catch-up events")
		}
	}
	if !gotLog || !gotEnd {
		t.Fatalf("gotLog=%v gotEnd=%v, want both true", gotLog, gotEnd)
	}
}
