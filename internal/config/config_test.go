package config

import (
	"reflect"
	"testing"
)

func TestLoadFallsBackToDefault(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(cfg, Default()) {
		t.Fatalf("Load() with no env set = %+v, want %+v", cfg, Default())
	}
}

func TestLoadOverridesFromEnv(t *testing.T) {
	t.Setenv("ARCH", "aarch64")
	t.Setenv("NAME", "mydistro")
	t.Setenv("SYNC_MIRROR", "https://mirror.example/{repo}/os/{arch}")
	t.Setenv("SYNC_REPOS", "core,extra,community")
	t.Setenv("RESOLVE_BUILD_SEQUENCE", "false")
	t.Setenv("PRUNE_IMAGES", "true")
	t.Setenv("REMOVE_BASE", "stale-package")

	cfg, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Architecture != "aarch64" {
		t.Errorf("Architecture = %q, want aarch64", cfg.Architecture)
	}
	if cfg.RepositoryName != "mydistro" {
		t.Errorf("RepositoryName = %q, want mydistro", cfg.RepositoryName)
	}
	want := []string{"core", "extra", "community"}
	if !reflect.DeepEqual(cfg.SyncRepos, want) {
		t.Errorf("SyncRepos = %v, want %v", cfg.SyncRepos, want)
	}
	if cfg.ResolveBuildSequence {
		t.Error("ResolveBuildSequence should be false")
	}
	if !cfg.PruneImages {
		t.Error("PruneImages should be true")
	}
	if cfg.RemoveBase != "stale-package" {
		t.Errorf("RemoveBase = %q, want stale-package", cfg.RemoveBase)
	}
}

func TestLoadRejectsInvalidBool(t *testing.T) {
	t.Setenv("ALLOW_READS", "not-a-bool")
	if _, err := Load(); err == nil {
		t.Fatal("expected an error for an unparsable ALLOW_READS")
	}
}

func TestScheduleFallsBackFromGenericSchedule(t *testing.T) {
	t.Setenv("SCHEDULE", "0 30 4 * * *")
	cfg, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.ScheduleDefault != "0 30 4 * * *" {
		t.Errorf("ScheduleDefault = %q, want the generic SCHEDULE value", cfg.ScheduleDefault)
	}
	if cfg.ScheduleDevel != "0 30 4 * * *" {
		t.Errorf("ScheduleDevel = %q, want the generic SCHEDULE value", cfg.ScheduleDevel)
	}
	if cfg.ScheduleImage != Default().ScheduleImage {
		t.Errorf("ScheduleImage should stay at its default when only SCHEDULE is set")
	}
}
