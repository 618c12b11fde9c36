// Package config holds the process-wide configuration record. It is read
// once from the environment at startup and then passed (or held as a
// read-only pointer) by every other component; nothing mutates it after
// Load returns.
package config

import (
	"os"
	"runtime"
	"strconv"
	"strings"

	"golang.org/x/xerrors"
)

// Config is the full set of knobs listed in spec §6. Zero value is never
// valid on its own; use Load or Default.
type Config struct {
	// AllowReads lets read endpoints bypass auth. The core never checks this
	// itself (auth is out of scope) but carries the value for the outer app.
	AllowReads bool

	// Architecture is the target architecture string, used to match against
	// a recipe's declared arch list and to pick which architecture's stock
	// distribution databases are synced for the resolver.
	Architecture string

	// RepositoryName is the distribution repository's name, e.g. "serene".
	RepositoryName string

	// SignKeyPassword optionally unlocks an encrypted signing private key.
	SignKeyPassword string

	// ScheduleDefault/ScheduleDevel/ScheduleImage are 6-field (seconds-first)
	// cron strings used as the fallback schedule for, respectively, normal
	// packages, devel packages, and the runner image pull.
	ScheduleDefault string
	ScheduleDevel   string
	ScheduleImage   string

	// ContainerPrefix names sandbox containers as <prefix><base>.
	ContainerPrefix string

	// RunnerImage is the sandbox image reference. May contain "{version}",
	// substituted with the running binary's build version.
	RunnerImage string

	// DockerURL optionally overrides the sandbox runner's connection target.
	// Empty means "use the platform default socket".
	DockerURL string

	// SyncMirror is a URL template ("{repo}", "{arch}" placeholders) used to
	// sync the stock distribution package databases the resolver reads.
	SyncMirror string

	// SyncRepos names the stock distribution repositories to sync against
	// SyncMirror (e.g. "core", "extra"), each substituted for "{repo}" in
	// turn; their union forms the resolver's DistroSet.
	SyncRepos []string

	// OwnRepositoryURL, if set, is handed to the sandbox as a repository the
	// build can pull just-published sibling packages from.
	OwnRepositoryURL string

	// ResolveBuildSequence disables the dependency resolver when false,
	// building packages in input order instead.
	ResolveBuildSequence bool

	// ResolveIgnoreFailed stops a failed build from cancelling its
	// dependents when true.
	ResolveIgnoreFailed bool

	// PruneImages prunes dangling images after every runner image update.
	PruneImages bool

	// DataDir is the root directory the store, repository, and sync cache
	// live under (spec says storage shape is free; this names where on disk
	// cmd/serened puts it).
	DataDir string

	// UpstreamToken/Owner/Repo address the upstream package index
	// repository (internal/upstream's GitHub-backed client). Token may be
	// empty for unauthenticated, rate-limited access.
	UpstreamToken string
	UpstreamOwner string
	UpstreamRepo  string

	// BootstrapSelf adds the CLI control-plane package from an inline recipe
	// on first run, if no package with that base exists yet. No build is
	// started for it at that point; it builds on its normal schedule.
	BootstrapSelf bool

	// MaxConcurrentBuilds bounds how many ready packages a session dispatches
	// at once (spec §4.7 says ready packages dispatch "in parallel" but
	// leaves any cap unspecified). 0 means unbounded.
	MaxConcurrentBuilds int

	// RemoveBase, if set, names a package to destroy (spec.md:39/270: stop
	// scheduling it, clean its sandbox container, strip its repository
	// entries, delete its logs and source tree, and delete its record) once
	// at startup, in place of the interactive "remove" command the CLI
	// non-goal places out of scope. The daemon exits immediately afterward
	// rather than proceeding to scheduling.
	RemoveBase string
}

// Default returns the configuration used when an environment variable is
// absent.
func Default() Config {
	return Config{
		AllowReads: false,

		Architecture:   runtime.GOARCH,
		RepositoryName: "serene",

		ScheduleDefault: "0 0 0 * * *", // 00:00 every day, scheduler's local time
		ScheduleDevel:   "0 0 0 * * *",
		ScheduleImage:   "0 0 0 * * *",

		ContainerPrefix: "serene-runner-",
		RunnerImage:     "ghcr.io/serene-build/runner:{version}",

		SyncRepos: []string{"core", "extra"},

		ResolveBuildSequence: true,

		DataDir: "/var/lib/serene",
	}
}

// Load reads the configuration from the process environment, falling back to
// Default for anything unset. A set but unparsable boolean or integer value
// makes Load return an error.
func Load() (Config, error) {
	cfg := Default()

	if v, ok := os.LookupEnv("ALLOW_READS"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return Config{}, xerrors.Errorf("parsing ALLOW_READS: %w", err)
		}
		cfg.AllowReads = b
	}

	if v, ok := os.LookupEnv("ARCH"); ok {
		cfg.Architecture = v
	}
	if v, ok := os.LookupEnv("NAME"); ok {
		cfg.RepositoryName = v
	}
	if v, ok := os.LookupEnv("SIGN_KEY_PASSWORD"); ok {
		cfg.SignKeyPassword = v
	}
	if v, ok := os.LookupEnv("OWN_REPOSITORY_URL"); ok {
		cfg.OwnRepositoryURL = v
	}

	if v, ok := os.LookupEnv("SCHEDULE_IMAGE"); ok {
		cfg.ScheduleImage = v
	}
	if v, ok := os.LookupEnv("SCHEDULE_DEVEL"); ok {
		cfg.ScheduleDevel = v
	} else if v, ok := os.LookupEnv("SCHEDULE"); ok {
		cfg.ScheduleDevel = v
	}
	if v, ok := os.LookupEnv("SCHEDULE"); ok {
		cfg.ScheduleDefault = v
	}

	if v, ok := os.LookupEnv("RUNNER_PREFIX"); ok {
		cfg.ContainerPrefix = v
	}
	if v, ok := os.LookupEnv("RUNNER_IMAGE"); ok {
		cfg.RunnerImage = v
	}
	if v, ok := os.LookupEnv("DOCKER_URL"); ok {
		cfg.DockerURL = v
	}
	if v, ok := os.LookupEnv("SYNC_MIRROR"); ok {
		cfg.SyncMirror = v
	}
	if v, ok := os.LookupEnv("SYNC_REPOS"); ok {
		cfg.SyncRepos = strings.Split(v, ",")
	}

	if v, ok := os.LookupEnv("RESOLVE_BUILD_SEQUENCE"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return Config{}, xerrors.Errorf("parsing RESOLVE_BUILD_SEQUENCE: %w", err)
		}
		cfg.ResolveBuildSequence = b
	}
	if v, ok := os.LookupEnv("RESOLVE_IGNORE_FAILED"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return Config{}, xerrors.Errorf("parsing RESOLVE_IGNORE_FAILED: %w", err)
		}
		cfg.ResolveIgnoreFailed = b
	}
	if v, ok := os.LookupEnv("PRUNE_IMAGES"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return Config{}, xerrors.Errorf("parsing PRUNE_IMAGES: %w", err)
		}
		cfg.PruneImages = b
	}

	if v, ok := os.LookupEnv("DATA_DIR"); ok {
		cfg.DataDir = v
	}
	if v, ok := os.LookupEnv("UPSTREAM_TOKEN"); ok {
		cfg.UpstreamToken = v
	}
	if v, ok := os.LookupEnv("UPSTREAM_OWNER"); ok {
		cfg.UpstreamOwner = v
	}
	if v, ok := os.LookupEnv("UPSTREAM_REPO"); ok {
		cfg.UpstreamRepo = v
	}
	if v, ok := os.LookupEnv("BOOTSTRAP_SELF"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return Config{}, xerrors.Errorf("parsing BOOTSTRAP_SELF: %w", err)
		}
		cfg.BootstrapSelf = b
	}
	if v, ok := os.LookupEnv("MAX_CONCURRENT_BUILDS"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, xerrors.Errorf("parsing MAX_CONCURRENT_BUILDS: %w", err)
		}
		cfg.MaxConcurrentBuilds = n
	}
	if v, ok := os.LookupEnv("REMOVE_BASE"); ok {
		cfg.RemoveBase = v
	}

	return cfg, nil
}
