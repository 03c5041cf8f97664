// Package config resolves the migration run configuration from, in priority
// order, CLI flags, an optional TOML config file, and environment variables.
// The snapshot embedded in a run is always the resolved, merged view.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/cli/go-gh/v2/pkg/auth"
	"github.com/google/uuid"

	"github.com/forgemove/ghmigrate/pkg/constants"
	"github.com/forgemove/ghmigrate/pkg/logger"
)

var log = logger.New("config:config")

// DefaultFileName is the config file looked up in the working directory when
// no explicit --config path is given.
const DefaultFileName = "ghmigrate.toml"

// Mode selects which stages a run executes.
type Mode string

const (
	ModeDiscoverOnly  Mode = "DISCOVER_ONLY"
	ModeExportOnly    Mode = "EXPORT_ONLY"
	ModeTransformOnly Mode = "TRANSFORM_ONLY"
	ModePlanOnly      Mode = "PLAN_ONLY"
	ModeDryRun        Mode = "DRY_RUN"
	ModeApply         Mode = "APPLY"
	ModeVerify        Mode = "VERIFY"
	ModeFull          Mode = "FULL"
	ModeSingleProject Mode = "SINGLE_PROJECT"
)

// ValidModes lists every recognized run mode.
var ValidModes = []Mode{
	ModeDiscoverOnly, ModeExportOnly, ModeTransformOnly, ModePlanOnly,
	ModeDryRun, ModeApply, ModeVerify, ModeFull, ModeSingleProject,
}

// ParseMode validates a mode string (case-insensitive, dashes allowed).
func ParseMode(s string) (Mode, error) {
	normalized := Mode(strings.ToUpper(strings.ReplaceAll(s, "-", "_")))
	for _, m := range ValidModes {
		if normalized == m {
			return m, nil
		}
	}
	return "", fmt.Errorf("unknown mode %q (valid: %v)", s, ValidModes)
}

// RunConfig is the resolved configuration for one migration run.
type RunConfig struct {
	RunID        string `toml:"run_id"`
	Mode         Mode   `toml:"mode"`
	ArtifactRoot string `toml:"artifact_root"`

	Source      SourceConfig      `toml:"source"`
	Destination DestinationConfig `toml:"destination"`

	// Resume restarts a run at the first incomplete stage and, within
	// export, at the first incomplete component.
	Resume bool `toml:"resume"`

	// ParallelLimit bounds concurrent project pipelines in batch mode.
	ParallelLimit int `toml:"parallel_limit"`

	// VerifyTolerance is the relative slack on numeric verify comparisons.
	VerifyTolerance float64 `toml:"verify_tolerance"`
}

// SourceConfig identifies the GitLab-shaped source forge.
type SourceConfig struct {
	BaseURL     string `toml:"base_url"`
	Token       string `toml:"-"` // never read from or written to disk
	GroupPath   string `toml:"group_path"`
	ProjectPath string `toml:"project_path"`
	ProjectID   int    `toml:"project_id"`
}

// DestinationConfig identifies the GitHub-shaped destination forge.
type DestinationConfig struct {
	Host  string `toml:"host"`
	Org   string `toml:"org"`
	Token string `toml:"-"` // never read from or written to disk
}

// Load resolves the configuration: the TOML file (if present) supplies
// defaults, the environment supplies credentials, and the caller merges CLI
// flags on top afterwards.
func Load(path string) (*RunConfig, error) {
	cfg := &RunConfig{
		Mode:            ModeFull,
		ParallelLimit:   constants.DefaultParallelLimit,
		VerifyTolerance: constants.DefaultVerifyTolerance,
	}

	if path == "" {
		if _, err := os.Stat(DefaultFileName); err == nil {
			path = DefaultFileName
		}
	}
	if path != "" {
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
		log.Printf("Loaded config file: %s", path)
	}

	cfg.applyEnvironment()
	cfg.applyDefaults()
	return cfg, nil
}

// applyEnvironment pulls credentials and endpoint overrides from the
// environment. Tokens only ever travel through env or flags, never the file.
func (c *RunConfig) applyEnvironment() {
	if v := os.Getenv("GITLAB_TOKEN"); v != "" {
		c.Source.Token = v
	}
	if v := os.Getenv("GITLAB_URL"); v != "" && c.Source.BaseURL == "" {
		c.Source.BaseURL = v
	}
	if c.Destination.Token == "" {
		// Resolution order: GH_TOKEN, GITHUB_TOKEN, then the gh CLI's own
		// stored credentials for the host.
		host := c.Destination.Host
		if host == "" {
			host = "github.com"
		}
		token, source := auth.TokenForHost(host)
		if token != "" {
			log.Printf("Resolved destination token from %s", source)
			c.Destination.Token = token
		}
	}
}

func (c *RunConfig) applyDefaults() {
	if c.Source.BaseURL == "" {
		c.Source.BaseURL = "https://gitlab.com"
	}
	if c.Destination.Host == "" {
		c.Destination.Host = "github.com"
	}
	if c.RunID == "" {
		c.RunID = uuid.NewString()
	}
	if c.ArtifactRoot == "" {
		c.ArtifactRoot = filepath.Join("migration-artifacts", c.RunID)
	}
	if c.ParallelLimit <= 0 {
		c.ParallelLimit = constants.DefaultParallelLimit
	}
	if c.VerifyTolerance <= 0 {
		c.VerifyTolerance = constants.DefaultVerifyTolerance
	}
}

// Validate checks that the configuration is sufficient for the given mode.
func (c *RunConfig) Validate() error {
	if c.Source.Token == "" {
		return fmt.Errorf("source token missing: set GITLAB_TOKEN or pass --gitlab-token")
	}
	needsDest := c.Mode == ModeApply || c.Mode == ModeDryRun || c.Mode == ModeVerify || c.Mode == ModeFull
	if needsDest && c.Destination.Token == "" {
		return fmt.Errorf("destination token missing: set GITHUB_TOKEN or run 'gh auth login'")
	}
	if needsDest && c.Destination.Org == "" {
		return fmt.Errorf("destination organization missing: set destination.org or pass --github-org")
	}
	if c.Source.GroupPath == "" && c.Source.ProjectPath == "" && c.Source.ProjectID == 0 {
		return fmt.Errorf("no scope: set source.group_path, source.project_path, or source.project_id")
	}
	return nil
}

// GithubTarget derives the destination repo slug for a source project path:
// the configured org plus the last path segment.
func (c *RunConfig) GithubTarget(projectPath string) string {
	segments := strings.Split(projectPath, "/")
	name := segments[len(segments)-1]
	return c.Destination.Org + "/" + name
}
