package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseMode(t *testing.T) {
	tests := []struct {
		input    string
		expected Mode
		wantErr  bool
	}{
		{"FULL", ModeFull, false},
		{"full", ModeFull, false},
		{"dry-run", ModeDryRun, false},
		{"DRY_RUN", ModeDryRun, false},
		{"export-only", ModeExportOnly, false},
		{"bogus", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			mode, err := ParseMode(tt.input)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.expected, mode)
		})
	}
}

func TestLoadFromTOML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ghmigrate.toml")
	content := `
mode = "EXPORT_ONLY"
artifact_root = "/tmp/artifacts"
parallel_limit = 3

[source]
base_url = "https://gitlab.example.com"
project_path = "group/project"

[destination]
org = "acme"
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	t.Setenv("GITLAB_TOKEN", "glpat-test")
	cfg, err := Load(path)
	require.NoError(t, err)

	require.Equal(t, ModeExportOnly, cfg.Mode)
	require.Equal(t, "/tmp/artifacts", cfg.ArtifactRoot)
	require.Equal(t, 3, cfg.ParallelLimit)
	require.Equal(t, "https://gitlab.example.com", cfg.Source.BaseURL)
	require.Equal(t, "group/project", cfg.Source.ProjectPath)
	require.Equal(t, "glpat-test", cfg.Source.Token, "token comes from the environment, not the file")
	require.NotEmpty(t, cfg.RunID)
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("GITLAB_TOKEN", "")
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	require.Error(t, err, "explicit missing config file should error")
	_ = cfg
}

func TestApplyDefaults(t *testing.T) {
	cfg := &RunConfig{}
	cfg.applyDefaults()
	require.Equal(t, "https://gitlab.com", cfg.Source.BaseURL)
	require.Equal(t, "github.com", cfg.Destination.Host)
	require.NotEmpty(t, cfg.RunID)
	require.Contains(t, cfg.ArtifactRoot, cfg.RunID)
	require.Equal(t, 5, cfg.ParallelLimit)
	require.InDelta(t, 0.05, cfg.VerifyTolerance, 1e-9)
}

func TestValidate(t *testing.T) {
	cfg := &RunConfig{Mode: ModeExportOnly}
	cfg.applyDefaults()
	require.Error(t, cfg.Validate(), "missing source token")

	cfg.Source.Token = "tok"
	require.Error(t, cfg.Validate(), "missing scope")

	cfg.Source.ProjectPath = "group/proj"
	require.NoError(t, cfg.Validate(), "export-only needs no destination")

	cfg.Mode = ModeApply
	cfg.Destination.Token = ""
	require.Error(t, cfg.Validate(), "apply needs a destination token")

	cfg.Destination.Token = "ghtok"
	require.Error(t, cfg.Validate(), "apply needs a destination org")

	cfg.Destination.Org = "acme"
	require.NoError(t, cfg.Validate())
}

func TestGithubTarget(t *testing.T) {
	cfg := &RunConfig{Destination: DestinationConfig{Org: "acme"}}
	require.Equal(t, "acme/widget", cfg.GithubTarget("platform/tools/widget"))
	require.Equal(t, "acme/widget", cfg.GithubTarget("widget"))
}
