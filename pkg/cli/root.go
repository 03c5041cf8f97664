// Package cli is the ghmigrate command tree: one subcommand per run mode,
// plus batch and rollback. Exit codes: 0 success, 1 partial, 2 failed,
// 3 bad input.
package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/forgemove/ghmigrate/pkg/config"
	"github.com/forgemove/ghmigrate/pkg/console"
	"github.com/forgemove/ghmigrate/pkg/constants"
	"github.com/forgemove/ghmigrate/pkg/logger"
)

var log = logger.New("cli:root")

// Exit codes per the CLI contract.
const (
	ExitSuccess  = 0
	ExitPartial  = 1
	ExitFailed   = 2
	ExitBadInput = 3
)

// exitError carries a process exit code through cobra's error path.
type exitError struct {
	code int
	msg  string
}

func (e *exitError) Error() string { return e.msg }

// flags shared by every mode command.
type rootFlags struct {
	configPath   string
	gitlabURL    string
	gitlabToken  string
	githubOrg    string
	githubToken  string
	project      string
	group        string
	artifactRoot string
	runID        string
	resume       bool
	inputs       []string
	inputsFile   string
	jsonOut      bool
}

// NewRootCmd builds the ghmigrate command tree.
func NewRootCmd() *cobra.Command {
	flags := &rootFlags{}

	root := &cobra.Command{
		Use:           constants.CLIName,
		Short:         "Migrate repository-hosting projects from GitLab to GitHub",
		Long:          "ghmigrate migrates projects from a GitLab-shaped source forge to a GitHub-shaped destination: code, issues, merge requests, CI pipelines, wikis, releases, protections, and webhooks, through a resumable staged pipeline.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&flags.configPath, "config", "", "path to ghmigrate.toml")
	root.PersistentFlags().StringVar(&flags.gitlabURL, "gitlab-url", "", "source forge base URL")
	root.PersistentFlags().StringVar(&flags.gitlabToken, "gitlab-token", "", "source forge token (prefer GITLAB_TOKEN)")
	root.PersistentFlags().StringVar(&flags.githubOrg, "github-org", "", "destination organization")
	root.PersistentFlags().StringVar(&flags.githubToken, "github-token", "", "destination token (prefer GITHUB_TOKEN or gh auth)")
	root.PersistentFlags().StringVar(&flags.project, "project", "", "source project path (group/project)")
	root.PersistentFlags().StringVar(&flags.group, "group", "", "source group path")
	root.PersistentFlags().StringVar(&flags.artifactRoot, "artifact-root", "", "artifact tree root directory")
	root.PersistentFlags().StringVar(&flags.runID, "run-id", "", "run identifier (defaults to a new UUID)")
	root.PersistentFlags().BoolVar(&flags.resume, "resume", false, "resume from checkpoints where possible")
	root.PersistentFlags().StringArrayVar(&flags.inputs, "input", nil, "user input as key=value (repeatable)")
	root.PersistentFlags().StringVar(&flags.inputsFile, "inputs-file", "", "JSON file of user inputs")
	root.PersistentFlags().BoolVar(&flags.jsonOut, "json", false, "emit machine-readable JSON instead of rendered output")

	root.AddGroup(
		&cobra.Group{ID: "inspect", Title: "Inspection Commands:"},
		&cobra.Group{ID: "migrate", Title: "Migration Commands:"},
		&cobra.Group{ID: "recover", Title: "Recovery Commands:"},
	)

	modes := []struct {
		use   string
		short string
		mode  config.Mode
		group string
	}{
		{"discover", "Inventory source projects and assess migration readiness", config.ModeDiscoverOnly, "inspect"},
		{"export", "Extract every project component into the artifact tree", config.ModeExportOnly, "inspect"},
		{"transform", "Convert exported data into destination-ready form", config.ModeTransformOnly, "inspect"},
		{"plan", "Build the migration action plan", config.ModePlanOnly, "inspect"},
		{"dry-run", "Simulate the plan against the destination without writing", config.ModeDryRun, "migrate"},
		{"apply", "Execute the migration plan against the destination", config.ModeApply, "migrate"},
		{"verify", "Compare the destination against the expected state", config.ModeVerify, "migrate"},
		{"full", "Run the complete pipeline: discover through verify", config.ModeFull, "migrate"},
	}
	for _, m := range modes {
		root.AddCommand(newModeCommand(flags, m.use, m.short, m.mode, m.group))
	}
	root.AddCommand(newBatchCommand(flags))
	root.AddCommand(newRollbackCommand(flags))

	return root
}

// Execute runs the command tree and returns the process exit code.
func Execute() int {
	root := NewRootCmd()
	if err := root.Execute(); err != nil {
		var exit *exitError
		if errors.As(err, &exit) {
			if exit.msg != "" {
				fmt.Fprintln(os.Stderr, console.FormatErrorMessage(exit.msg))
			}
			return exit.code
		}
		fmt.Fprintln(os.Stderr, console.FormatErrorMessage(err.Error()))
		return ExitBadInput
	}
	return ExitSuccess
}
