package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/forgemove/ghmigrate/pkg/config"
	"github.com/forgemove/ghmigrate/pkg/console"
	"github.com/forgemove/ghmigrate/pkg/destclient"
	"github.com/forgemove/ghmigrate/pkg/pipeline"
	"github.com/forgemove/ghmigrate/pkg/pipeline/plan"
	"github.com/forgemove/ghmigrate/pkg/pipeline/transform"
	"github.com/forgemove/ghmigrate/pkg/ratelimit"
	"github.com/forgemove/ghmigrate/pkg/sourceclient"
)

func newModeCommand(flags *rootFlags, use, short string, mode config.Mode, group string) *cobra.Command {
	return &cobra.Command{
		Use:     use,
		Short:   short,
		GroupID: group,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runMode(cmd.Context(), flags, mode)
		},
	}
}

// resolveConfig merges the config file, environment, and CLI flags.
func resolveConfig(flags *rootFlags, mode config.Mode) (*config.RunConfig, error) {
	cfg, err := config.Load(flags.configPath)
	if err != nil {
		return nil, &exitError{code: ExitBadInput, msg: err.Error()}
	}
	cfg.Mode = mode
	if flags.gitlabURL != "" {
		cfg.Source.BaseURL = flags.gitlabURL
	}
	if flags.gitlabToken != "" {
		cfg.Source.Token = flags.gitlabToken
	}
	if flags.githubOrg != "" {
		cfg.Destination.Org = flags.githubOrg
	}
	if flags.githubToken != "" {
		cfg.Destination.Token = flags.githubToken
	}
	if flags.project != "" {
		cfg.Source.ProjectPath = flags.project
	}
	if flags.group != "" {
		cfg.Source.GroupPath = flags.group
	}
	if flags.artifactRoot != "" {
		cfg.ArtifactRoot = flags.artifactRoot
	}
	if flags.runID != "" {
		cfg.RunID = flags.runID
	}
	if flags.resume {
		cfg.Resume = true
	}
	if err := cfg.Validate(); err != nil {
		return nil, &exitError{code: ExitBadInput, msg: err.Error()}
	}
	return cfg, nil
}

// collectUserInputs merges --input flags and the inputs file.
func collectUserInputs(flags *rootFlags) (map[string]string, error) {
	inputs := map[string]string{}
	if flags.inputsFile != "" {
		data, err := os.ReadFile(flags.inputsFile)
		if err != nil {
			return nil, &exitError{code: ExitBadInput, msg: "reading inputs file: " + err.Error()}
		}
		if err := json.Unmarshal(data, &inputs); err != nil {
			return nil, &exitError{code: ExitBadInput, msg: "parsing inputs file: " + err.Error()}
		}
	}
	for _, pair := range flags.inputs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok {
			return nil, &exitError{code: ExitBadInput, msg: "invalid --input, expected key=value: " + pair}
		}
		inputs[key] = value
	}
	return inputs, nil
}

// newClients builds the forge clients with a fresh limiter per API.
func newClients(cfg *config.RunConfig) (*sourceclient.Client, *destclient.Client, error) {
	sourceLimiter, err := ratelimit.NewAdaptiveLimiter(ratelimit.APISourceForge, nil)
	if err != nil {
		return nil, nil, err
	}
	source := sourceclient.New(cfg.Source.BaseURL, cfg.Source.Token, sourceLimiter, nil)

	var dest *destclient.Client
	if cfg.Destination.Token != "" {
		destLimiter, err := ratelimit.NewAdaptiveLimiter(ratelimit.APIDestForge, nil)
		if err != nil {
			return nil, nil, err
		}
		dest, err = destclient.New(cfg.Destination.Host, cfg.Destination.Token, destLimiter, nil)
		if err != nil {
			return nil, nil, err
		}
	}
	return source, dest, nil
}

// signalContext cancels on SIGINT/SIGTERM so in-flight stages stop at their
// next suspension point and checkpoints survive.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
}

func runMode(parent context.Context, flags *rootFlags, mode config.Mode) error {
	cfg, err := resolveConfig(flags, mode)
	if err != nil {
		return err
	}
	userInputs, err := collectUserInputs(flags)
	if err != nil {
		return err
	}
	source, dest, err := newClients(cfg)
	if err != nil {
		return &exitError{code: ExitBadInput, msg: err.Error()}
	}

	ctx, cancel := signalContext(parent)
	defer cancel()

	orch := &pipeline.Orchestrator{
		Config:     cfg,
		Source:     source,
		Dest:       dest,
		UserInputs: userInputs,
		Callbacks: pipeline.Callbacks{
			PlanReady: func(p *plan.Plan) {
				if mode != config.ModeApply && mode != config.ModeFull {
					return
				}
				if err := promptForUserInputs(p.UserInputsRequired, userInputs); err != nil {
					fmt.Fprintln(os.Stderr, console.FormatWarningMessage("input collection aborted: "+err.Error()))
				}
			},
			StageStarted: func(stage pipeline.StageName) {
				fmt.Fprintln(os.Stderr, console.FormatProgressMessage(fmt.Sprintf("stage %s started", stage)))
			},
			StageCompleted: func(stage pipeline.StageName, result pipeline.StageResult) {
				msg := fmt.Sprintf("stage %s %s (%s)", stage, result.Status,
					result.Duration.Round(10*time.Millisecond))
				switch result.Status {
				case "failed":
					fmt.Fprintln(os.Stderr, console.FormatErrorMessage(msg))
				case "partial":
					fmt.Fprintln(os.Stderr, console.FormatWarningMessage(msg))
				default:
					fmt.Fprintln(os.Stderr, console.FormatSuccessMessage(msg))
				}
			},
		},
	}

	result, err := orch.Run(ctx)
	if err != nil {
		return &exitError{code: ExitBadInput, msg: err.Error()}
	}

	if mode == config.ModeDiscoverOnly && result.Context != nil {
		for _, entry := range result.Context.Inventory {
			if err := console.OutputStructOrJSON(entry, flags.jsonOut); err != nil {
				return err
			}
		}
	}
	printRunSummary(result)
	switch result.Status {
	case "success":
		return nil
	case "partial":
		return &exitError{code: ExitPartial}
	default:
		return &exitError{code: ExitFailed}
	}
}

// gapValidationResults reshapes conversion gaps for the console summary:
// critical gaps block, the rest are warnings.
func gapValidationResults(gaps []transform.Gap) *console.ValidationResults {
	severityFor := map[transform.GapSeverity]string{
		transform.SeverityCritical: "critical",
		transform.SeverityWarning:  "medium",
		transform.SeverityInfo:     "low",
	}
	results := &console.ValidationResults{}
	for _, gap := range gaps {
		finding := console.ValidationError{
			Category: gap.Component,
			Severity: severityFor[gap.Severity],
			Message:  gap.Detail,
			File:     gap.File,
			Line:     gap.Line,
			Hint:     gap.Workaround,
		}
		if gap.Severity == transform.SeverityCritical {
			results.Errors = append(results.Errors, finding)
		} else {
			results.Warnings = append(results.Warnings, finding)
		}
	}
	return results
}

func printRunSummary(result *pipeline.RunResult) {
	fmt.Fprintln(os.Stderr)
	header := fmt.Sprintf("Run %s (%s) finished %s: %s",
		result.RunID, result.Mode, humanize.Time(result.FinishedAt), strings.ToUpper(result.Status))
	switch result.Status {
	case "success":
		fmt.Fprintln(os.Stderr, console.FormatSuccessMessage(header))
	case "partial":
		fmt.Fprintln(os.Stderr, console.FormatWarningMessage(header))
	default:
		fmt.Fprintln(os.Stderr, console.FormatErrorMessage(header))
	}
	if result.FailedAtStage != "" {
		fmt.Fprintln(os.Stderr, console.FormatErrorMessage("failed at stage: "+string(result.FailedAtStage)))
	}

	if sc := result.Context; sc != nil {
		if sc.Plan != nil {
			fmt.Fprintln(os.Stderr, console.FormatInfoMessage(fmt.Sprintf(
				"plan: %d actions, ~%d minutes, %d require user input",
				sc.Plan.Summary.Total, sc.Plan.Summary.EstimatedMinutes, sc.Plan.Summary.RequiresUserInput)))
		}
		if sc.ApplyResults != nil {
			msg := fmt.Sprintf("apply: %d succeeded, %d failed, %d skipped",
				sc.ApplyResults.Successful, sc.ApplyResults.Failed, sc.ApplyResults.Skipped)
			if rate := console.FormatRateOrEmpty(sc.ApplyResults.SuccessRate); rate != "" {
				msg += " (" + rate + " success rate)"
			}
			fmt.Fprintln(os.Stderr, console.FormatInfoMessage(msg))
		}
		if len(sc.ConversionGaps) > 0 {
			fmt.Fprintln(os.Stderr, console.FormatWarningMessage(fmt.Sprintf(
				"%d conversion gaps recorded; review transform/conversion_gaps.md", len(sc.ConversionGaps))))
			if summary := console.FormatValidationSummary(gapValidationResults(sc.ConversionGaps), false); summary != "" {
				fmt.Fprintln(os.Stderr, summary)
			}
			// Lint findings on generated workflows carry positions; render
			// them with source context styling.
			for _, gap := range sc.ConversionGaps {
				if gap.File != "" && gap.Line > 0 {
					fmt.Fprintln(os.Stderr, console.FormatError(console.Diagnostic{
						Position: console.ErrorPosition{File: gap.File, Line: gap.Line, Column: gap.Column},
						Type:     "warning",
						Message:  gap.Detail,
						Hint:     gap.Workaround,
					}))
				}
			}
		}
	}
}
