package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/forgemove/ghmigrate/pkg/config"
	"github.com/forgemove/ghmigrate/pkg/console"
	"github.com/forgemove/ghmigrate/pkg/pipeline/batch"
)

func newBatchCommand(flags *rootFlags) *cobra.Command {
	var projectsFile string
	var parallelLimit int
	var modeName string

	cmd := &cobra.Command{
		Use:     "batch",
		Short:   "Migrate many projects concurrently under a shared rate budget",
		GroupID: "migrate",
		Args:    cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			mode, err := config.ParseMode(modeName)
			if err != nil {
				return &exitError{code: ExitBadInput, msg: err.Error()}
			}
			cfg, err := resolveConfigForBatch(flags, mode)
			if err != nil {
				return err
			}
			if parallelLimit > 0 {
				cfg.ParallelLimit = parallelLimit
			}

			projects := append([]string{}, args...)
			if projectsFile != "" {
				fromFile, err := readProjectList(projectsFile)
				if err != nil {
					return err
				}
				projects = append(projects, fromFile...)
			}
			if len(projects) == 0 {
				return &exitError{code: ExitBadInput, msg: "no projects given: pass paths as arguments or --projects-file"}
			}

			ctx, cancel := signalContext(cmd.Context())
			defer cancel()

			result, err := batch.New(cfg).Run(ctx, projects)
			if err != nil {
				return &exitError{code: ExitBadInput, msg: err.Error()}
			}

			printBatchSummary(result)
			switch result.Status {
			case "success":
				return nil
			case "partial_success":
				return &exitError{code: ExitPartial}
			default:
				return &exitError{code: ExitFailed}
			}
		},
	}

	cmd.Flags().StringVar(&projectsFile, "projects-file", "", "file with one project path per line")
	cmd.Flags().IntVar(&parallelLimit, "parallel", 0, "concurrent project pipelines (default 5)")
	cmd.Flags().StringVar(&modeName, "mode", string(config.ModeFull), "run mode for every project")
	return cmd
}

// resolveConfigForBatch skips the single-project scope requirement; the
// batch supplies each project's scope itself.
func resolveConfigForBatch(flags *rootFlags, mode config.Mode) (*config.RunConfig, error) {
	cfg, err := resolveConfig(flags, mode)
	if err != nil {
		// A missing scope is fine for batch; re-resolve leniently.
		loaded, loadErr := config.Load(flags.configPath)
		if loadErr != nil {
			return nil, err
		}
		loaded.Mode = mode
		if flags.gitlabToken != "" {
			loaded.Source.Token = flags.gitlabToken
		}
		if flags.githubOrg != "" {
			loaded.Destination.Org = flags.githubOrg
		}
		if flags.githubToken != "" {
			loaded.Destination.Token = flags.githubToken
		}
		if flags.artifactRoot != "" {
			loaded.ArtifactRoot = flags.artifactRoot
		}
		if loaded.Source.Token == "" {
			return nil, err
		}
		return loaded, nil
	}
	return cfg, nil
}

func readProjectList(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &exitError{code: ExitBadInput, msg: "reading projects file: " + err.Error()}
	}
	var projects []string
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line != "" && !strings.HasPrefix(line, "#") {
			projects = append(projects, line)
		}
	}
	return projects, nil
}

func printBatchSummary(result *batch.Result) {
	fmt.Fprintln(os.Stderr)
	rows := make([][]string, 0, len(result.Results))
	for _, r := range result.Results {
		if r == nil {
			continue
		}
		failedAt := ""
		if r.FailedAtStage != "" {
			failedAt = string(r.FailedAtStage)
		}
		rows = append(rows, []string{r.ProjectPath, r.Status, failedAt})
	}
	table := console.RenderTable(console.TableConfig{
		Headers: []string{"PROJECT", "STATUS", "FAILED AT"},
		Rows:    rows,
	})
	fmt.Fprintln(os.Stderr, table)
	fmt.Fprintln(os.Stderr, console.FormatCountMessage(fmt.Sprintf(
		"%d projects: %d succeeded, %d failed (parallel limit %d)",
		result.TotalProjects, result.Successful, result.Failed, result.ParallelLimit)))
}
