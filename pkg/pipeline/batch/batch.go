// Package batch runs N project pipelines concurrently under a bounded
// worker pool, sharing one rate limiter per API and one user-mapping cache
// so concurrency neither multiplies the request rate nor re-resolves users.
package batch

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/sourcegraph/conc/pool"

	"github.com/forgemove/ghmigrate/pkg/config"
	"github.com/forgemove/ghmigrate/pkg/constants"
	"github.com/forgemove/ghmigrate/pkg/destclient"
	"github.com/forgemove/ghmigrate/pkg/logger"
	"github.com/forgemove/ghmigrate/pkg/pipeline"
	"github.com/forgemove/ghmigrate/pkg/pipeline/transform"
	"github.com/forgemove/ghmigrate/pkg/ratelimit"
	"github.com/forgemove/ghmigrate/pkg/sourceclient"
)

var log = logger.New("batch:batch")

// Result aggregates a batch run.
type Result struct {
	Status        string                `json:"status"` // success | partial_success | failed
	TotalProjects int                   `json:"total_projects"`
	Successful    int                   `json:"successful"`
	Failed        int                   `json:"failed"`
	ParallelLimit int                   `json:"parallel_limit"`
	StartedAt     time.Time             `json:"started_at"`
	FinishedAt    time.Time             `json:"finished_at"`
	Results       []*pipeline.RunResult `json:"results"`
}

// Orchestrator fans projects out through per-project pipelines.
type Orchestrator struct {
	// Base is the template configuration; per-project configs derive from
	// it with their own scope and artifact subtree.
	Base *config.RunConfig
	// ParallelLimit bounds concurrent pipelines.
	ParallelLimit int
	// ResumeFrom restarts every pipeline at the named stage.
	ResumeFrom pipeline.StageName
	// RunnerFor overrides pipeline construction, for tests.
	RunnerFor func(projectPath string) Runner
}

// Runner is the per-project pipeline surface the batch drives.
type Runner interface {
	Run(ctx context.Context) (*pipeline.RunResult, error)
}

// New creates a batch orchestrator.
func New(base *config.RunConfig) *Orchestrator {
	limit := base.ParallelLimit
	if limit <= 0 {
		limit = constants.DefaultParallelLimit
	}
	return &Orchestrator{Base: base, ParallelLimit: limit}
}

// Run migrates every listed project. Per-project failures are materialized
// as failed results; one project can never abort the batch.
func (o *Orchestrator) Run(ctx context.Context, projectPaths []string) (*Result, error) {
	result := &Result{
		TotalProjects: len(projectPaths),
		ParallelLimit: o.ParallelLimit,
		StartedAt:     time.Now().UTC(),
		Results:       make([]*pipeline.RunResult, len(projectPaths)),
	}

	runnerFor := o.RunnerFor
	if runnerFor == nil {
		shared, err := o.sharedResources()
		if err != nil {
			return nil, err
		}
		runnerFor = shared.runnerFor
	}

	p := pool.New().WithMaxGoroutines(o.ParallelLimit)
	for i, projectPath := range projectPaths {
		p.Go(func() {
			runResult := o.runProject(ctx, runnerFor(projectPath), projectPath)
			result.Results[i] = runResult
		})
	}
	p.Wait()

	for _, runResult := range result.Results {
		if runResult != nil && runResult.Status != "failed" {
			result.Successful++
		} else {
			result.Failed++
		}
	}
	result.FinishedAt = time.Now().UTC()
	switch {
	case result.Failed == 0:
		result.Status = "success"
	case result.Successful > 0:
		result.Status = "partial_success"
	default:
		result.Status = "failed"
	}
	return result, nil
}

// runProject materializes panics and errors as failed results.
func (o *Orchestrator) runProject(ctx context.Context, runner Runner, projectPath string) (result *pipeline.RunResult) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("Project %s panicked: %v", projectPath, r)
			result = failedResult(o.Base, projectPath, fmt.Sprintf("panic: %v", r))
		}
	}()

	runResult, err := runner.Run(ctx)
	if err != nil {
		log.Printf("Project %s failed: %v", projectPath, err)
		return failedResult(o.Base, projectPath, err.Error())
	}
	return runResult
}

func failedResult(base *config.RunConfig, projectPath, message string) *pipeline.RunResult {
	return &pipeline.RunResult{
		RunID:       base.RunID,
		Mode:        base.Mode,
		ProjectPath: projectPath,
		Status:      "failed",
		FinishedAt:  time.Now().UTC(),
		Stages: []pipeline.StageResult{{
			Status: "failed",
			Error:  message,
		}},
	}
}

// sharedResources holds the per-batch singletons: one limiter per API and
// one user-mapping cache, threaded into every project pipeline.
type sharedResources struct {
	base      *config.RunConfig
	limiters  *ratelimit.Group
	userCache *transform.UserCache
	resume    pipeline.StageName
}

func (o *Orchestrator) sharedResources() (*sharedResources, error) {
	return &sharedResources{
		base:      o.Base,
		limiters:  ratelimit.NewGroup(),
		userCache: transform.NewUserCache(),
		resume:    o.ResumeFrom,
	}, nil
}

// runnerFor builds the real per-project pipeline, scoped to a disjoint
// artifact subtree.
func (s *sharedResources) runnerFor(projectPath string) Runner {
	return runnerFunc(func(ctx context.Context) (*pipeline.RunResult, error) {
		cfg := *s.base
		cfg.Source.ProjectPath = projectPath
		cfg.Source.GroupPath = ""
		cfg.Source.ProjectID = 0
		cfg.ArtifactRoot = filepath.Join(s.base.ArtifactRoot, sanitizePathSegment(projectPath))

		sourceLimiter, err := s.limiters.GetOrCreate(ratelimit.APISourceForge)
		if err != nil {
			return nil, err
		}
		destLimiter, err := s.limiters.GetOrCreate(ratelimit.APIDestForge)
		if err != nil {
			return nil, err
		}

		source := sourceclient.New(cfg.Source.BaseURL, cfg.Source.Token, sourceLimiter, nil)
		var dest *destclient.Client
		if cfg.Destination.Token != "" {
			dest, err = destclient.New(cfg.Destination.Host, cfg.Destination.Token, destLimiter, nil)
			if err != nil {
				return nil, err
			}
		}

		orch := &pipeline.Orchestrator{
			Config:     &cfg,
			Source:     source,
			Dest:       dest,
			UserCache:  s.userCache,
			ResumeFrom: s.resume,
		}
		return orch.Run(ctx)
	})
}

type runnerFunc func(ctx context.Context) (*pipeline.RunResult, error)

func (f runnerFunc) Run(ctx context.Context) (*pipeline.RunResult, error) {
	return f(ctx)
}

func sanitizePathSegment(projectPath string) string {
	out := make([]byte, 0, len(projectPath))
	for i := 0; i < len(projectPath); i++ {
		c := projectPath[i]
		if c == '/' || c == '\\' || c == ':' {
			out = append(out, '-')
		} else {
			out = append(out, c)
		}
	}
	return string(out)
}
