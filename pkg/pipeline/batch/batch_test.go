package batch

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/forgemove/ghmigrate/pkg/config"
	"github.com/forgemove/ghmigrate/pkg/pipeline"
)

type scriptedRunner struct {
	path        string
	fail        bool
	panics      bool
	delay       time.Duration
	concurrency *concurrencyMeter
}

type concurrencyMeter struct {
	mu      sync.Mutex
	current int
	peak    int
}

func (m *concurrencyMeter) enter() {
	m.mu.Lock()
	m.current++
	if m.current > m.peak {
		m.peak = m.current
	}
	m.mu.Unlock()
}

func (m *concurrencyMeter) exit() {
	m.mu.Lock()
	m.current--
	m.mu.Unlock()
}

func (r *scriptedRunner) Run(ctx context.Context) (*pipeline.RunResult, error) {
	if r.concurrency != nil {
		r.concurrency.enter()
		defer r.concurrency.exit()
	}
	if r.delay > 0 {
		time.Sleep(r.delay)
	}
	if r.panics {
		panic("scripted panic")
	}
	if r.fail {
		return nil, errors.New("scripted failure")
	}
	return &pipeline.RunResult{ProjectPath: r.path, Status: "success"}, nil
}

func newBatch(limit int, runners map[string]*scriptedRunner) *Orchestrator {
	base := &config.RunConfig{Mode: config.ModeFull, ParallelLimit: limit, RunID: "batch-1"}
	o := New(base)
	o.RunnerFor = func(projectPath string) Runner {
		return runners[projectPath]
	}
	return o
}

func TestBatchAllSucceed(t *testing.T) {
	runners := map[string]*scriptedRunner{
		"g/a": {path: "g/a"},
		"g/b": {path: "g/b"},
	}
	result, err := newBatch(2, runners).Run(context.Background(), []string{"g/a", "g/b"})
	require.NoError(t, err)
	require.Equal(t, "success", result.Status)
	require.Equal(t, 2, result.Successful)
	require.Zero(t, result.Failed)
}

func TestBatchOneFailureIsPartial(t *testing.T) {
	runners := map[string]*scriptedRunner{
		"g/a": {path: "g/a"},
		"g/b": {path: "g/b"},
		"g/c": {path: "g/c", fail: true},
		"g/d": {path: "g/d"},
		"g/e": {path: "g/e"},
	}
	paths := []string{"g/a", "g/b", "g/c", "g/d", "g/e"}
	result, err := newBatch(3, runners).Run(context.Background(), paths)
	require.NoError(t, err)
	require.Equal(t, "partial_success", result.Status)
	require.Equal(t, 4, result.Successful)
	require.Equal(t, 1, result.Failed)
	require.Equal(t, 5, result.TotalProjects)
	require.Equal(t, 3, result.ParallelLimit)

	// The failed project materializes as a failed result in order.
	require.Equal(t, "failed", result.Results[2].Status)
	require.Equal(t, "g/c", result.Results[2].ProjectPath)
}

func TestBatchPanicIsContained(t *testing.T) {
	runners := map[string]*scriptedRunner{
		"g/a": {path: "g/a", panics: true},
		"g/b": {path: "g/b"},
	}
	result, err := newBatch(2, runners).Run(context.Background(), []string{"g/a", "g/b"})
	require.NoError(t, err)
	require.Equal(t, "partial_success", result.Status)
	require.Contains(t, result.Results[0].Stages[0].Error, "panic")
}

func TestBatchAllFail(t *testing.T) {
	runners := map[string]*scriptedRunner{
		"g/a": {path: "g/a", fail: true},
	}
	result, err := newBatch(1, runners).Run(context.Background(), []string{"g/a"})
	require.NoError(t, err)
	require.Equal(t, "failed", result.Status)
}

func TestBatchRespectsParallelLimit(t *testing.T) {
	meter := &concurrencyMeter{}
	runners := map[string]*scriptedRunner{}
	var paths []string
	for _, name := range []string{"g/a", "g/b", "g/c", "g/d", "g/e", "g/f"} {
		runners[name] = &scriptedRunner{path: name, delay: 20 * time.Millisecond, concurrency: meter}
		paths = append(paths, name)
	}

	result, err := newBatch(3, runners).Run(context.Background(), paths)
	require.NoError(t, err)
	require.Equal(t, 6, result.Successful)
	require.LessOrEqual(t, meter.peak, 3, "observed concurrency must not exceed the limit")
	require.Greater(t, meter.peak, 1, "work actually ran in parallel")
}

func TestBatchCounters(t *testing.T) {
	var launched atomic.Int32
	base := &config.RunConfig{Mode: config.ModeFull, RunID: "batch-2"}
	o := New(base)
	o.RunnerFor = func(string) Runner {
		return runnerFunc(func(context.Context) (*pipeline.RunResult, error) {
			launched.Add(1)
			return &pipeline.RunResult{Status: "success"}, nil
		})
	}
	result, err := o.Run(context.Background(), []string{"a", "b", "c"})
	require.NoError(t, err)
	require.EqualValues(t, 3, launched.Load())
	require.Equal(t, 3, result.TotalProjects)
}

func TestSanitizePathSegment(t *testing.T) {
	require.Equal(t, "group-sub-proj", sanitizePathSegment("group/sub/proj"))
}
