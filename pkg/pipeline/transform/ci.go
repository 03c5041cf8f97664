package transform

import (
	"fmt"
	"io"
	"regexp"
	"sort"
	"strings"

	"github.com/goccy/go-yaml"
	"github.com/rhysd/actionlint"
)

// Reserved top-level keys in source CI YAML; every other key is a job.
var reservedCIKeys = map[string]bool{
	"stages": true, "variables": true, "include": true, "default": true,
	"workflow": true, "image": true, "services": true, "before_script": true,
	"after_script": true, "cache": true, "pages": false,
}

// ciJob is the parsed shape of one source CI job.
type ciJob struct {
	Stage        string
	Script       []string
	BeforeScript []string
	AfterScript  []string
	Image        string
	Needs        []string
	When         string
	AllowFailure bool
	Environment  string
	Only         any
	Except       any
	Rules        any
	Tags         []string
	Trigger      any
	Parallel     any
}

// ciPipeline is the parsed shape of a source CI configuration. Anchors are
// already resolved by the YAML engine; hidden ".template" jobs do not
// round-trip and surface as gaps instead.
type ciPipeline struct {
	Stages    []string
	Variables map[string]string
	Includes  []string
	JobOrder  []string
	Jobs      map[string]*ciJob
	Templates []string
}

// ConvertCI translates source CI YAML into destination workflow YAML,
// registering every unconvertible construct as a typed gap. The returned
// job names feed branch-protection required status checks, in job order.
func ConvertCI(ciYAML []byte, workflowName string, registry *RegistryRewrite) (*CIConversion, error) {
	pipeline, gaps, err := parseCI(ciYAML)
	if err != nil {
		return nil, err
	}

	conv := &CIConversion{
		Workflows: make(map[string]string),
		Gaps:      gaps,
	}

	workflowYAML, jobNames, convGaps := buildWorkflow(pipeline, workflowName, registry)
	conv.JobNames = jobNames
	conv.Gaps = append(conv.Gaps, convGaps...)
	conv.Workflows["ci.yml"] = workflowYAML

	// Lint the generated workflow; any finding is a gap, not a silent defect.
	conv.Gaps = append(conv.Gaps, lintWorkflow("ci.yml", workflowYAML)...)
	return conv, nil
}

func parseCI(ciYAML []byte) (*ciPipeline, []Gap, error) {
	var raw map[string]any
	if err := yaml.Unmarshal(ciYAML, &raw); err != nil {
		return nil, nil, fmt.Errorf("parsing source CI YAML: %w", err)
	}

	pipeline := &ciPipeline{
		Variables: map[string]string{},
		Jobs:      map[string]*ciJob{},
	}
	var gaps []Gap

	if stages, ok := raw["stages"].([]any); ok {
		for _, s := range stages {
			pipeline.Stages = append(pipeline.Stages, fmt.Sprint(s))
		}
	}
	if vars, ok := raw["variables"].(map[string]any); ok {
		for k, v := range vars {
			pipeline.Variables[k] = fmt.Sprint(v)
		}
	}
	if include, ok := raw["include"]; ok {
		pipeline.Includes = describeIncludes(include)
		gaps = append(gaps, Gap{
			Component: "ci_cd",
			Feature:   "include",
			Severity:  SeverityCritical,
			Detail:    "source-only includes cannot be resolved: " + strings.Join(pipeline.Includes, ", "),
			Workaround: "inline the included configuration or convert it to a reusable workflow",
		})
	}

	// Job keys in source order. The YAML engine loses document order for
	// plain maps, so re-scan the raw document for top-level keys.
	for _, key := range topLevelKeys(ciYAML) {
		if reservedCIKeys[key] {
			continue
		}
		value, ok := raw[key].(map[string]any)
		if !ok {
			continue
		}
		if strings.HasPrefix(key, ".") {
			pipeline.Templates = append(pipeline.Templates, key)
			continue
		}
		pipeline.JobOrder = append(pipeline.JobOrder, key)
		pipeline.Jobs[key] = parseJob(value)
	}

	if len(pipeline.Templates) > 0 {
		gaps = append(gaps, Gap{
			Component: "ci_cd",
			Feature:   "anchor_templates",
			Severity:  SeverityWarning,
			Detail:    "hidden template jobs do not round-trip: " + strings.Join(pipeline.Templates, ", "),
			Workaround: "their expansions are already inlined into the jobs that extend them",
		})
	}
	return pipeline, gaps, nil
}

var topLevelKeyPattern = regexp.MustCompile(`(?m)^([A-Za-z0-9._-]+):`)

// topLevelKeys lists document-order top-level keys of a YAML document.
func topLevelKeys(doc []byte) []string {
	var keys []string
	seen := map[string]bool{}
	for _, m := range topLevelKeyPattern.FindAllStringSubmatch(string(doc), -1) {
		if !seen[m[1]] {
			seen[m[1]] = true
			keys = append(keys, m[1])
		}
	}
	return keys
}

func parseJob(raw map[string]any) *ciJob {
	job := &ciJob{}
	if v, ok := raw["stage"]; ok {
		job.Stage = fmt.Sprint(v)
	}
	job.Script = stringList(raw["script"])
	job.BeforeScript = stringList(raw["before_script"])
	job.AfterScript = stringList(raw["after_script"])
	switch img := raw["image"].(type) {
	case string:
		job.Image = img
	case map[string]any:
		job.Image = fmt.Sprint(img["name"])
	}
	for _, n := range stringList(raw["needs"]) {
		job.Needs = append(job.Needs, n)
	}
	if v, ok := raw["when"]; ok {
		job.When = fmt.Sprint(v)
	}
	if v, ok := raw["allow_failure"].(bool); ok {
		job.AllowFailure = v
	}
	switch env := raw["environment"].(type) {
	case string:
		job.Environment = env
	case map[string]any:
		job.Environment = fmt.Sprint(env["name"])
	}
	job.Only = raw["only"]
	job.Except = raw["except"]
	job.Rules = raw["rules"]
	job.Tags = stringList(raw["tags"])
	job.Trigger = raw["trigger"]
	job.Parallel = raw["parallel"]
	return job
}

func stringList(v any) []string {
	switch value := v.(type) {
	case string:
		return []string{value}
	case []any:
		var out []string
		for _, item := range value {
			switch entry := item.(type) {
			case string:
				out = append(out, entry)
			case map[string]any:
				// needs entries may be {job: name, ...}
				if j, ok := entry["job"]; ok {
					out = append(out, fmt.Sprint(j))
				}
			default:
				out = append(out, fmt.Sprint(entry))
			}
		}
		return out
	}
	return nil
}

// buildWorkflow emits the destination workflow for a parsed pipeline.
// Stage ordering becomes job-level needs: each job without explicit needs
// depends on every job of the previous stage.
func buildWorkflow(pipeline *ciPipeline, workflowName string, registry *RegistryRewrite) (string, []string, []Gap) {
	var gaps []Gap

	jobsByStage := map[string][]string{}
	for _, name := range pipeline.JobOrder {
		stage := pipeline.Jobs[name].Stage
		if stage == "" {
			stage = "test" // source default stage
		}
		jobsByStage[stage] = append(jobsByStage[stage], name)
	}
	stages := pipeline.Stages
	if len(stages) == 0 {
		stages = []string{"build", "test", "deploy"}
	}
	stageIndex := map[string]int{}
	for i, s := range stages {
		stageIndex[s] = i
	}

	previousStageJobs := func(stage string) []string {
		idx, ok := stageIndex[stage]
		if !ok || idx == 0 {
			return nil
		}
		for prev := idx - 1; prev >= 0; prev-- {
			if jobs := jobsByStage[stages[prev]]; len(jobs) > 0 {
				return jobs
			}
		}
		return nil
	}

	jobs := yaml.MapSlice{}
	var jobNames []string
	for _, name := range pipeline.JobOrder {
		job := pipeline.Jobs[name]
		jobNames = append(jobNames, name)

		var steps []yaml.MapSlice
		steps = append(steps, yaml.MapSlice{{Key: "uses", Value: "actions/checkout@v4"}})
		script := append(append(append([]string{}, job.BeforeScript...), job.Script...), job.AfterScript...)
		if len(script) > 0 {
			run := strings.Join(script, "\n")
			if registry != nil {
				run = registry.Rewrite(run)
			}
			steps = append(steps, yaml.MapSlice{
				{Key: "name", Value: name},
				{Key: "run", Value: run},
			})
		}

		spec := yaml.MapSlice{{Key: "runs-on", Value: "ubuntu-latest"}}
		if job.Image != "" {
			image := job.Image
			if registry != nil {
				image = registry.Rewrite(image)
			}
			spec = append(spec, yaml.MapItem{Key: "container", Value: image})
		}
		if job.Environment != "" {
			spec = append(spec, yaml.MapItem{Key: "environment", Value: job.Environment})
		}
		needs := job.Needs
		if len(needs) == 0 {
			needs = previousStageJobs(jobStageOrDefault(job))
		}
		if len(needs) > 0 {
			spec = append(spec, yaml.MapItem{Key: "needs", Value: sanitizeJobIDs(needs)})
		}
		if job.AllowFailure {
			spec = append(spec, yaml.MapItem{Key: "continue-on-error", Value: true})
		}
		spec = append(spec, yaml.MapItem{Key: "steps", Value: steps})

		jobs = append(jobs, yaml.MapItem{Key: sanitizeJobID(name), Value: spec})

		gaps = append(gaps, jobGaps(name, job)...)
	}

	workflow := yaml.MapSlice{
		{Key: "name", Value: workflowName},
		{Key: "on", Value: yaml.MapSlice{
			{Key: "push", Value: yaml.MapSlice{}},
			{Key: "pull_request", Value: yaml.MapSlice{}},
			{Key: "workflow_dispatch", Value: yaml.MapSlice{}},
		}},
	}
	if len(pipeline.Variables) > 0 {
		env := yaml.MapSlice{}
		keys := make([]string, 0, len(pipeline.Variables))
		for k := range pipeline.Variables {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			value := pipeline.Variables[k]
			if registry != nil {
				value = registry.Rewrite(value)
			}
			env = append(env, yaml.MapItem{Key: k, Value: value})
		}
		workflow = append(workflow, yaml.MapItem{Key: "env", Value: env})
	}
	workflow = append(workflow, yaml.MapItem{Key: "jobs", Value: jobs})

	data, err := yaml.Marshal(workflow)
	if err != nil {
		gaps = append(gaps, Gap{
			Component: "ci_cd", Feature: "workflow_emit",
			Severity: SeverityCritical, Detail: err.Error(),
		})
		return "", jobNames, gaps
	}
	return string(data), jobNames, gaps
}

func jobStageOrDefault(job *ciJob) string {
	if job.Stage == "" {
		return "test"
	}
	return job.Stage
}

// jobGaps registers the per-job constructs that convert partially or not
// at all.
func jobGaps(name string, job *ciJob) []Gap {
	var gaps []Gap
	if job.Only != nil || job.Except != nil {
		gaps = append(gaps, Gap{
			Component: "ci_cd", Feature: "only_except",
			Severity: SeverityWarning,
			Detail:   fmt.Sprintf("job %q uses only/except; branch filters were not carried over", name),
			Workaround: "add branch filters to the workflow's on.push/on.pull_request triggers",
		})
	}
	if job.Rules != nil {
		gaps = append(gaps, Gap{
			Component: "ci_cd", Feature: "rules",
			Severity: SeverityWarning,
			Detail:   fmt.Sprintf("job %q uses rules:; conditional execution must be re-expressed as if: expressions", name),
		})
	}
	if job.When == "manual" {
		gaps = append(gaps, Gap{
			Component: "ci_cd", Feature: "manual_jobs",
			Severity: SeverityInfo,
			Detail:   fmt.Sprintf("manual job %q is reachable via workflow_dispatch", name),
		})
	}
	if len(job.Tags) > 0 {
		gaps = append(gaps, Gap{
			Component: "ci_cd", Feature: "runner_tags",
			Severity: SeverityInfo,
			Detail:   fmt.Sprintf("job %q targets runner tags %v; mapped to ubuntu-latest", name, job.Tags),
			Workaround: "point runs-on at matching self-hosted runner labels",
		})
	}
	if job.Trigger != nil {
		gaps = append(gaps, Gap{
			Component: "ci_cd", Feature: "trigger",
			Severity: SeverityCritical,
			Detail:   fmt.Sprintf("job %q triggers a downstream pipeline; no direct equivalent emitted", name),
			Workaround: "use workflow_call or repository_dispatch on the destination",
		})
	}
	if job.Parallel != nil {
		gaps = append(gaps, Gap{
			Component: "ci_cd", Feature: "parallel",
			Severity: SeverityWarning,
			Detail:   fmt.Sprintf("job %q uses parallel:; re-express as a matrix strategy", name),
		})
	}
	return gaps
}

var jobIDUnsafe = regexp.MustCompile(`[^A-Za-z0-9_-]`)

func sanitizeJobID(name string) string {
	id := jobIDUnsafe.ReplaceAllString(name, "_")
	if id == "" || !isLetter(id[0]) && id[0] != '_' {
		id = "job_" + id
	}
	return id
}

func sanitizeJobIDs(names []string) []string {
	out := make([]string, len(names))
	for i, n := range names {
		out[i] = sanitizeJobID(n)
	}
	return out
}

func isLetter(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func describeIncludes(include any) []string {
	switch inc := include.(type) {
	case string:
		return []string{inc}
	case []any:
		var out []string
		for _, item := range inc {
			switch entry := item.(type) {
			case string:
				out = append(out, entry)
			case map[string]any:
				for _, key := range []string{"local", "project", "remote", "template", "component"} {
					if v, ok := entry[key]; ok {
						out = append(out, fmt.Sprintf("%s:%v", key, v))
					}
				}
			}
		}
		return out
	case map[string]any:
		return describeIncludes([]any{include})
	}
	return nil
}

// lintWorkflow validates generated workflow YAML with actionlint. Findings
// become gaps so a malformed emission is visible, never silent.
func lintWorkflow(filename, content string) []Gap {
	linter, err := actionlint.NewLinter(io.Discard, &actionlint.LinterOptions{})
	if err != nil {
		return []Gap{{
			Component: "ci_cd", Feature: "workflow_lint",
			Severity: SeverityWarning, Detail: "actionlint unavailable: " + err.Error(),
		}}
	}
	findings, err := linter.Lint(filename, []byte(content), nil)
	if err != nil {
		return []Gap{{
			Component: "ci_cd", Feature: "workflow_lint",
			Severity: SeverityWarning, Detail: "lint failed: " + err.Error(),
		}}
	}
	var gaps []Gap
	for _, f := range findings {
		gaps = append(gaps, Gap{
			Component: "ci_cd",
			Feature:   "workflow_lint",
			Severity:  SeverityWarning,
			Detail:    f.Message,
			File:      filename,
			Line:      f.Line,
			Column:    f.Column,
		})
	}
	return gaps
}
