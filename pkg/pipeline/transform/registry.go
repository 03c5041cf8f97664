package transform

import (
	"regexp"
	"strings"
)

// RegistryRewrite replaces source container-registry references with their
// destination-registry equivalents in CI scripts, image names, and
// variable values.
type RegistryRewrite struct {
	// SourceRegistry is the source registry host, e.g. "registry.gitlab.com".
	SourceRegistry string
	// SourceProjectPath is the source project path under the registry.
	SourceProjectPath string
	// DestRegistry is the destination registry host, e.g. "ghcr.io".
	DestRegistry string
	// DestRepo is the destination owner/name.
	DestRepo string

	literal *regexp.Regexp
}

// NewRegistryRewrite builds the rewriter for one project.
func NewRegistryRewrite(sourceRegistry, sourceProjectPath, destRegistry, destRepo string) *RegistryRewrite {
	r := &RegistryRewrite{
		SourceRegistry:    sourceRegistry,
		SourceProjectPath: sourceProjectPath,
		DestRegistry:      destRegistry,
		DestRepo:          destRepo,
	}
	// Literal image references: <source-registry>/<project-path>[/extra]:tag
	r.literal = regexp.MustCompile(
		regexp.QuoteMeta(sourceRegistry+"/"+sourceProjectPath) + `(/[\w./-]*)?(:[\w.-]+)?`)
	return r
}

// Rewrite replaces registry variables and literal registry references.
func (r *RegistryRewrite) Rewrite(content string) string {
	if r == nil || content == "" {
		return content
	}
	out := content
	out = strings.ReplaceAll(out, "$CI_REGISTRY_IMAGE", r.DestRegistry+"/"+r.DestRepo)
	out = strings.ReplaceAll(out, "${CI_REGISTRY_IMAGE}", r.DestRegistry+"/"+r.DestRepo)
	out = strings.ReplaceAll(out, "$CI_REGISTRY", r.DestRegistry)
	out = strings.ReplaceAll(out, "${CI_REGISTRY}", r.DestRegistry)
	out = r.literal.ReplaceAllStringFunc(out, func(match string) string {
		rest := strings.TrimPrefix(match, r.SourceRegistry+"/"+r.SourceProjectPath)
		tag := ""
		if idx := strings.LastIndex(rest, ":"); idx >= 0 {
			tag = rest[idx:]
		}
		return r.DestRegistry + "/" + r.DestRepo + tag
	})
	return out
}
