package plan

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"
)

// entityKeys are tried in priority order to find a stable entity identifier
// in an action's parameters. An action with none falls back to its id,
// which stays stable because ids are assigned in deterministic build order.
var entityKeys = []string{
	"gitlab_issue_iid", "gitlab_mr_iid", "tag_name", "name", "title", "branch",
}

var keyUnsafe = regexp.MustCompile(`[^a-z0-9_-]+`)

// entityIdentifier selects the stable entity id for an action.
func entityIdentifier(a Action) string {
	for _, key := range entityKeys {
		if v, ok := a.Parameters[key]; ok {
			s := fmt.Sprint(v)
			if s != "" && s != "<nil>" {
				return s
			}
		}
	}
	return fmt.Sprintf("action_%d", a.ID)
}

// cleanEntity reduces an entity identifier to a key-safe slug.
func cleanEntity(entity string) string {
	cleaned := keyUnsafe.ReplaceAllString(strings.ToLower(entity), "-")
	cleaned = strings.Trim(cleaned, "-")
	if len(cleaned) > 40 {
		cleaned = cleaned[:40]
	}
	if cleaned == "" {
		cleaned = "entity"
	}
	return cleaned
}

// IdempotencyKey builds the deterministic key apply uses to short-circuit
// duplicates: <type>-<cleaned_entity>-<8 hex of sha256(project:type:entity:extra)>.
// Re-running plan for the same project and inputs yields identical keys.
func IdempotencyKey(projectID string, a Action, extra string) string {
	entity := entityIdentifier(a)
	digest := sha256.Sum256([]byte(fmt.Sprintf("%s:%s:%s:%s", projectID, a.Type, entity, extra)))
	return fmt.Sprintf("%s-%s-%s", a.Type, cleanEntity(entity), hex.EncodeToString(digest[:4]))
}
