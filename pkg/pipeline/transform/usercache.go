package transform

import (
	"sync"

	"github.com/forgemove/ghmigrate/pkg/destclient"
)

// UserCache shares resolved destination org members across concurrent
// project pipelines, so a batch of projects in one group resolves the same
// users only once. Write-once per org within a batch.
type UserCache struct {
	mu      sync.Mutex
	members map[string][]destclient.OrgMember
}

// NewUserCache creates an empty cache.
func NewUserCache() *UserCache {
	return &UserCache{members: make(map[string][]destclient.OrgMember)}
}

// Get returns the cached members for an org.
func (c *UserCache) Get(org string) ([]destclient.OrgMember, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	members, ok := c.members[org]
	return members, ok
}

// Put stores resolved members for an org. The first writer wins; later
// writers are no-ops so concurrent resolution stays consistent.
func (c *UserCache) Put(org string, members []destclient.OrgMember) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.members[org]; !exists {
		c.members[org] = members
	}
}
