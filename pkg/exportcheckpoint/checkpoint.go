// Package exportcheckpoint tracks per-component export progress in a
// file-backed map so an interrupted export resumes without reprocessing.
// Every update is written with atomic replace to survive mid-run termination.
package exportcheckpoint

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/forgemove/ghmigrate/pkg/logger"
)

var log = logger.New("exportcheckpoint:checkpoint")

// Status is the lifecycle state of one export component.
type Status string

const (
	StatusPending   Status = "pending"
	StatusStarted   Status = "started"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Entry records progress for one export component. LastItemID is monotonic
// within a component run; a started-but-not-completed component resumes
// strictly after it.
type Entry struct {
	Status         Status    `json:"status"`
	ProcessedCount int       `json:"processed_count"`
	LastItemID     int       `json:"last_item_id"`
	Error          string    `json:"error,omitempty"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Summary aggregates component states for the export manifest.
type Summary struct {
	TotalComponents int `json:"total_components"`
	Completed       int `json:"completed"`
	Failed          int `json:"failed"`
	Pending         int `json:"pending"`
}

// Checkpoint is the file-backed component → Entry map. It is single-writer:
// the export stage owns it for the duration of a run.
type Checkpoint struct {
	path    string
	entries map[string]*Entry
}

// Load reads an existing checkpoint file, or starts empty if none exists.
func Load(path string) (*Checkpoint, error) {
	cp := &Checkpoint{path: path, entries: make(map[string]*Entry)}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cp, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading checkpoint: %w", err)
	}
	if err := json.Unmarshal(data, &cp.entries); err != nil {
		return nil, fmt.Errorf("parsing checkpoint %s: %w", path, err)
	}
	log.Printf("Loaded checkpoint with %d components from %s", len(cp.entries), path)
	return cp, nil
}

// flush writes the checkpoint with atomic replace: a temp sibling file is
// written in full, then renamed over the real path.
func (c *Checkpoint) flush() error {
	data, err := json.MarshalIndent(c.entries, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding checkpoint: %w", err)
	}
	tmp := c.path + ".tmp"
	if err := os.MkdirAll(filepath.Dir(c.path), 0o755); err != nil {
		return fmt.Errorf("creating checkpoint directory: %w", err)
	}
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("writing checkpoint: %w", err)
	}
	return os.Rename(tmp, c.path)
}

func (c *Checkpoint) entry(component string) *Entry {
	e, ok := c.entries[component]
	if !ok {
		e = &Entry{Status: StatusPending}
		c.entries[component] = e
	}
	return e
}

// MarkStarted transitions a component to started.
func (c *Checkpoint) MarkStarted(component string) error {
	e := c.entry(component)
	e.Status = StatusStarted
	e.Error = ""
	e.UpdatedAt = time.Now().UTC()
	return c.flush()
}

// UpdateProgress records how far a component has processed. lastItemID must
// not move backwards; a stale id is ignored so resume stays monotonic.
func (c *Checkpoint) UpdateProgress(component string, processedCount, lastItemID int) error {
	e := c.entry(component)
	e.ProcessedCount = processedCount
	if lastItemID > e.LastItemID {
		e.LastItemID = lastItemID
	}
	e.UpdatedAt = time.Now().UTC()
	return c.flush()
}

// MarkCompleted records a component's terminal status.
func (c *Checkpoint) MarkCompleted(component string, success bool, errMsg string) error {
	e := c.entry(component)
	if success {
		e.Status = StatusCompleted
		e.Error = ""
	} else {
		e.Status = StatusFailed
		e.Error = errMsg
	}
	e.UpdatedAt = time.Now().UTC()
	return c.flush()
}

// IsCompleted reports whether a component already finished successfully.
func (c *Checkpoint) IsCompleted(component string) bool {
	e, ok := c.entries[component]
	return ok && e.Status == StatusCompleted
}

// ShouldResume reports whether a component was started but never completed,
// meaning it should resume after its last processed item.
func (c *Checkpoint) ShouldResume(component string) bool {
	e, ok := c.entries[component]
	return ok && e.Status == StatusStarted
}

// LastProcessedItem returns the last item id a component recorded, or zero.
func (c *Checkpoint) LastProcessedItem(component string) int {
	if e, ok := c.entries[component]; ok {
		return e.LastItemID
	}
	return 0
}

// Entry returns a copy of the component's entry, if present.
func (c *Checkpoint) Entry(component string) (Entry, bool) {
	if e, ok := c.entries[component]; ok {
		return *e, true
	}
	return Entry{}, false
}

// Summary aggregates the component states.
func (c *Checkpoint) Summary() Summary {
	s := Summary{TotalComponents: len(c.entries)}
	for _, e := range c.entries {
		switch e.Status {
		case StatusCompleted:
			s.Completed++
		case StatusFailed:
			s.Failed++
		default:
			s.Pending++
		}
	}
	return s
}
