package transform

import (
	"strings"

	"github.com/forgemove/ghmigrate/pkg/sourceclient"
)

// TransformLabels sanitizes source labels for the destination: colors lose
// their leading '#', titles and descriptions pass through.
func TransformLabels(labels []sourceclient.Label) []TransformedLabel {
	out := make([]TransformedLabel, 0, len(labels))
	for _, label := range labels {
		color := strings.TrimPrefix(label.Color, "#")
		if color == "" {
			color = "cccccc"
		}
		out = append(out, TransformedLabel{
			Name:        label.Name,
			Color:       color,
			Description: label.Description,
		})
	}
	return out
}

// TransformMilestones maps source milestones: active becomes open, due dates
// convert to the destination's timestamp form.
func TransformMilestones(milestones []sourceclient.Milestone) []TransformedMilestone {
	out := make([]TransformedMilestone, 0, len(milestones))
	for _, m := range milestones {
		state := "open"
		if m.State == "closed" {
			state = "closed"
		}
		due := ""
		if m.DueDate != "" {
			due = m.DueDate + "T23:59:59Z"
		}
		out = append(out, TransformedMilestone{
			Title:       m.Title,
			State:       state,
			Description: m.Description,
			DueOn:       due,
		})
	}
	return out
}
