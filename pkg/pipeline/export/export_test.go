package export

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestScanAttachmentPaths(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		expected []string
	}{
		{
			name:     "image embed",
			body:     "See ![screenshot](/uploads/abcdef1234/screenshot.png) above",
			expected: []string{"/uploads/abcdef1234/screenshot.png"},
		},
		{
			name:     "file link",
			body:     "Attached: [log.txt](/uploads/ff00aa/log.txt)",
			expected: []string{"/uploads/ff00aa/log.txt"},
		},
		{
			name:     "bare link",
			body:     "download from /uploads/deadbeef/dump.sql directly",
			expected: []string{"/uploads/deadbeef/dump.sql"},
		},
		{
			name:     "no attachments",
			body:     "plain text with a [link](https://example.com)",
			expected: nil,
		},
		{
			name: "duplicates collapse",
			body: "![a](/uploads/aa11/x.png) and again [a](/uploads/aa11/x.png)",
			expected: []string{"/uploads/aa11/x.png"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.expected, ScanAttachmentPaths(tt.body))
		})
	}
}

func TestScanAttachmentPathsAcrossBodies(t *testing.T) {
	paths := ScanAttachmentPaths(
		"description with ![x](/uploads/1111aa/first.png)",
		"note with [y](/uploads/2222bb/second.pdf)",
		"note repeating ![x](/uploads/1111aa/first.png)",
	)
	require.Equal(t, []string{"/uploads/1111aa/first.png", "/uploads/2222bb/second.pdf"}, paths)
}

func TestOverallStatus(t *testing.T) {
	tests := []struct {
		name       string
		components map[string]ComponentStatus
		expected   string
	}{
		{
			name: "all completed",
			components: map[string]ComponentStatus{
				"repository": {Status: "completed"},
				"issues":     {Status: "completed"},
			},
			expected: "success",
		},
		{
			name: "skipped counts as completed",
			components: map[string]ComponentStatus{
				"repository": {Status: "skipped"},
				"issues":     {Status: "completed"},
			},
			expected: "success",
		},
		{
			name: "some failed",
			components: map[string]ComponentStatus{
				"repository": {Status: "completed"},
				"wiki":       {Status: "failed"},
			},
			expected: "partial",
		},
		{
			name: "all failed",
			components: map[string]ComponentStatus{
				"repository": {Status: "failed"},
			},
			expected: "failed",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.expected, overallStatus(tt.components))
		})
	}
}

func TestSanitizeAssetName(t *testing.T) {
	require.Equal(t, "installer.deb", sanitizeAssetName("installer.deb"))
	require.Equal(t, "passwd", sanitizeAssetName("../../etc/passwd"))
}

func TestBuildPackageScript(t *testing.T) {
	script := buildPackageScript("group/proj", nil)
	require.Contains(t, script, "#!/usr/bin/env bash")
	require.Contains(t, script, "group/proj")
}
