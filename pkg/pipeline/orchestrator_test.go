package pipeline

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/forgemove/ghmigrate/pkg/config"
)

func TestModeSequences(t *testing.T) {
	tests := []struct {
		mode     config.Mode
		expected []StageName
	}{
		{config.ModeDiscoverOnly, []StageName{StageDiscovery}},
		{config.ModeExportOnly, []StageName{StageDiscovery, StageExport}},
		{config.ModeTransformOnly, []StageName{StageDiscovery, StageExport, StageTransform}},
		{config.ModePlanOnly, []StageName{StageDiscovery, StageExport, StageTransform, StagePlan}},
		{config.ModeDryRun, []StageName{StageDiscovery, StageExport, StageTransform, StagePlan, StageApply}},
		{config.ModeApply, []StageName{StageDiscovery, StageExport, StageTransform, StagePlan, StageApply}},
		{config.ModeVerify, []StageName{StageVerify}},
		{config.ModeFull, []StageName{StageDiscovery, StageExport, StageTransform, StagePlan, StageApply, StageVerify}},
		{config.ModeSingleProject, []StageName{StageExport, StageTransform, StagePlan}},
	}
	for _, tt := range tests {
		t.Run(string(tt.mode), func(t *testing.T) {
			require.Equal(t, tt.expected, modeSequences[tt.mode])
		})
	}
	require.Len(t, modeSequences, len(config.ValidModes), "every mode has a sequence")
}

func TestSliceFrom(t *testing.T) {
	sequence := []StageName{StageDiscovery, StageExport, StageTransform, StagePlan}
	require.Equal(t, []StageName{StageTransform, StagePlan}, sliceFrom(sequence, StageTransform))
	require.Equal(t, sequence, sliceFrom(sequence, "nonexistent"), "unknown resume point keeps the full sequence")
}

func TestRunStatus(t *testing.T) {
	require.Equal(t, "success", runStatus([]StageResult{{Status: "success"}}))
	require.Equal(t, "partial", runStatus([]StageResult{{Status: "success"}, {Status: "partial"}}))
}
