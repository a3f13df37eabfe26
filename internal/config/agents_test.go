package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/harun/nanobot/pkg/agent"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAgentProfiles(t *testing.T) {
	data := []byte(`
agents:
  - id: math-tutor
    name: Math Tutor
    system_prompt: You solve arithmetic step by step.
    tools: [calculator]
    llm_profile: deepseek
    max_iterations: 5
    context_window: 40
  - id: retired
    enabled: false
`)

	profiles, err := ParseAgentProfiles(data)
	require.NoError(t, err)
	require.Len(t, profiles, 2)

	math := profiles[0]
	assert.Equal(t, "math-tutor", math.ID)
	assert.Equal(t, "You solve arithmetic step by step.", math.SystemPrompt)
	assert.Equal(t, []string{"calculator"}, math.Tools)
	assert.Equal(t, "deepseek", math.LLMProfile)
	assert.Equal(t, 5, math.MaxIterations)
	assert.Equal(t, 40, math.ContextWindow)
	assert.True(t, math.Enabled)

	assert.False(t, profiles[1].Enabled)
}

func TestParseAgentProfiles_Errors(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		wantErr string
	}{
		{name: "invalid yaml", data: "agents: [", wantErr: "failed to parse"},
		{name: "missing id", data: "agents:\n  - name: Nameless\n", wantErr: "id is required"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseAgentProfiles([]byte(tt.data))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoadAgentProfiles_MissingFile(t *testing.T) {
	_, err := LoadAgentProfiles(filepath.Join(t.TempDir(), "agents.yaml"))
	require.Error(t, err)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestMergeProfiles(t *testing.T) {
	base := []agent.Profile{{ID: "a", Name: "A"}, {ID: "b", Name: "B"}}
	overrides := []agent.Profile{{ID: "b", Name: "B2"}, {ID: "c", Name: "C"}}

	merged := MergeProfiles(base, overrides)
	require.Len(t, merged, 3)
	assert.Equal(t, "A", merged[0].Name)
	assert.Equal(t, "B2", merged[1].Name)
	assert.Equal(t, "C", merged[2].Name)
}
