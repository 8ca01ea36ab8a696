package documents

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDocumentVersion_IsConverted(t *testing.T) {
	strPtr := func(s string) *string { return &s }

	tests := []struct {
		name     string
		version  *DocumentVersion
		expected bool
	}{
		{
			name: "ready with artifact",
			version: &DocumentVersion{
				Status:          StatusReady,
				ConvertedFileID: strPtr("file-1"),
			},
			expected: true,
		},
		{
			name:     "pending",
			version:  &DocumentVersion{Status: StatusPending},
			expected: false,
		},
		{
			name: "ready without artifact reference",
			version: &DocumentVersion{
				Status: StatusReady,
			},
			expected: false,
		},
		{
			name: "failed with stale artifact reference",
			version: &DocumentVersion{
				Status:          StatusFailed,
				ConvertedFileID: strPtr("file-1"),
			},
			expected: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.version.IsConverted())
		})
	}
}

func TestDocumentVersion_HasProperties(t *testing.T) {
	fileID := "props-1"
	assert.False(t, (&DocumentVersion{}).HasProperties())
	assert.True(t, (&DocumentVersion{PropertiesFileID: &fileID}).HasProperties())
}

func TestVersionJobPayload_WireFormat(t *testing.T) {
	raw, err := json.Marshal(VersionJobPayload{VersionID: "ver-1", ProjectID: "proj-1"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"versionId":"ver-1","projectId":"proj-1"}`, string(raw))

	// Unknown fields from newer producers are ignored.
	var decoded VersionJobPayload
	require.NoError(t, json.Unmarshal([]byte(`{"versionId":"v","projectId":"p","priority":9}`), &decoded))
	assert.Equal(t, "v", decoded.VersionID)
	assert.Equal(t, "p", decoded.ProjectID)
}
