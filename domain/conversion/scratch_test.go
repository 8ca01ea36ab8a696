package conversion

import (
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMaterializeScratch(t *testing.T) {
	path, cleanup, err := materializeScratch(strings.NewReader("solid content"), "part.step")
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "solid content", string(data))
	assert.True(t, strings.HasSuffix(path, ".step"))

	cleanup()
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

func TestDerivedFilename(t *testing.T) {
	tests := []struct {
		name     string
		source   string
		ext      string
		expected string
	}{
		{"swaps extension", "bracket.step", ".glb", "bracket.glb"},
		{"no source extension", "bracket", ".glb", "bracket.glb"},
		{"properties suffix", "housing.sldprt", ".properties.json", "housing.properties.json"},
		{"extension only", ".step", ".glb", "derived.glb"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, derivedFilename(tt.source, tt.ext))
		})
	}
}
