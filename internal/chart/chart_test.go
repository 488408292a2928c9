package chart

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRender(t *testing.T) {
	dir := t.TempDir()
	bars := []Bar{
		{Label: "Random Forest", Value: 0.97},
		{Label: "Logistic Regression", Value: 0.95},
		{Label: "Decision Tree", Value: 0.91},
	}
	opts := DefaultOptions()
	opts.Highlight = "Random Forest"

	png := filepath.Join(dir, "out", "chart.png")
	require.NoError(t, Render(png, bars, opts))
	data, err := os.ReadFile(png)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(data, []byte("\x89PNG")))

	svg := filepath.Join(dir, "chart.svg")
	require.NoError(t, Render(svg, bars, Options{Title: "svg"}))
	data, err = os.ReadFile(svg)
	require.NoError(t, err)
	assert.Contains(t, string(data), "<svg")
}

func TestRenderErrors(t *testing.T) {
	dir := t.TempDir()
	assert.Error(t, Render(filepath.Join(dir, "a.png"), nil, DefaultOptions()))
	assert.Error(t, Render(filepath.Join(dir, "a.gif"), []Bar{{Label: "x", Value: 1}}, DefaultOptions()))
}
