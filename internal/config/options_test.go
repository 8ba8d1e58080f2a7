package config

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/524D/compareMS2/internal/models"
)

func TestParseOptions_DesktopJSON(t *testing.T) {
	// Values read from form fields are saved as strings.
	data := []byte(`{
  "mgfDir": "/data/samples",
  "outBasename": "primates",
  "maxPrecursorDifference": "2.5",
  "maxRTDifference": "60",
  "startRT": "0",
  "endRT": " 120 ",
  "cutoff": 0.7,
  "topN": -1,
  "outNewick": true,
  "compareOrder": "largest",
  "windowWidth": 1200
}`)

	opts, err := ParseOptions(data)
	require.NoError(t, err)
	assert.Equal(t, "/data/samples", opts.MgfDir)
	assert.Equal(t, "primates", opts.OutBasename)
	assert.Equal(t, 2.5, opts.MaxPrecursorDifference)
	assert.Equal(t, 60.0, opts.MaxRTDifference)
	assert.Equal(t, 120.0, opts.EndRT)
	assert.Equal(t, 0.7, opts.Cutoff)
	assert.Equal(t, -1.0, opts.TopN)
	assert.True(t, opts.OutNewick)
	assert.Equal(t, models.OrderLargest, opts.CompareOrder)

	// Untouched keys keep their defaults.
	def := models.DefaultOptions()
	assert.Equal(t, def.MinBasepeakIntensity, opts.MinBasepeakIntensity)
	assert.Equal(t, def.Noise, opts.Noise)
}

func TestParseOptions_YAML(t *testing.T) {
	data := []byte("mgfDir: /data\ncutoff: 0.9\ns2sFile: species.txt\n")
	opts, err := ParseOptions(data)
	require.NoError(t, err)
	assert.Equal(t, "/data", opts.MgfDir)
	assert.Equal(t, 0.9, opts.Cutoff)
	assert.Equal(t, "species.txt", opts.S2SFile)
	assert.Equal(t, models.OrderSmallestLargest, opts.CompareOrder)
}

func TestParseOptions_Empty(t *testing.T) {
	opts, err := ParseOptions(nil)
	require.NoError(t, err)
	assert.Equal(t, models.DefaultOptions(), opts)
}

func TestParseOptions_Errors(t *testing.T) {
	_, err := ParseOptions([]byte(`{"cutoff": "high"}`))
	assert.ErrorContains(t, err, "cutoff")

	_, err = ParseOptions([]byte(`[1, 2]`))
	assert.Error(t, err)

	_, err = ParseOptions([]byte(`{"mgfDir": [`))
	assert.Error(t, err)
}

func TestSaveAndLoadOptions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "opts.yaml")
	opts := models.DefaultOptions()
	opts.MgfDir = "/data"
	opts.OutNexus = true
	opts.StartRT = 12.5

	require.NoError(t, SaveOptions(path, opts))
	got, err := LoadOptions(path)
	require.NoError(t, err)
	assert.Equal(t, opts, got)

	_, err = LoadOptions(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
