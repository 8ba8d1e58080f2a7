package distmatrix

import (
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleMega = `#mega
TITLE: comp-ab12_distance_matrix.meg (lower-left triangular matrix, cutoff=0.8000)

QC	sample one.mgf	0.500
QC	b:2.mgf	1.500
QC	c.mgf	1.000

#sample one.mgf
#b:2.mgf
#c.mgf


0.20000	
0.40000	0.60000	
`

func TestParseMega(t *testing.T) {
	m, err := Parse(strings.NewReader(sampleMega))
	require.NoError(t, err)

	assert.Equal(t, []string{"sample_one.mgf", "b_2.mgf", "c.mgf"}, m.Labels)
	assert.Equal(t, [][]float64{{}, {0.2}, {0.4, 0.6}}, m.Table)

	assert.Equal(t, 3, m.Quality.N)
	assert.Equal(t, 0.5, m.Quality.Scores["sample_one.mgf"])
	assert.InDelta(t, 1.0, m.Quality.Mean(), 1e-12)
	lo, hi := m.Quality.Range()
	assert.Equal(t, 0.5, lo)
	assert.Equal(t, 1.5, hi)
}

func TestParseCRLF(t *testing.T) {
	in := strings.ReplaceAll(sampleMega, "\n", "\r\n")

	m, err := Parse(strings.NewReader(in))
	require.NoError(t, err)

	assert.Len(t, m.Labels, 3)
	assert.Equal(t, [][]float64{{}, {0.2}, {0.4, 0.6}}, m.Table)
}

func TestParserResultBeforeFinish(t *testing.T) {
	p := NewParser()
	for _, line := range strings.Split(sampleMega, "\n") {
		p.Feed(line)
	}

	_, err := p.Result()
	assert.ErrorIs(t, err, ErrIncomplete)

	p.Finish()
	m, err := p.Result()
	require.NoError(t, err)
	assert.Len(t, m.Labels, 3)
}

func TestParseMatrixLinesBeforeLabelsIgnored(t *testing.T) {
	in := "0.1\t0.2\nQC\tA\t1.0\n\n0.3\t\n"

	m, err := Parse(strings.NewReader(in))
	require.NoError(t, err)

	assert.Equal(t, []string{"A"}, m.Labels)
	assert.Equal(t, [][]float64{{}, {0.3}}, m.Table)
}

func TestParseMalformedNumber(t *testing.T) {
	in := "QC\tA\t1.0\nQC\tB\t1.0\n1.2.3\t\n"

	m, err := Parse(strings.NewReader(in))
	require.NoError(t, err)

	require.Len(t, m.Table, 2)
	require.Len(t, m.Table[1], 1)
	assert.True(t, math.IsNaN(m.Table[1][0]))
}

func TestParseEmpty(t *testing.T) {
	m, err := Parse(strings.NewReader(""))
	require.NoError(t, err)

	assert.Empty(t, m.Labels)
	assert.Equal(t, [][]float64{{}}, m.Table)
	assert.Zero(t, m.Quality.Mean())
	lo, hi := m.Quality.Range()
	assert.Zero(t, lo)
	assert.Zero(t, hi)
}

func TestParseFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "x"+MegaSuffix)
	require.NoError(t, os.WriteFile(path, []byte(sampleMega), 0o644))

	m, err := ParseFile(path)
	require.NoError(t, err)
	assert.Len(t, m.Labels, 3)

	_, err = ParseFile(filepath.Join(t.TempDir(), "missing.meg"))
	assert.Error(t, err)
}
