// Package distmatrix reads the MEGA distance matrices written by
// compareMS2_to_distance_matrices and drives that tool.
package distmatrix

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"regexp"
	"strconv"
	"strings"

	"github.com/524D/compareMS2/internal/upgma"
)

// ErrIncomplete is returned when a result is requested before the last line was seen.
var ErrIncomplete = errors.New("distance matrix not complete")

// Matrix is a lower-triangular distance matrix with one label per row.
// Row 0 is empty and row i holds the distances to rows 0..i-1.
type Matrix struct {
	Labels  []string
	Table   [][]float64
	Quality Quality
}

// Quality holds the per-label quality scores and their running statistics.
type Quality struct {
	Scores map[string]float64
	Min    float64
	Max    float64
	Sum    float64
	N      int
}

// Mean returns the average quality score, or 0 without scores.
func (q Quality) Mean() float64 {
	if q.N == 0 {
		return 0
	}
	return q.Sum / float64(q.N)
}

// Range returns min and max, or zeros without scores.
func (q Quality) Range() (float64, float64) {
	if q.N == 0 {
		return 0, 0
	}
	return q.Min, q.Max
}

type parseState int

const (
	stateInit parseState = iota
	stateLabels
	stateMatrix
)

var (
	labelRe     = regexp.MustCompile(`^QC\s+(.+)\s+([0-9.]+)$`)
	matrixRe    = regexp.MustCompile(`^[0-9. \t]+$`)
	matrixNumRe = regexp.MustCompile(`[0-9.]+`)
)

// Parser is a line-oriented MEGA matrix parser. Lines that match neither the
// label nor the matrix grammar are skipped.
type Parser struct {
	state    parseState
	matrix   Matrix
	finished bool
}

// NewParser creates a parser in its initial state.
func NewParser() *Parser {
	return &Parser{
		matrix: Matrix{
			Table: [][]float64{{}},
			Quality: Quality{
				Scores: make(map[string]float64),
				Min:    math.MaxFloat64,
				Max:    -math.MaxFloat64,
			},
		},
	}
}

// Feed processes one line, without its line terminator.
func (p *Parser) Feed(line string) {
	line = strings.TrimRight(line, "\r")

	if p.state == stateInit || p.state == stateLabels {
		if m := labelRe.FindStringSubmatch(line); m != nil {
			p.state = stateLabels
			p.addLabel(m[1], m[2])
			return
		}
		if p.state == stateLabels {
			p.state = stateMatrix
		}
	}

	if p.state == stateMatrix && matrixRe.MatchString(line) {
		p.addRow(matrixNumRe.FindAllString(line, -1))
	}
}

func (p *Parser) addLabel(name, score string) {
	label := upgma.SanitizeLabel(name)
	p.matrix.Labels = append(p.matrix.Labels, label)

	q, err := strconv.ParseFloat(score, 64)
	if err != nil {
		q = math.NaN()
	}
	qs := &p.matrix.Quality
	qs.Scores[label] = q
	qs.Min = math.Min(q, qs.Min)
	qs.Max = math.Max(q, qs.Max)
	qs.Sum += q
	qs.N++
}

func (p *Parser) addRow(fields []string) {
	row := make([]float64, len(fields))
	for i, f := range fields {
		v, err := strconv.ParseFloat(f, 64)
		if err != nil {
			v = math.NaN()
		}
		row[i] = v
	}
	p.matrix.Table = append(p.matrix.Table, row)
}

// Finish marks the end of input.
func (p *Parser) Finish() {
	p.finished = true
}

// Result returns the parsed matrix. It fails with ErrIncomplete until Finish is called.
func (p *Parser) Result() (Matrix, error) {
	if !p.finished {
		return Matrix{}, ErrIncomplete
	}
	return p.matrix, nil
}

// Parse reads r to EOF and returns the matrix.
func Parse(r io.Reader) (Matrix, error) {
	p := NewParser()
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 16*1024*1024)
	for sc.Scan() {
		p.Feed(sc.Text())
	}
	if err := sc.Err(); err != nil {
		return Matrix{}, fmt.Errorf("read distance matrix: %w", err)
	}
	p.Finish()
	return p.Result()
}

// ParseFile parses the MEGA file at path.
func ParseFile(path string) (Matrix, error) {
	f, err := os.Open(path)
	if err != nil {
		return Matrix{}, fmt.Errorf("open distance matrix: %w", err)
	}
	defer f.Close()
	return Parse(f)
}
