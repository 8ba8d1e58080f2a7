// Package upgma builds average-linkage (UPGMA) trees from lower-triangular
// distance matrices and serializes them in Newick format.
package upgma

import (
	"errors"
	"fmt"
	"math"
	"regexp"
	"strings"

	"github.com/524D/compareMS2/internal/models"
)

// ErrInvalidTable is returned when the table is not lower-triangular or does
// not match the labels.
var ErrInvalidTable = errors.New("invalid distance table")

// Node is a tree node. Leaves have Left and Right set to -1.
type Node struct {
	Label       string
	Left        int
	Right       int
	LeftLength  float64
	RightLength float64
	// Height is the distance from this node to its leaves.
	Height float64
}

// IsLeaf reports whether the node has no children.
func (n Node) IsLeaf() bool {
	return n.Left < 0
}

// Tree is a binary tree stored as an arena of nodes addressed by index.
type Tree struct {
	Nodes []Node
	Root  int
}

// Build runs UPGMA on table and labels and returns the Newick string without
// the trailing semicolon. It returns "" when no tree can be built.
func Build(table [][]float64, labels []string) string {
	t, err := BuildTree(table, labels)
	if err != nil {
		return ""
	}
	return t.Newick()
}

// BuildTree runs UPGMA and returns the resulting tree. Row i of table must
// hold exactly i distances and there must be one label per row. The inputs
// are not modified.
func BuildTree(table [][]float64, labels []string) (*Tree, error) {
	if err := validate(table, labels); err != nil {
		return nil, err
	}

	n := len(labels)
	dist := make([][]float64, n)
	weight := make([][]float64, n)
	for i := range table {
		dist[i] = append([]float64(nil), table[i]...)
		weight[i] = make([]float64, i)
		for j := range weight[i] {
			weight[i][j] = 1
		}
	}

	tree := &Tree{Nodes: make([]Node, 0, 2*n-1)}
	// clusters[i] is the node index of the cluster in row i
	clusters := make([]int, n)
	for i, l := range labels {
		tree.Nodes = append(tree.Nodes, Node{Label: l, Left: -1, Right: -1})
		clusters[i] = i
	}

	for len(clusters) > 1 {
		r, c, d, ok := lowestCell(dist)
		if !ok {
			return nil, fmt.Errorf("%w: no finite minimum among %d clusters", ErrInvalidTable, len(clusters))
		}
		if r <= c {
			return nil, fmt.Errorf("%w: minimum at (%d,%d) outside lower triangle", ErrInvalidTable, r, c)
		}

		clusters[c] = tree.join(clusters[c], clusters[r], d)
		clusters = append(clusters[:r], clusters[r+1:]...)
		dist, weight = joinTable(dist, weight, r, c)
	}

	tree.Root = clusters[0]
	return tree, nil
}

func validate(table [][]float64, labels []string) error {
	if len(labels) == 0 {
		return fmt.Errorf("%w: no labels", ErrInvalidTable)
	}
	if len(labels) != len(table) {
		return fmt.Errorf("%w: %d labels for %d rows", ErrInvalidTable, len(labels), len(table))
	}
	for i, row := range table {
		if len(row) != i {
			return fmt.Errorf("%w: row %d has %d entries", ErrInvalidTable, i, len(row))
		}
	}
	return nil
}

// lowestCell returns the first minimum in row-major order.
func lowestCell(table [][]float64) (row, col int, value float64, ok bool) {
	value = math.MaxFloat64
	row, col = -1, -1
	for i := range table {
		for j, v := range table[i] {
			if v < value {
				value = v
				row, col = i, j
			}
		}
	}
	return row, col, value, row >= 0
}

// join creates the parent of nodes a and b at distance d and returns its index.
func (t *Tree) join(a, b int, d float64) int {
	h := d / 2
	t.Nodes = append(t.Nodes, Node{
		Left:        a,
		Right:       b,
		LeftLength:  h - t.Nodes[a].Height,
		RightLength: h - t.Nodes[b].Height,
		Height:      h,
	})
	return len(t.Nodes) - 1
}

// joinTable merges row and column r into c by weighted averaging, then
// removes row and column r. Requires r > c.
func joinTable(table, weight [][]float64, r, c int) ([][]float64, [][]float64) {
	row := make([]float64, c)
	rowWeight := make([]float64, c)
	for i := 0; i < c; i++ {
		row[i] = (table[c][i]*weight[c][i] + table[r][i]*weight[r][i]) / (weight[c][i] + weight[r][i])
		rowWeight[i] = weight[c][i] + weight[r][i]
	}
	table[c] = row
	weight[c] = rowWeight

	for i := c + 1; i < r; i++ {
		table[i][c] = (table[i][c]*weight[i][c] + table[r][i]*weight[r][i]) / (weight[i][c] + weight[r][i])
		weight[i][c] = weight[i][c] + weight[r][i]
	}

	for i := r + 1; i < len(table); i++ {
		table[i][c] = (table[i][c]*weight[i][c] + table[i][r]*weight[i][r]) / (weight[i][c] + weight[i][r])
		weight[i][c] = weight[i][c] + weight[i][r]
		table[i] = append(table[i][:r], table[i][r+1:]...)
		weight[i] = append(weight[i][:r], weight[i][r+1:]...)
	}

	table = append(table[:r], table[r+1:]...)
	weight = append(weight[:r], weight[r+1:]...)
	return table, weight
}

// Newick serializes the tree without the trailing semicolon.
func (t *Tree) Newick() string {
	var sb strings.Builder
	t.writeNewick(&sb, t.Root)
	return sb.String()
}

func (t *Tree) writeNewick(sb *strings.Builder, idx int) {
	n := t.Nodes[idx]
	if n.IsLeaf() {
		sb.WriteString(n.Label)
		return
	}
	sb.WriteByte('(')
	t.writeNewick(sb, n.Left)
	sb.WriteByte(':')
	sb.WriteString(models.FormatNumber(n.LeftLength))
	sb.WriteByte(',')
	t.writeNewick(sb, n.Right)
	sb.WriteByte(':')
	sb.WriteString(models.FormatNumber(n.RightLength))
	sb.WriteByte(')')
}

// Leaves returns the leaf labels in Newick order.
func (t *Tree) Leaves() []string {
	var out []string
	var walk func(int)
	walk = func(idx int) {
		n := t.Nodes[idx]
		if n.IsLeaf() {
			out = append(out, n.Label)
			return
		}
		walk(n.Left)
		walk(n.Right)
	}
	walk(t.Root)
	return out
}

var branchLengthRe = regexp.MustCompile(`:[-+0-9.eE]+`)

// StripBranchLengths removes every ":<number>" annotation, leaving the topology.
func StripBranchLengths(newick string) string {
	return branchLengthRe.ReplaceAllString(newick, "")
}

var unsafeLabelRe = regexp.MustCompile(`[ :;,()\[\]]`)

// SanitizeLabel replaces characters that are not allowed in Newick labels with underscores.
func SanitizeLabel(label string) string {
	return unsafeLabelRe.ReplaceAllString(label, "_")
}
