package distmatrix

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/524D/compareMS2/internal/models"
	"github.com/524D/compareMS2/internal/runner"
)

// Output file suffixes appended to the output stem by the distance tool.
const (
	MegaSuffix  = "_distance_matrix.meg"
	NexusSuffix = "_distance_matrix.nexus"
)

// Format selects the output format of the distance tool.
type Format int

const (
	FormatMega Format = iota
	FormatNexus
)

// Request describes one run of the distance tool.
type Request struct {
	// Manifest lists compareMS2 result files, one path per line.
	Manifest string
	// OutputStem is the output path without the format suffix.
	OutputStem string
	Cutoff     float64
	// S2SFile is passed only when it names an existing regular file. A
	// relative path is taken from SampleDir.
	S2SFile   string
	SampleDir string
	Format  Format
	Log     runner.LogFunc
}

// Generator runs compareMS2_to_distance_matrices.
type Generator struct {
	exe string
}

// NewGenerator creates a generator for the executable at exe.
func NewGenerator(exe string) *Generator {
	return &Generator{exe: exe}
}

// OutputPath returns the file the tool writes for the request.
func (r Request) OutputPath() string {
	if r.Format == FormatNexus {
		return r.OutputStem + NexusSuffix
	}
	return r.OutputStem + MegaSuffix
}

// Args returns the command line for the request.
func (r Request) Args() []string {
	args := []string{
		"-i", r.Manifest,
		"-o", r.OutputStem,
		"-c", models.FormatNumber(r.Cutoff),
	}
	if r.Format == FormatMega {
		args = append(args, "-m")
	}
	if s2s := r.s2sPath(); isRegularFile(s2s) {
		args = append(args, "-x", s2s)
	}
	return args
}

func (r Request) s2sPath() string {
	if r.S2SFile == "" || filepath.IsAbs(r.S2SFile) {
		return r.S2SFile
	}
	return filepath.Join(r.SampleDir, r.S2SFile)
}

// Generate runs the tool and returns the path of the file it wrote.
func (g *Generator) Generate(ctx context.Context, req Request) (string, error) {
	args := req.Args()
	slog.Debug("running distance tool", "exe", g.exe, "args", args)

	err := runner.Run(ctx, runner.Command{
		Path: g.exe,
		Args: args,
		Log:  req.Log,
	})
	if err != nil {
		return "", fmt.Errorf("distance matrix generation: %w", err)
	}

	out := req.OutputPath()
	if !isRegularFile(out) {
		return "", fmt.Errorf("distance matrix generation: %s not written", out)
	}
	return out, nil
}

func isRegularFile(path string) bool {
	if path == "" {
		return false
	}
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}
