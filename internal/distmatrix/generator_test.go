package distmatrix

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/524D/compareMS2/internal/runner"
)

// fakeDistanceTool writes a script that records its arguments and copies
// fixture to the MEGA or NEXUS output for the -o stem.
func fakeDistanceTool(t *testing.T, fixture string) (exe, argsFile string) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell scripts are not executable on windows")
	}
	dir := t.TempDir()
	fixturePath := filepath.Join(dir, "fixture.meg")
	require.NoError(t, os.WriteFile(fixturePath, []byte(fixture), 0o644))
	argsFile = filepath.Join(dir, "args.txt")
	exe = filepath.Join(dir, "c2d.sh")
	script := `#!/bin/sh
echo "$@" > "` + argsFile + `"
out=""
mega=0
while [ $# -gt 0 ]; do
  case "$1" in
    -o) out="$2"; shift 2 ;;
    -m) mega=1; shift ;;
    *) shift ;;
  esac
done
echo "writing distance matrix"
if [ $mega -eq 1 ]; then
  cp "` + fixturePath + `" "${out}_distance_matrix.meg"
else
  cp "` + fixturePath + `" "${out}_distance_matrix.nexus"
fi
`
	require.NoError(t, os.WriteFile(exe, []byte(script), 0o755))
	return exe, argsFile
}

func TestRequestArgs(t *testing.T) {
	s2s := filepath.Join(t.TempDir(), "sample_to_species.txt")
	require.NoError(t, os.WriteFile(s2s, []byte("a.mgf\tX\n"), 0o644))

	tests := []struct {
		name string
		req  Request
		want []string
	}{
		{
			name: "mega without mapping",
			req:  Request{Manifest: "list.txt", OutputStem: "/d/comp-1", Cutoff: 0.8, S2SFile: "/missing", Format: FormatMega},
			want: []string{"-i", "list.txt", "-o", "/d/comp-1", "-c", "0.8", "-m"},
		},
		{
			name: "mega with mapping",
			req:  Request{Manifest: "list.txt", OutputStem: "/d/comp-1", Cutoff: 0.8, S2SFile: s2s, Format: FormatMega},
			want: []string{"-i", "list.txt", "-o", "/d/comp-1", "-c", "0.8", "-m", "-x", s2s},
		},
		{
			name: "nexus",
			req:  Request{Manifest: "list.txt", OutputStem: "/d/comp", Cutoff: 0.75, Format: FormatNexus},
			want: []string{"-i", "list.txt", "-o", "/d/comp", "-c", "0.75"},
		},
		{
			name: "relative mapping in sample directory",
			req:  Request{Manifest: "l", OutputStem: "o", Cutoff: 1, S2SFile: filepath.Base(s2s), SampleDir: filepath.Dir(s2s), Format: FormatMega},
			want: []string{"-i", "l", "-o", "o", "-c", "1", "-m", "-x", s2s},
		},
		{
			name: "relative mapping outside sample directory",
			req:  Request{Manifest: "l", OutputStem: "o", Cutoff: 1, S2SFile: filepath.Base(s2s), SampleDir: t.TempDir(), Format: FormatMega},
			want: []string{"-i", "l", "-o", "o", "-c", "1", "-m"},
		},
		{
			name: "mapping directory ignored",
			req:  Request{Manifest: "l", OutputStem: "o", Cutoff: 1, S2SFile: filepath.Dir(s2s), Format: FormatMega},
			want: []string{"-i", "l", "-o", "o", "-c", "1", "-m"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.req.Args())
		})
	}
}

func TestRequestOutputPath(t *testing.T) {
	assert.Equal(t, "/d/comp-1"+MegaSuffix, Request{OutputStem: "/d/comp-1"}.OutputPath())
	assert.Equal(t, "/d/comp"+NexusSuffix, Request{OutputStem: "/d/comp", Format: FormatNexus}.OutputPath())
}

func TestGenerateMega(t *testing.T) {
	exe, argsFile := fakeDistanceTool(t, sampleMega)
	stem := filepath.Join(t.TempDir(), "comp-sess")
	var lines []string

	out, err := NewGenerator(exe).Generate(context.Background(), Request{
		Manifest:   "manifest.txt",
		OutputStem: stem,
		Cutoff:     0.8,
		Format:     FormatMega,
		Log:        func(_ runner.Stream, line string) { lines = append(lines, line) },
	})
	require.NoError(t, err)

	assert.Equal(t, stem+MegaSuffix, out)
	assert.Equal(t, []string{"writing distance matrix"}, lines)
	args, err := os.ReadFile(argsFile)
	require.NoError(t, err)
	assert.Equal(t, "-i manifest.txt -o "+stem+" -c 0.8 -m", strings.TrimSpace(string(args)))

	m, err := ParseFile(out)
	require.NoError(t, err)
	assert.Len(t, m.Labels, 3)
}

func TestGenerateNexus(t *testing.T) {
	exe, _ := fakeDistanceTool(t, "#NEXUS\n")
	stem := filepath.Join(t.TempDir(), "comp")

	out, err := NewGenerator(exe).Generate(context.Background(), Request{OutputStem: stem, Format: FormatNexus})

	require.NoError(t, err)
	assert.Equal(t, stem+NexusSuffix, out)
	assert.FileExists(t, out)
}

func TestGenerateToolFailure(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("shell scripts are not executable on windows")
	}
	exe := filepath.Join(t.TempDir(), "fail.sh")
	require.NoError(t, os.WriteFile(exe, []byte("#!/bin/sh\nexit 2\n"), 0o755))

	_, err := NewGenerator(exe).Generate(context.Background(), Request{OutputStem: filepath.Join(t.TempDir(), "x")})

	assert.ErrorIs(t, err, runner.ErrNonZeroExit)
}

func TestGenerateMissingOutput(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("shell scripts are not executable on windows")
	}
	exe := filepath.Join(t.TempDir(), "noop.sh")
	require.NoError(t, os.WriteFile(exe, []byte("#!/bin/sh\nexit 0\n"), 0o755))

	_, err := NewGenerator(exe).Generate(context.Background(), Request{OutputStem: filepath.Join(t.TempDir(), "x")})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "not written")
}
