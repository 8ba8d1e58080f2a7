// Package testutil provides fake compareMS2 executables and sample
// directories for tests.
package testutil

import (
	"bufio"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

// Tools holds the paths of fake compareMS2 and compareMS2_to_distance_matrices
// executables. Every invocation is appended to the calls files.
type Tools struct {
	Dir           string
	CompareExe    string
	DistanceExe   string
	CompareCalls  string
	DistanceCalls string
}

// The fake compareMS2 writes a result whose distance is derived from the pair
// names. With -X it also writes a small heatmap matrix. Samples whose name
// contains "fail" make it exit 1; "nooutput" makes it exit 0 without writing
// anything.
const compareScript = `#!/bin/sh
a=""; b=""; out=""; js=""; hx=""
while [ $# -gt 0 ]; do
  case "$1" in
    -A) a="$2"; shift 2 ;;
    -B) b="$2"; shift 2 ;;
    -o) out="$2"; shift 2 ;;
    -J) js="$2"; shift 2 ;;
    -X) hx="$2"; shift 2 ;;
    *) shift ;;
  esac
done
if [ -f "{{DIR}}/delay" ]; then sleep "$(cat "{{DIR}}/delay")"; fi
echo "$a $b" >> "{{DIR}}/compare_calls.txt"
echo "comparing $a and $b"
case "$a$b" in
  *fail*) echo "cannot read spectra" >&2; exit 1 ;;
  *nooutput*) exit 0 ;;
esac
n=$(printf '%s|%s' "$a" "$b" | cksum | cut -d' ' -f1)
d="0.$((n % 90 + 10))"
printf 'dataset_A\t%s\ndataset_B\t%s\nset_distance\t%s\ndataset_A_QC\t1.0\ndataset_B_QC\t1.0\n' "$a" "$b" "$d" > "$out"
if [ -n "$js" ]; then
  printf '{"datasetA":"%s","datasetB":"%s","setDistance":%s}\n' "$a" "$b" "$d" > "$js"
fi
if [ -n "$hx" ]; then
  printf '0\t0\t0\n1\t2\t4\n4\t2\t1\n' > "$hx"
fi
`

// The fake distance tool builds a MEGA matrix from the result files listed
// in the manifest, indexing samples by first appearance.
const distanceScript = `#!/bin/sh
manifest=""; out=""; mega=0
while [ $# -gt 0 ]; do
  case "$1" in
    -i) manifest="$2"; shift 2 ;;
    -o) out="$2"; shift 2 ;;
    -c|-x) shift 2 ;;
    -m) mega=1; shift ;;
    *) shift ;;
  esac
done
echo "$manifest $out $mega" >> "{{DIR}}/distance_calls.txt"
if [ -f "{{DIR}}/distance_fail" ]; then echo "distance failure" >&2; exit 1; fi
if [ $mega -eq 0 ]; then
  echo "#NEXUS" > "${out}_distance_matrix.nexus"
  exit 0
fi
echo "writing distance matrix in MEGA format..."
awk -v manifest="$manifest" 'BEGIN {
  n = 0
  while ((getline f < manifest) > 0) {
    while ((getline line < f) > 0) {
      split(line, p, "\t")
      if (p[1] == "dataset_A") a = p[2]
      else if (p[1] == "dataset_B") b = p[2]
      else if (p[1] == "set_distance") {
        if (!(a in idx)) { idx[a] = n; name[n] = a; n++ }
        if (!(b in idx)) { idx[b] = n; name[n] = b; n++ }
        x = idx[a]; y = idx[b]
        if (x > y) { t = x; x = y; y = t }
        d[y "," x] = p[2]
      }
    }
    close(f)
  }
  print "#mega"
  print "TITLE: fake (lower-left triangular matrix, cutoff=0.8000)"
  print ""
  for (i = 0; i < n; i++) printf "QC\t%s\t1.000\n", name[i]
  print ""
  for (i = 0; i < n; i++) printf "#%s\n", name[i]
  print ""
  print ""
  for (y = 1; y < n; y++) {
    for (x = 0; x < y; x++) printf "%1.5f\t", d[y "," x] + 0
    printf "\n"
  }
}' > "${out}_distance_matrix.meg"
`

// FakeTools writes the fake executables into a fresh temporary directory.
// Tests using it are skipped on Windows.
func FakeTools(t testing.TB) Tools {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fake tools are shell scripts")
	}
	dir := t.TempDir()
	tools := Tools{
		Dir:           dir,
		CompareExe:    filepath.Join(dir, "compareMS2"),
		DistanceExe:   filepath.Join(dir, "compareMS2_to_distance_matrices"),
		CompareCalls:  filepath.Join(dir, "compare_calls.txt"),
		DistanceCalls: filepath.Join(dir, "distance_calls.txt"),
	}
	writeExe(t, tools.CompareExe, strings.ReplaceAll(compareScript, "{{DIR}}", dir))
	writeExe(t, tools.DistanceExe, strings.ReplaceAll(distanceScript, "{{DIR}}", dir))
	return tools
}

func writeExe(t testing.TB, path, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(body), 0o755))
}

// SetCompareDelay makes every fake comparison sleep for the given number of
// seconds (a decimal string such as "0.2"). An empty string removes the delay.
func (tl Tools) SetCompareDelay(t testing.TB, seconds string) {
	t.Helper()
	path := filepath.Join(tl.Dir, "delay")
	if seconds == "" {
		_ = os.Remove(path)
		return
	}
	require.NoError(t, os.WriteFile(path, []byte(seconds), 0o644))
}

// FailDistance makes the fake distance tool exit 1 while set.
func (tl Tools) FailDistance(t testing.TB, fail bool) {
	t.Helper()
	path := filepath.Join(tl.Dir, "distance_fail")
	if !fail {
		_ = os.Remove(path)
		return
	}
	require.NoError(t, os.WriteFile(path, nil, 0o644))
}

// CompareCallLines returns the recorded compareMS2 invocations as "A B" lines.
func (tl Tools) CompareCallLines(t testing.TB) []string {
	t.Helper()
	return readLines(t, tl.CompareCalls)
}

// DistanceCallLines returns the recorded distance tool invocations.
func (tl Tools) DistanceCallLines(t testing.TB) []string {
	t.Helper()
	return readLines(t, tl.DistanceCalls)
}

func readLines(t testing.TB, path string) []string {
	t.Helper()
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil
	}
	require.NoError(t, err)
	defer f.Close()

	var lines []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}
	require.NoError(t, sc.Err())
	return lines
}

// SampleDir creates a directory with one .mgf file per entry of sizes, each
// filled with the given number of bytes.
func SampleDir(t testing.TB, sizes map[string]int) string {
	t.Helper()
	dir := t.TempDir()
	for name, size := range sizes {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), make([]byte, size), 0o644))
	}
	return dir
}
