// Package cache implements the content-addressed store of compareMS2 results.
//
// A result is named by the fingerprint of the parameter vector that produced
// it. Results are written to a temporary name first and only become visible
// under their final name through an atomic rename, so a final name always
// refers to a complete file.
package cache

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/524D/compareMS2/internal/models"
)

// DirName is the name of the cache directory inside a sample directory.
const DirName = "compareresult"

// FingerprintLen is the number of hex characters in a fingerprint.
const FingerprintLen = 24

// existsMemoSize bounds the number of remembered cache hits.
const existsMemoSize = 8192

// ErrPromotion is returned when a temporary result cannot be renamed to its final name.
var ErrPromotion = errors.New("cache promotion failed")

// Fingerprint returns the first 24 hex characters of the SHA-256 of the JSON
// document {"cmdArgs":[...]}. Strings and float64 values keep their JSON types;
// numbers are written in shortest round-trip form.
func Fingerprint(args []any) string {
	var buf bytes.Buffer
	buf.WriteString(`{"cmdArgs":[`)
	for i, a := range args {
		if i > 0 {
			buf.WriteByte(',')
		}
		writeJSONValue(&buf, a)
	}
	buf.WriteString(`]}`)

	sum := sha256.Sum256(buf.Bytes())
	return hex.EncodeToString(sum[:])[:FingerprintLen]
}

func writeJSONValue(buf *bytes.Buffer, v any) {
	switch x := v.(type) {
	case float64:
		buf.WriteString(models.FormatNumber(x))
	case int:
		buf.WriteString(strconv.Itoa(x))
	case string:
		enc := json.NewEncoder(buf)
		enc.SetEscapeHTML(false)
		_ = enc.Encode(x)
		// Encode appends a newline
		buf.Truncate(buf.Len() - 1)
	default:
		b, _ := json.Marshal(x)
		buf.Write(b)
	}
}

// Store manages one cache directory.
// All methods are safe for concurrent use.
type Store struct {
	dir  string
	seen *lru.Cache[string, struct{}]
}

// NewStore creates a store rooted at dir. The directory is not created until Ensure is called.
func NewStore(dir string) *Store {
	seen, _ := lru.New[string, struct{}](existsMemoSize)
	return &Store{dir: dir, seen: seen}
}

// ForSampleDir returns the store for the cache directory of a sample directory.
func ForSampleDir(sampleDir string) *Store {
	return NewStore(filepath.Join(sampleDir, DirName))
}

// Dir returns the cache directory.
func (s *Store) Dir() string {
	return s.dir
}

// Ensure creates the cache directory if needed.
func (s *Store) Ensure() error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("create cache dir %s: %w", s.dir, err)
	}
	return nil
}

// ResultPath returns the final text result path for a fingerprint.
func (s *Store) ResultPath(fp string) string {
	return filepath.Join(s.dir, fp+".txt")
}

// JSONPath returns the final JSON result path for a fingerprint.
func (s *Store) JSONPath(fp string) string {
	return filepath.Join(s.dir, fp+".json")
}

// HeatmapPath returns the final heatmap matrix path for a fingerprint.
func (s *Store) HeatmapPath(fp string) string {
	return filepath.Join(s.dir, fp+"-x.txt")
}

// TempPath returns a temporary result path unique to the session and the call.
func (s *Store) TempPath(fp, sessionID string) string {
	return filepath.Join(s.dir, fmt.Sprintf("%s-%s-%d.tmp", fp, sessionID, time.Now().UnixNano()))
}

// Exists reports whether a final result exists. Positive answers are
// remembered, since final entries are never removed or rewritten.
func (s *Store) Exists(path string) bool {
	if _, ok := s.seen.Get(path); ok {
		return true
	}
	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		return false
	}
	s.seen.Add(path, struct{}{})
	return true
}

// Promote atomically renames a completed temporary result to its final name.
func (s *Store) Promote(tmp, final string) error {
	if err := os.Rename(tmp, final); err != nil {
		return fmt.Errorf("%w: %s -> %s: %w", ErrPromotion, tmp, final, err)
	}
	s.seen.Add(final, struct{}{})
	return nil
}

// Discard removes a temporary file. Leftover temp files are harmless since
// they never match a final name.
func (s *Store) Discard(tmp string) {
	_ = os.Remove(tmp)
}
