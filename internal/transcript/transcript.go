// Package transcript extracts the one field the aggregator needs from
// Claude transcript files: the session's working directory. The rest of
// the on-disk format is out of scope.
package transcript

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
)

// maxScanLines bounds the header scan. The cwd appears on the very first
// entries of a transcript; anything deeper is not worth reading.
const maxScanLines = 25

// WorkingDir returns the working directory recorded in the transcript at
// path, or "" if none can be determined. It first scans the leading JSONL
// entries for a "cwd" field, then falls back to decoding the enclosing
// project directory name.
func WorkingDir(path string) string {
	if cwd := scanForCwd(path); cwd != "" {
		return cwd
	}
	return workingDirFromPath(path)
}

func scanForCwd(path string) string {
	f, err := os.Open(path)
	if err != nil {
		return ""
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 1024*1024)

	for i := 0; i < maxScanLines && scanner.Scan(); i++ {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var entry struct {
			Cwd string `json:"cwd"`
		}
		if json.Unmarshal(line, &entry) != nil {
			continue
		}
		if entry.Cwd != "" {
			return entry.Cwd
		}
	}
	return ""
}

// workingDirFromPath decodes the project directory portion of a
// transcript path (~/.claude/projects/<encoded>/<session>.jsonl). The
// encoding replaces every path separator with a dash, which is ambiguous
// for directories whose names contain dashes, so candidates are checked
// against the filesystem from the most-slashes interpretation down.
func workingDirFromPath(path string) string {
	encoded := filepath.Base(filepath.Dir(path))
	if encoded == "" || encoded == "." || encoded == "/" || !strings.HasPrefix(encoded, "-") {
		return ""
	}

	parts := strings.Split(encoded[1:], "-")
	for numSlashes := len(parts); numSlashes > 0; numSlashes-- {
		candidate := "/" + strings.Join(parts[:numSlashes], "/")
		if numSlashes < len(parts) {
			candidate = candidate + "-" + strings.Join(parts[numSlashes:], "-")
		}
		if info, err := os.Stat(candidate); err == nil && info.IsDir() {
			return candidate
		}
	}
	return ""
}
