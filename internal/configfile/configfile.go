// Package configfile writes and reads the flat, line-oriented case
// descriptor files distributed to sweep workers. A sweep's cases are split
// into consecutive fixed-size chunks, one file per chunk, so that an array
// job's task index maps deterministically onto one chunk.
package configfile

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/sweepgrid/sweepgrid/internal/paramspace"
)

// ErrChunkSize is returned when a non-positive chunk size is requested.
var ErrChunkSize = errors.New("configfile: chunk size must be positive")

// Mode selects how much of each case is written per line.
type Mode int

const (
	// IDOnly writes just the case identifier, one per line.
	IDOnly Mode = iota
	// Full writes the identifier followed by tab-separated name=value
	// assignments, enough to reconstruct the combination.
	Full
)

// Options controls Write.
type Options struct {
	// ChunkSize is the maximum number of cases per file. Zero means all
	// cases in a single file.
	ChunkSize int
	Mode      Mode
}

// Line is one parsed descriptor line.
type Line struct {
	ID     string
	Assign map[string]string // nil for IDOnly files
}

// Write splits cases into chunks and writes config_file_1..config_file_N
// under dir, preserving case order. It returns the chunk paths in order.
func Write(cases []paramspace.Case, dir string, opts Options) ([]string, error) {
	if opts.ChunkSize < 0 {
		return nil, fmt.Errorf("%w: %d", ErrChunkSize, opts.ChunkSize)
	}
	size := opts.ChunkSize
	if size == 0 {
		size = len(cases)
		if size == 0 {
			size = 1
		}
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}

	var paths []string
	for i, n := 0, 1; i < len(cases); i, n = i+size, n+1 {
		end := i + size
		if end > len(cases) {
			end = len(cases)
		}
		path := filepath.Join(dir, fmt.Sprintf("config_file_%d", n))
		if err := writeChunk(cases[i:end], path, opts.Mode); err != nil {
			return nil, err
		}
		paths = append(paths, path)
	}
	return paths, nil
}

func writeChunk(cases []paramspace.Case, path string, mode Mode) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	for _, c := range cases {
		if _, err := w.WriteString(c.ID()); err != nil {
			return err
		}
		if mode == Full {
			for _, name := range c.Names() {
				v, _ := c.Formatted(name)
				if _, err := fmt.Fprintf(w, "\t%s=%s", name, v); err != nil {
					return err
				}
			}
		}
		if err := w.WriteByte('\n'); err != nil {
			return err
		}
	}
	return w.Flush()
}

// Read parses one chunk file back into descriptor lines, preserving order.
func Read(path string) ([]Line, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var lines []Line
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		text := strings.TrimRight(sc.Text(), " \t")
		if text == "" {
			continue
		}
		fields := strings.Split(text, "\t")
		l := Line{ID: fields[0]}
		if len(fields) > 1 {
			l.Assign = make(map[string]string, len(fields)-1)
			for _, kv := range fields[1:] {
				k, v, ok := strings.Cut(kv, "=")
				if !ok {
					return nil, fmt.Errorf("configfile: %s: malformed assignment %q", path, kv)
				}
				l.Assign[k] = v
			}
		}
		lines = append(lines, l)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return lines, nil
}

// Partition maps worker i of n to the chunk indices it owns, 0-based over
// nChunks chunks. Ownership is disjoint by construction: chunk j belongs to
// worker j % n. Callers that give each worker only its own chunks need no
// further coordination.
func Partition(nChunks, n, i int) []int {
	if n <= 0 || i < 0 || i >= n {
		return nil
	}
	var out []int
	for j := i; j < nChunks; j += n {
		out = append(out, j)
	}
	return out
}

// ChunkPaths lists the config_file_N chunks in dir in numeric order.
func ChunkPaths(dir string) ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "config_file_*"))
	if err != nil {
		return nil, err
	}
	sort.Slice(matches, func(a, b int) bool {
		return chunkIndex(matches[a]) < chunkIndex(matches[b])
	})
	return matches, nil
}

func chunkIndex(path string) int {
	var n int
	fmt.Sscanf(filepath.Base(path), "config_file_%d", &n)
	return n
}
