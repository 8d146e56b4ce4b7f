// Package archive walks a compressed simulation output archive.
//
// The archive is a .tar.gz holding one subdirectory per case, each with
// sequentially numbered per-timestep grid files named
// <case>/<prefix>.<ext>.<timestep>. The walker streams entries forward-only,
// without extracting the archive to persistent storage, and verifies per
// case that timesteps start at zero and increase by exactly one.
package archive

import (
	"archive/tar"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"regexp"
	"strconv"

	"github.com/klauspost/compress/gzip"
	"github.com/sirupsen/logrus"
)

// frameRe matches "<prefix>.<ext>.<timestep>" file names, e.g.
// "IN1003d.vti.12".
var frameRe = regexp.MustCompile(`^(.+\.[A-Za-z][A-Za-z0-9]*)\.([0-9]+)$`)

// GapError reports a skipped timestep within a case.
type GapError struct {
	CaseID   string
	Expected int
	Got      int
}

func (e *GapError) Error() string {
	return fmt.Sprintf("archive: case %s: timestep gap: expected %d, got %d", e.CaseID, e.Expected, e.Got)
}

// OrderError reports a timestep index that decreased or repeated within a
// case.
type OrderError struct {
	CaseID string
	Last   int
	Got    int
}

func (e *OrderError) Error() string {
	return fmt.Sprintf("archive: case %s: timestep out of order: %d after %d", e.CaseID, e.Got, e.Last)
}

// Entry is one recognized per-timestep frame. Path points at a temporary
// file holding the extracted frame; the consumer owns it and should remove
// it when done.
type Entry struct {
	CaseID   string
	Timestep int
	Path     string
}

// Walker streams frames out of an archive in entry order. It is forward-only
// and consumed once; restarting means opening a new Walker.
type Walker struct {
	f       *os.File
	gz      *gzip.Reader
	tr      *tar.Reader
	log     *logrus.Logger
	tmpDir  string
	last    map[string]int // case -> last seen timestep
	skipped int
}

// Option configures a Walker.
type Option func(*Walker)

// WithLogger routes skip warnings to log instead of the standard logger.
func WithLogger(log *logrus.Logger) Option {
	return func(w *Walker) { w.log = log }
}

// WithTempDir extracts frames under dir instead of the default temp dir.
func WithTempDir(dir string) Option {
	return func(w *Walker) { w.tmpDir = dir }
}

// Open opens a .tar.gz archive for walking.
func Open(archivePath string, opts ...Option) (*Walker, error) {
	f, err := os.Open(archivePath)
	if err != nil {
		return nil, err
	}
	gz, err := gzip.NewReader(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("archive: opening %s: %w", archivePath, err)
	}
	w := &Walker{
		f:    f,
		gz:   gz,
		tr:   tar.NewReader(gz),
		log:  logrus.StandardLogger(),
		last: make(map[string]int),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// Next returns the next recognized frame, io.EOF once the archive is
// exhausted, or a *GapError / *OrderError as soon as a case's timestep
// sequence is found broken. Unrecognized entries are skipped with a warning.
func (w *Walker) Next() (*Entry, error) {
	for {
		hdr, err := w.tr.Next()
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		if err != nil {
			return nil, fmt.Errorf("archive: reading entry: %w", err)
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}

		caseID, step, ok := parseName(hdr.Name)
		if !ok {
			w.skipped++
			w.log.WithField("entry", hdr.Name).Warn("skipping unrecognized archive entry")
			continue
		}

		if err := w.checkSequence(caseID, step); err != nil {
			return nil, err
		}

		p, err := w.extract(hdr.Name)
		if err != nil {
			return nil, err
		}
		return &Entry{CaseID: caseID, Timestep: step, Path: p}, nil
	}
}

// checkSequence enforces 0,1,2,... per case.
func (w *Walker) checkSequence(caseID string, step int) error {
	last, seen := w.last[caseID]
	expected := 0
	if seen {
		expected = last + 1
	}
	switch {
	case step == expected:
		w.last[caseID] = step
		return nil
	case step > expected:
		return &GapError{CaseID: caseID, Expected: expected, Got: step}
	default:
		return &OrderError{CaseID: caseID, Last: last, Got: step}
	}
}

func (w *Walker) extract(name string) (string, error) {
	tmp, err := os.CreateTemp(w.tmpDir, "frame-*")
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(tmp, w.tr); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", fmt.Errorf("archive: extracting %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", err
	}
	return tmp.Name(), nil
}

// parseName extracts the case identifier and timestep index from an entry
// name of the form .../<case>/<prefix>.<ext>.<timestep>.
func parseName(name string) (string, int, bool) {
	dir, base := path.Split(path.Clean(name))
	caseID := path.Base(path.Clean(dir))
	if caseID == "." || caseID == "/" {
		return "", 0, false
	}
	m := frameRe.FindStringSubmatch(base)
	if m == nil {
		return "", 0, false
	}
	step, err := strconv.Atoi(m[2])
	if err != nil {
		return "", 0, false
	}
	return caseID, step, true
}

// Skipped reports how many entries were ignored as unrecognized.
func (w *Walker) Skipped() int { return w.skipped }

// Close releases the underlying readers.
func (w *Walker) Close() error {
	gzErr := w.gz.Close()
	if err := w.f.Close(); err != nil {
		return err
	}
	return gzErr
}
