// Package dataset persists converted grid frames as one NetCDF file per
// case, keyed by (case identifier, timestep index).
//
// Each case file has a record dimension "time" and fixed spatial dimensions
// "x", "y", "z", with a single variable named after the scalar field. A case
// is built under "<case>.nc.partial" and renamed to "<case>.nc" when
// finalized, so readers never observe a half-written case: a worker killed
// mid-case leaves the case absent and a re-run rebuilds it from scratch.
package dataset

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/ctessum/cdf"

	"github.com/sweepgrid/sweepgrid/internal/vti"
)

const (
	finalExt      = ".nc"
	partialSuffix = ".nc.partial"
	paramAttr     = "param_"
)

// ErrNonContiguous is returned when an append skips ahead of the frames
// already recorded for a case.
var ErrNonContiguous = errors.New("dataset: timestep not contiguous with recorded frames")

// ErrCaseFailed is returned when appending to a case already abandoned
// after a corruption error.
var ErrCaseFailed = errors.New("dataset: case marked failed")

// ShapeError reports a frame whose extents differ from the extents already
// recorded for its case.
type ShapeError struct {
	CaseID   string
	Timestep int
	Have     [3]int
	Got      [3]int
}

func (e *ShapeError) Error() string {
	return fmt.Sprintf("dataset: case %s timestep %d: extents %v differ from recorded %v",
		e.CaseID, e.Timestep, e.Got, e.Have)
}

// DuplicateError reports a re-append of an already recorded timestep.
type DuplicateError struct {
	CaseID   string
	Timestep int
}

func (e *DuplicateError) Error() string {
	return fmt.Sprintf("dataset: case %s: timestep %d already recorded", e.CaseID, e.Timestep)
}

// Builder appends frames case by case and finalizes each case atomically.
// A Builder must own its cases exclusively; parallel workers get disjoint
// case sets via chunk partitioning, not locking.
type Builder struct {
	dir    string
	field  string
	open   map[string]*caseFile
	failed map[string]error
}

type caseFile struct {
	id      string
	ff      *os.File
	f       *cdf.File
	extents [3]int
	count   int
}

// NewBuilder creates (or reuses) the dataset directory and returns a
// Builder storing the named scalar field.
func NewBuilder(dir, field string) (*Builder, error) {
	if field == "" {
		return nil, errors.New("dataset: field name required")
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}
	return &Builder{
		dir:    dir,
		field:  field,
		open:   make(map[string]*caseFile),
		failed: make(map[string]error),
	}, nil
}

func (b *Builder) finalPath(caseID string) string {
	return filepath.Join(b.dir, caseID+finalExt)
}

func (b *Builder) partialPath(caseID string) string {
	return filepath.Join(b.dir, caseID+partialSuffix)
}

// Append records frame data for (caseID, t). The first frame of a case
// fixes its extents and creates the case file; params (may be nil) are
// stored as case metadata at creation. Frames must arrive in order: t equal
// to the number of recorded frames. Earlier t is a *DuplicateError and
// leaves the dataset unchanged; later t is ErrNonContiguous. An extent
// change is a *ShapeError and marks the whole case failed.
func (b *Builder) Append(caseID string, t int, frame *vti.Frame, params map[string]string) error {
	if err, ok := b.failed[caseID]; ok {
		return fmt.Errorf("%w: %s: %w", ErrCaseFailed, caseID, err)
	}

	cf, ok := b.open[caseID]
	if !ok {
		var err error
		cf, err = b.openCase(caseID, frame, params)
		if err != nil {
			return err
		}
		b.open[caseID] = cf
	}

	if t < cf.count {
		return &DuplicateError{CaseID: caseID, Timestep: t}
	}
	if t > cf.count {
		return fmt.Errorf("%w: case %s: got %d, expected %d", ErrNonContiguous, caseID, t, cf.count)
	}
	if frame.Extents != cf.extents {
		err := &ShapeError{CaseID: caseID, Timestep: t, Have: cf.extents, Got: frame.Extents}
		b.fail(caseID, err)
		return err
	}
	if len(frame.Data) != frame.Len() {
		err := fmt.Errorf("dataset: case %s timestep %d: %d values for extents %v",
			caseID, t, len(frame.Data), frame.Extents)
		b.fail(caseID, err)
		return err
	}

	nx, ny, nz := cf.extents[0], cf.extents[1], cf.extents[2]
	w := cf.f.Writer(b.field, []int{t, 0, 0, 0}, []int{t + 1, nx, ny, nz})
	if _, err := w.Write(frame.Data); err != nil {
		b.fail(caseID, err)
		return fmt.Errorf("dataset: case %s timestep %d: %w", caseID, t, err)
	}
	cf.count++
	return nil
}

// openCase opens the partial file for a case, either fresh or by copying an
// already-finalized case file so later runs can extend it.
func (b *Builder) openCase(caseID string, frame *vti.Frame, params map[string]string) (*caseFile, error) {
	partial := b.partialPath(caseID)

	if _, err := os.Stat(b.finalPath(caseID)); err == nil {
		// Extending a finalized case: work on a copy, swap on finalize.
		if err := copyFile(b.finalPath(caseID), partial); err != nil {
			return nil, fmt.Errorf("dataset: preparing case %s for extension: %w", caseID, err)
		}
		ff, err := os.OpenFile(partial, os.O_RDWR, 0644)
		if err != nil {
			return nil, err
		}
		f, err := cdf.Open(ff)
		if err != nil {
			ff.Close()
			return nil, fmt.Errorf("dataset: reopening case %s: %w", caseID, err)
		}
		lens := f.Header.Lengths(b.field)
		if len(lens) != 4 {
			ff.Close()
			return nil, fmt.Errorf("dataset: case %s: unexpected variable shape %v", caseID, lens)
		}
		// The record dimension's stored length is always 0; the recorded
		// frame count comes from the file size.
		fi, err := ff.Stat()
		if err != nil {
			ff.Close()
			return nil, err
		}
		return &caseFile{
			id:      caseID,
			ff:      ff,
			f:       f,
			extents: [3]int{lens[1], lens[2], lens[3]},
			count:   int(f.Header.NumRecs(fi.Size())),
		}, nil
	}

	nx, ny, nz := frame.Extents[0], frame.Extents[1], frame.Extents[2]
	h := cdf.NewHeader([]string{"time", "x", "y", "z"}, []int{0, nx, ny, nz})
	h.AddAttribute("", "case", caseID)
	h.AddAttribute("", "field", b.field)
	for _, k := range sortedKeys(params) {
		h.AddAttribute("", paramAttr+k, params[k])
	}
	h.AddVariable(b.field, []string{"time", "x", "y", "z"}, []float64{0})
	h.Define()
	for _, err := range h.Check() {
		return nil, fmt.Errorf("dataset: case %s: building header: %v", caseID, err)
	}

	ff, err := os.Create(partial)
	if err != nil {
		return nil, err
	}
	f, err := cdf.Create(ff, h)
	if err != nil {
		ff.Close()
		os.Remove(partial)
		return nil, fmt.Errorf("dataset: creating case %s: %w", caseID, err)
	}
	return &caseFile{id: caseID, ff: ff, f: f, extents: frame.Extents}, nil
}

// fail abandons a case: its partial file is removed and later appends are
// rejected. An already-finalized earlier version of the case, if any, is
// left untouched.
func (b *Builder) fail(caseID string, cause error) {
	if cf, ok := b.open[caseID]; ok {
		cf.ff.Close()
		os.Remove(b.partialPath(caseID))
		delete(b.open, caseID)
	}
	b.failed[caseID] = cause
}

// FinalizeCase flushes the case's record count and atomically publishes the
// file. Appending to the case afterwards reopens it for extension.
func (b *Builder) FinalizeCase(caseID string) error {
	if err, ok := b.failed[caseID]; ok {
		return fmt.Errorf("%w: %s: %w", ErrCaseFailed, caseID, err)
	}
	cf, ok := b.open[caseID]
	if !ok {
		return fmt.Errorf("dataset: case %s has no frames to finalize", caseID)
	}
	delete(b.open, caseID)

	if err := cdf.UpdateNumRecs(cf.ff); err != nil {
		cf.ff.Close()
		return fmt.Errorf("dataset: finalizing case %s: %w", caseID, err)
	}
	if err := cf.ff.Close(); err != nil {
		return err
	}
	return os.Rename(b.partialPath(caseID), b.finalPath(caseID))
}

// Frames reports how many frames are recorded for an open case.
func (b *Builder) Frames(caseID string) int {
	if cf, ok := b.open[caseID]; ok {
		return cf.count
	}
	return 0
}

// Close abandons any cases still open without publishing them.
func (b *Builder) Close() error {
	var first error
	for id, cf := range b.open {
		if err := cf.ff.Close(); err != nil && first == nil {
			first = err
		}
		os.Remove(b.partialPath(id))
		delete(b.open, id)
	}
	return first
}

// Dataset reads a finalized dataset directory.
type Dataset struct {
	dir string
}

// Meta describes one finalized case.
type Meta struct {
	CaseID  string
	Field   string
	Extents [3]int
	Frames  int
	Params  map[string]string
}

// Open opens a dataset directory for reading.
func Open(dir string) (*Dataset, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("dataset: %s is not a directory", dir)
	}
	return &Dataset{dir: dir}, nil
}

// Cases lists the finalized case identifiers, sorted. Partial files from
// interrupted builds are ignored.
func (d *Dataset) Cases() ([]string, error) {
	entries, err := os.ReadDir(d.dir)
	if err != nil {
		return nil, err
	}
	var cases []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, finalExt) || strings.HasSuffix(name, partialSuffix) {
			continue
		}
		cases = append(cases, strings.TrimSuffix(name, finalExt))
	}
	sort.Strings(cases)
	return cases, nil
}

func (d *Dataset) openCase(caseID string) (*os.File, *cdf.File, error) {
	ff, err := os.Open(filepath.Join(d.dir, caseID+finalExt))
	if err != nil {
		return nil, nil, err
	}
	f, err := cdf.Open(ff)
	if err != nil {
		ff.Close()
		return nil, nil, fmt.Errorf("dataset: opening case %s: %w", caseID, err)
	}
	return ff, f, nil
}

// Meta returns a finalized case's metadata.
func (d *Dataset) Meta(caseID string) (*Meta, error) {
	ff, f, err := d.openCase(caseID)
	if err != nil {
		return nil, err
	}
	defer ff.Close()

	field, _ := f.Header.GetAttribute("", "field").(string)
	if field == "" {
		return nil, fmt.Errorf("dataset: case %s: missing field attribute", caseID)
	}
	lens := f.Header.Lengths(field)
	if len(lens) != 4 {
		return nil, fmt.Errorf("dataset: case %s: unexpected variable shape %v", caseID, lens)
	}
	// lens[0] is the record dimension and always reads back as 0; the
	// frame count is derived from the file size instead.
	fi, err := ff.Stat()
	if err != nil {
		return nil, err
	}

	params := make(map[string]string)
	for _, a := range f.Header.Attributes("") {
		if strings.HasPrefix(a, paramAttr) {
			if v, ok := f.Header.GetAttribute("", a).(string); ok {
				params[strings.TrimPrefix(a, paramAttr)] = v
			}
		}
	}

	return &Meta{
		CaseID:  caseID,
		Field:   field,
		Extents: [3]int{lens[1], lens[2], lens[3]},
		Frames:  int(f.Header.NumRecs(fi.Size())),
		Params:  params,
	}, nil
}

// Frame reads one timestep of one case.
func (d *Dataset) Frame(caseID string, t int) (*vti.Frame, error) {
	meta, err := d.Meta(caseID)
	if err != nil {
		return nil, err
	}
	if t < 0 || t >= meta.Frames {
		return nil, fmt.Errorf("dataset: case %s: timestep %d out of range [0, %d)", caseID, t, meta.Frames)
	}

	ff, f, err := d.openCase(caseID)
	if err != nil {
		return nil, err
	}
	defer ff.Close()

	nx, ny, nz := meta.Extents[0], meta.Extents[1], meta.Extents[2]
	r := f.Reader(meta.Field, []int{t, 0, 0, 0}, []int{t + 1, nx, ny, nz})
	buf := r.Zero(nx * ny * nz)
	if _, err := r.Read(buf); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("dataset: case %s timestep %d: %w", caseID, t, err)
	}
	data, ok := buf.([]float64)
	if !ok {
		return nil, fmt.Errorf("dataset: case %s: unexpected data type %T", caseID, buf)
	}
	return &vti.Frame{Extents: meta.Extents, Field: meta.Field, Data: data}, nil
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
