// Package convert drives the archive-to-dataset pipeline: walk a results
// archive, parse each per-timestep grid file, and append it to the case
// dataset. Corruption is contained per case: a broken case is abandoned and
// logged while the remaining cases keep converting.
package convert

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/sweepgrid/sweepgrid/internal/archive"
	"github.com/sweepgrid/sweepgrid/internal/dataset"
	"github.com/sweepgrid/sweepgrid/internal/vti"
)

// Options configures a conversion run.
type Options struct {
	// Field is the scalar field to extract from each grid file.
	Field string
	// SliceTop keeps only the highest-z 2D plane of each 3D frame.
	SliceTop bool
	// TempDir overrides where frames are extracted while being parsed.
	TempDir string
	// Params supplies per-case parameter assignments stored as dataset
	// metadata, keyed by case identifier. May be nil.
	Params map[string]map[string]string
	// Log receives progress and per-case failures. Defaults to the
	// standard logger.
	Log *logrus.Logger
}

// Result summarizes a conversion run.
type Result struct {
	Cases   int
	Frames  int
	Skipped int
	// Failed maps abandoned case identifiers to the error that sank them.
	Failed map[string]error
}

// Run converts the archive at archivePath into the dataset at datasetDir.
// It returns an error only for faults that prevent the run itself (bad
// archive, unwritable dataset); per-case corruption lands in Result.Failed.
func Run(archivePath, datasetDir string, opts Options) (*Result, error) {
	log := opts.Log
	if log == nil {
		log = logrus.StandardLogger()
	}
	if opts.Field == "" {
		return nil, errors.New("convert: scalar field name required")
	}

	w, err := archive.Open(archivePath, archive.WithLogger(log), archive.WithTempDir(opts.TempDir))
	if err != nil {
		return nil, err
	}
	defer w.Close()

	b, err := dataset.NewBuilder(datasetDir, opts.Field)
	if err != nil {
		return nil, err
	}
	defer b.Close()

	res := &Result{Failed: make(map[string]error)}
	current := "" // case currently being appended, finalized on change

	finalizeCurrent := func() {
		if current == "" {
			return
		}
		if _, failed := res.Failed[current]; failed {
			current = ""
			return
		}
		if err := b.FinalizeCase(current); err != nil {
			log.WithField("case", current).WithError(err).Error("finalizing case")
			res.Failed[current] = err
		} else {
			res.Cases++
		}
		current = ""
	}

	failCase := func(caseID string, cause error) {
		if _, seen := res.Failed[caseID]; seen {
			return
		}
		log.WithField("case", caseID).WithError(cause).Error("abandoning corrupt case")
		res.Failed[caseID] = cause
		if current == caseID {
			current = ""
		}
	}

	for {
		entry, err := w.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			// Sequence errors are local to one case; anything else kills
			// the run.
			var gap *archive.GapError
			var ooo *archive.OrderError
			switch {
			case errors.As(err, &gap):
				failCase(gap.CaseID, err)
				continue
			case errors.As(err, &ooo):
				failCase(ooo.CaseID, err)
				continue
			default:
				return res, err
			}
		}

		if _, failed := res.Failed[entry.CaseID]; failed {
			os.Remove(entry.Path)
			continue
		}
		if entry.CaseID != current {
			finalizeCurrent()
			current = entry.CaseID
		}

		if err := appendEntry(b, entry, opts); err != nil {
			failCase(entry.CaseID, err)
			continue
		}
		res.Frames++
	}
	finalizeCurrent()
	res.Skipped = w.Skipped()

	if len(res.Failed) > 0 {
		log.WithField("failed", len(res.Failed)).Warn("conversion finished with failed cases")
	}
	return res, nil
}

func appendEntry(b *dataset.Builder, entry *archive.Entry, opts Options) error {
	defer os.Remove(entry.Path)

	frame, err := vti.ReadFile(entry.Path, opts.Field)
	if err != nil {
		return fmt.Errorf("case %s timestep %d: %w", entry.CaseID, entry.Timestep, err)
	}
	if opts.SliceTop {
		frame = frame.TopSlice()
	}
	return b.Append(entry.CaseID, entry.Timestep, frame, opts.Params[entry.CaseID])
}
