package archive

import (
	"archive/tar"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

type tarEntry struct {
	name string
	body string
	dir  bool
}

func writeArchive(t *testing.T, entries []tarEntry) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "results.tar.gz")
	f, err := os.Create(path)
	require.NoError(t, err)
	gz := gzip.NewWriter(f)
	tw := tar.NewWriter(gz)
	for _, e := range entries {
		hdr := &tar.Header{Name: e.name, Mode: 0644, Size: int64(len(e.body))}
		if e.dir {
			hdr.Typeflag = tar.TypeDir
			hdr.Mode = 0755
		}
		require.NoError(t, tw.WriteHeader(hdr))
		if !e.dir {
			_, err := tw.Write([]byte(e.body))
			require.NoError(t, err)
		}
	}
	require.NoError(t, tw.Close())
	require.NoError(t, gz.Close())
	require.NoError(t, f.Close())
	return path
}

func frames(caseID string, steps ...int) []tarEntry {
	entries := []tarEntry{{name: caseID + "/", dir: true}}
	for _, s := range steps {
		entries = append(entries, tarEntry{
			name: fmt.Sprintf("%s/IN1003d.vti.%d", caseID, s),
			body: fmt.Sprintf("frame %s %d", caseID, s),
		})
	}
	return entries
}

func collect(t *testing.T, w *Walker) []*Entry {
	t.Helper()
	var out []*Entry
	for {
		e, err := w.Next()
		if errors.Is(err, io.EOF) {
			return out
		}
		require.NoError(t, err)
		t.Cleanup(func() { os.Remove(e.Path) })
		out = append(out, e)
	}
}

func quietLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func TestWalkTwoCases(t *testing.T) {
	entries := append(frames("case_a", 0, 1, 2), frames("case_b", 0, 1)...)
	w, err := Open(writeArchive(t, entries), WithLogger(quietLogger()), WithTempDir(t.TempDir()))
	require.NoError(t, err)
	defer w.Close()

	got := collect(t, w)
	require.Len(t, got, 5)

	byCase := map[string][]int{}
	for _, e := range got {
		byCase[e.CaseID] = append(byCase[e.CaseID], e.Timestep)

		data, err := os.ReadFile(e.Path)
		require.NoError(t, err)
		require.Equal(t, fmt.Sprintf("frame %s %d", e.CaseID, e.Timestep), string(data))
	}
	require.Equal(t, []int{0, 1, 2}, byCase["case_a"])
	require.Equal(t, []int{0, 1}, byCase["case_b"])
}

func TestWalkGapFailsBeforeNextCase(t *testing.T) {
	entries := append(frames("case_a", 0, 2), frames("case_b", 0)...)
	w, err := Open(writeArchive(t, entries), WithLogger(quietLogger()), WithTempDir(t.TempDir()))
	require.NoError(t, err)
	defer w.Close()

	first, err := w.Next()
	require.NoError(t, err)
	require.Equal(t, "case_a", first.CaseID)
	os.Remove(first.Path)

	_, err = w.Next()
	var gap *GapError
	require.ErrorAs(t, err, &gap)
	require.Equal(t, "case_a", gap.CaseID)
	require.Equal(t, 1, gap.Expected)
	require.Equal(t, 2, gap.Got)
}

func TestWalkMissingFirstTimestep(t *testing.T) {
	w, err := Open(writeArchive(t, frames("case_a", 1)), WithLogger(quietLogger()), WithTempDir(t.TempDir()))
	require.NoError(t, err)
	defer w.Close()

	_, err = w.Next()
	var gap *GapError
	require.ErrorAs(t, err, &gap)
	require.Equal(t, 0, gap.Expected)
}

func TestWalkOutOfOrder(t *testing.T) {
	w, err := Open(writeArchive(t, frames("case_a", 0, 1, 1)), WithLogger(quietLogger()), WithTempDir(t.TempDir()))
	require.NoError(t, err)
	defer w.Close()

	for i := 0; i < 2; i++ {
		e, err := w.Next()
		require.NoError(t, err)
		os.Remove(e.Path)
	}
	_, err = w.Next()
	var ooo *OrderError
	require.ErrorAs(t, err, &ooo)
	require.Equal(t, 1, ooo.Last)
	require.Equal(t, 1, ooo.Got)
}

func TestWalkSkipsUnrecognized(t *testing.T) {
	entries := frames("case_a", 0)
	entries = append(entries,
		tarEntry{name: "case_a/metadata.txt", body: "aux"},
		tarEntry{name: "README", body: "top-level"},
	)
	w, err := Open(writeArchive(t, entries), WithLogger(quietLogger()), WithTempDir(t.TempDir()))
	require.NoError(t, err)
	defer w.Close()

	got := collect(t, w)
	require.Len(t, got, 1)
	require.Equal(t, 2, w.Skipped())
}

func TestParseName(t *testing.T) {
	tests := []struct {
		name   string
		caseID string
		step   int
		ok     bool
	}{
		{"vHpdV_v20_h10/IN1003d.vti.0", "vHpdV_v20_h10", 0, true},
		{"out/vHpdV_v20_h10/IN1003d.vti.37", "vHpdV_v20_h10", 37, true},
		{"case/frame.vti", "", 0, false},
		{"toplevel.vti.3", "", 0, false},
		{"case/noext.7", "", 0, false},
	}
	for _, tt := range tests {
		caseID, step, ok := parseName(tt.name)
		if ok != tt.ok || caseID != tt.caseID || step != tt.step {
			t.Errorf("parseName(%q) = (%q, %d, %v), want (%q, %d, %v)",
				tt.name, caseID, step, ok, tt.caseID, tt.step, tt.ok)
		}
	}
}
