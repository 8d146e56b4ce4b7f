// Package script instantiates simulation input scripts from a template.
//
// A template is ordinary text with @name@ placeholders, one per tunable
// parameter, plus the reserved @case@ placeholder used to build per-case
// output paths. Substitution is a pure function over the template text;
// Instantiate wraps it with the per-case directory conventions.
package script

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
)

// CasePlaceholder is substituted with the case identifier.
const CasePlaceholder = "case"

var placeholderRe = regexp.MustCompile(`@([A-Za-z_][A-Za-z0-9_]*)@`)

// MismatchError reports varying parameters whose placeholders never occur
// in the template. A swept parameter without a placeholder would silently
// never reach the simulation, so this is fatal.
type MismatchError struct {
	Missing []string
}

func (e *MismatchError) Error() string {
	return fmt.Sprintf("script: template has no placeholder for varying parameter(s): %s",
		strings.Join(e.Missing, ", "))
}

// Substitute replaces every @name@ placeholder that has a value in vals and
// returns the rewritten text plus the sorted names it replaced. Unknown
// placeholders are left untouched so templates may reference parameters
// outside the current sweep.
func Substitute(template string, vals map[string]string) (string, []string) {
	used := make(map[string]bool)
	out := placeholderRe.ReplaceAllStringFunc(template, func(m string) string {
		name := m[1 : len(m)-1]
		v, ok := vals[name]
		if !ok {
			return m
		}
		used[name] = true
		return v
	})
	names := make([]string, 0, len(used))
	for n := range used {
		names = append(names, n)
	}
	sort.Strings(names)
	return out, names
}

// Values is the placeholder mapping for one case: the case's formatted
// parameter assignments plus the reserved case placeholder.
func Values(caseID string, assign map[string]string) map[string]string {
	vals := make(map[string]string, len(assign)+1)
	for k, v := range assign {
		vals[k] = v
	}
	vals[CasePlaceholder] = caseID
	return vals
}

// Instantiate renders the template at tmplPath for one case and writes it
// to <workdir>/<caseID>/<base(tmplPath)>, creating the case directory. Every
// name in varying must be substituted at least once or the call fails with
// *MismatchError. The output is deterministic: re-instantiating the same
// case over the same template produces byte-identical content.
func Instantiate(tmplPath, caseID string, assign map[string]string, varying []string, workdir string) (string, error) {
	tmpl, err := os.ReadFile(tmplPath)
	if err != nil {
		return "", err
	}

	text, used := Substitute(string(tmpl), Values(caseID, assign))

	usedSet := make(map[string]bool, len(used))
	for _, n := range used {
		usedSet[n] = true
	}
	var missing []string
	for _, n := range varying {
		if !usedSet[n] {
			missing = append(missing, n)
		}
	}
	if len(missing) > 0 {
		return "", &MismatchError{Missing: missing}
	}

	caseDir := filepath.Join(workdir, caseID)
	if err := os.MkdirAll(caseDir, 0755); err != nil {
		return "", err
	}
	out := filepath.Join(caseDir, filepath.Base(tmplPath))
	if err := os.WriteFile(out, []byte(text), 0644); err != nil {
		return "", err
	}
	return out, nil
}

// CopyAux copies auxiliary files (initial conditions and the like) from
// srcDir into the case directory. Names are relative to srcDir.
func CopyAux(srcDir, caseDir string, names []string) error {
	for _, name := range names {
		if err := copyFile(filepath.Join(srcDir, name), filepath.Join(caseDir, name)); err != nil {
			return fmt.Errorf("script: copying %s: %w", name, err)
		}
	}
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return err
	}
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
