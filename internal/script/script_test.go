package script

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
)

const pottsTemplate = `seed 56789
variable v_scan equal @v_scan@
variable hatch equal @hatch@
variable case_name universe @case@
dump 1 vti @dump_every@ ${case_name}/IN1003d.vti
run @v_scan@
`

func TestSubstitute(t *testing.T) {
	out, used := Substitute(pottsTemplate, map[string]string{
		"v_scan": "20.0",
		"hatch":  "10",
		"case":   "vHpdV_v20_0_h10",
	})

	if strings.Contains(out, "@v_scan@") || strings.Contains(out, "@hatch@") {
		t.Error("substituted placeholders remain in output")
	}
	if !strings.Contains(out, "variable v_scan equal 20.0") {
		t.Errorf("value not substituted:\n%s", out)
	}
	if !strings.Contains(out, "universe vHpdV_v20_0_h10") {
		t.Error("case placeholder not substituted")
	}
	// Placeholder with no value stays untouched.
	if !strings.Contains(out, "@dump_every@") {
		t.Error("unknown placeholder should be left alone")
	}
	if !reflect.DeepEqual(used, []string{"case", "hatch", "v_scan"}) {
		t.Errorf("used = %v", used)
	}
}

func TestSubstituteRepeatedPlaceholder(t *testing.T) {
	out, _ := Substitute("@a@ and @a@", map[string]string{"a": "x"})
	if out != "x and x" {
		t.Errorf("got %q", out)
	}
}

func TestInstantiate(t *testing.T) {
	dir := t.TempDir()
	tmplPath := filepath.Join(dir, "in.potts")
	if err := os.WriteFile(tmplPath, []byte(pottsTemplate), 0644); err != nil {
		t.Fatal(err)
	}

	assign := map[string]string{"v_scan": "20.0", "hatch": "10"}
	workdir := filepath.Join(dir, "work")

	out, err := Instantiate(tmplPath, "vHpdV_v20_0_h10", assign, []string{"v_scan", "hatch"}, workdir)
	if err != nil {
		t.Fatalf("instantiate: %v", err)
	}
	if want := filepath.Join(workdir, "vHpdV_v20_0_h10", "in.potts"); out != want {
		t.Errorf("output path %q, want %q", out, want)
	}

	first, err := os.ReadFile(out)
	if err != nil {
		t.Fatal(err)
	}

	// Idempotent: same case, same template, byte-identical output.
	if _, err := Instantiate(tmplPath, "vHpdV_v20_0_h10", assign, []string{"v_scan", "hatch"}, workdir); err != nil {
		t.Fatalf("reinstantiate: %v", err)
	}
	second, err := os.ReadFile(out)
	if err != nil {
		t.Fatal(err)
	}
	if string(first) != string(second) {
		t.Error("instantiation is not idempotent")
	}
}

func TestInstantiateNamespacesByCase(t *testing.T) {
	dir := t.TempDir()
	tmplPath := filepath.Join(dir, "in.potts")
	if err := os.WriteFile(tmplPath, []byte("variable v equal @v@\n"), 0644); err != nil {
		t.Fatal(err)
	}
	workdir := filepath.Join(dir, "work")

	a, err := Instantiate(tmplPath, "case_a", map[string]string{"v": "1"}, []string{"v"}, workdir)
	if err != nil {
		t.Fatal(err)
	}
	b, err := Instantiate(tmplPath, "case_b", map[string]string{"v": "2"}, []string{"v"}, workdir)
	if err != nil {
		t.Fatal(err)
	}
	if a == b {
		t.Errorf("two cases share the output path %q", a)
	}
}

func TestInstantiateMismatch(t *testing.T) {
	dir := t.TempDir()
	tmplPath := filepath.Join(dir, "in.potts")
	if err := os.WriteFile(tmplPath, []byte("variable v_scan equal @v_scan@\n"), 0644); err != nil {
		t.Fatal(err)
	}

	_, err := Instantiate(tmplPath, "c", map[string]string{"v_scan": "1", "hatch": "2"},
		[]string{"v_scan", "hatch"}, filepath.Join(dir, "work"))

	var mismatch *MismatchError
	if !errors.As(err, &mismatch) {
		t.Fatalf("expected MismatchError, got %v", err)
	}
	if !reflect.DeepEqual(mismatch.Missing, []string{"hatch"}) {
		t.Errorf("missing = %v", mismatch.Missing)
	}
}

func TestCopyAux(t *testing.T) {
	src := t.TempDir()
	caseDir := filepath.Join(t.TempDir(), "case_a")
	if err := os.WriteFile(filepath.Join(src, "IN100_3d.init"), []byte("sites\n"), 0644); err != nil {
		t.Fatal(err)
	}

	if err := CopyAux(src, caseDir, []string{"IN100_3d.init"}); err != nil {
		t.Fatalf("copy: %v", err)
	}
	data, err := os.ReadFile(filepath.Join(caseDir, "IN100_3d.init"))
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "sites\n" {
		t.Errorf("copied content %q", data)
	}

	if err := CopyAux(src, caseDir, []string{"missing.init"}); err == nil {
		t.Error("expected error for missing aux file")
	}
}
