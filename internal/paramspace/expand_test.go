package paramspace

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func testSpace() *Space {
	return &Space{
		Prefix: "vHpdV",
		Params: []Param{
			{Name: "v_scan", Tag: "v", Values: []interface{}{0.2, 0.4}},
			{Name: "hatch", Tag: "h", Values: []interface{}{0, 10, 20}},
			{Name: "starting_pos", Tag: "p", Value: "LL"},
		},
	}
}

func TestExpandCount(t *testing.T) {
	cases, err := testSpace().Expand()
	if err != nil {
		t.Fatalf("expand: %v", err)
	}
	if len(cases) != 6 {
		t.Fatalf("expected 2*3=6 cases, got %d", len(cases))
	}

	seen := make(map[string]bool)
	for _, c := range cases {
		if seen[c.ID()] {
			t.Errorf("duplicate identifier %q", c.ID())
		}
		seen[c.ID()] = true
	}
}

func TestExpandDeterministic(t *testing.T) {
	a, err := testSpace().Expand()
	if err != nil {
		t.Fatal(err)
	}
	b, err := testSpace().Expand()
	if err != nil {
		t.Fatal(err)
	}
	if len(a) != len(b) {
		t.Fatalf("lengths differ: %d vs %d", len(a), len(b))
	}
	for i := range a {
		if a[i].ID() != b[i].ID() {
			t.Errorf("case %d: %q vs %q", i, a[i].ID(), b[i].ID())
		}
	}
}

func TestExpandOrder(t *testing.T) {
	// Last parameter cycles fastest, like nested loops in declared order.
	cases, err := testSpace().Expand()
	if err != nil {
		t.Fatal(err)
	}
	want := []string{
		"vHpdV_v0_2_h0",
		"vHpdV_v0_2_h10",
		"vHpdV_v0_2_h20",
		"vHpdV_v0_4_h0",
		"vHpdV_v0_4_h10",
		"vHpdV_v0_4_h20",
	}
	got := make([]string, len(cases))
	for i, c := range cases {
		got[i] = c.ID()
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestFixedParamsOmittedFromID(t *testing.T) {
	cases, err := testSpace().Expand()
	if err != nil {
		t.Fatal(err)
	}
	for _, c := range cases {
		if v, _ := c.Value("starting_pos"); v.String() != "LL" {
			t.Errorf("fixed param lost: %v", v)
		}
		if want := "vHpdV_v0_2_h0"; cases[0].ID() != want {
			t.Fatalf("fixed param leaked into identifier: %q", cases[0].ID())
		}
	}
}

func TestExpandEmptySpace(t *testing.T) {
	_, err := (&Space{}).Expand()
	if !errors.Is(err, ErrEmptySpace) {
		t.Errorf("expected ErrEmptySpace, got %v", err)
	}
}

func TestExpandEmptyCandidates(t *testing.T) {
	s := &Space{Params: []Param{{Name: "a", Values: []interface{}{}}}}
	_, err := s.Expand()
	if !errors.Is(err, ErrNoCandidates) {
		t.Errorf("expected ErrNoCandidates, got %v", err)
	}
}

func TestExpandDuplicateNames(t *testing.T) {
	s := &Space{Params: []Param{
		{Name: "a", Value: 1},
		{Name: "a", Value: 2},
	}}
	_, err := s.Expand()
	if !errors.Is(err, ErrDuplicateParam) {
		t.Errorf("expected ErrDuplicateParam, got %v", err)
	}
}

func TestRangeExpansion(t *testing.T) {
	s := &Space{Params: []Param{
		{Name: "melt_depth", Range: &Range{Start: 10, Stop: 40, Step: 10}},
	}}
	cases, err := s.Expand()
	if err != nil {
		t.Fatal(err)
	}
	if len(cases) != 3 {
		t.Fatalf("expected [10,20,30], got %d cases", len(cases))
	}
	want := []string{"10", "20", "30"}
	for i, c := range cases {
		v, _ := c.Formatted("melt_depth")
		if v != want[i] {
			t.Errorf("candidate %d: got %s, want %s", i, v, want[i])
		}
	}
}

func TestRangeWithBase(t *testing.T) {
	s := &Space{Params: []Param{
		{Name: "melt_depth", Value: 30},
		{Name: "spot_width", Range: &Range{Base: "melt_depth", StartOffset: 2, StopOffset: 8, Step: 2}},
	}}
	cases, err := s.Expand()
	if err != nil {
		t.Fatal(err)
	}
	if len(cases) != 3 {
		t.Fatalf("expected 3 cases, got %d", len(cases))
	}
	want := []string{"32", "34", "36"}
	for i, c := range cases {
		v, _ := c.Formatted("spot_width")
		if v != want[i] {
			t.Errorf("candidate %d: got %s, want %s", i, v, want[i])
		}
	}
}

func TestOffsetParam(t *testing.T) {
	s := &Space{Params: []Param{
		{Name: "melt_tail_length", Values: []interface{}{60, 70}},
		{Name: "haz_tail", Offset: &Offset{Base: "melt_tail_length", By: 15}},
	}}
	cases, err := s.Expand()
	if err != nil {
		t.Fatal(err)
	}
	// 2 * 2 combinations before constraints.
	if len(cases) != 4 {
		t.Fatalf("expected 4 cases, got %d", len(cases))
	}
	v, _ := cases[0].Formatted("haz_tail")
	if v != "75" {
		t.Errorf("expected first haz_tail 75, got %s", v)
	}
}

func TestUnknownBase(t *testing.T) {
	s := &Space{Params: []Param{
		{Name: "a", Offset: &Offset{Base: "nope", By: 1}},
	}}
	_, err := s.Expand()
	if !errors.Is(err, ErrUnknownBase) {
		t.Errorf("expected ErrUnknownBase, got %v", err)
	}
}

func TestConstraints(t *testing.T) {
	s := &Space{
		Params: []Param{
			{Name: "spot_width", Tag: "sw", Values: []interface{}{10, 20}},
			{Name: "haz_width", Tag: "hw", Values: []interface{}{15, 25}},
		},
		Constraints: []string{"spot_width < haz_width"},
	}
	cases, err := s.Expand()
	if err != nil {
		t.Fatal(err)
	}
	// (10,15) (10,25) (20,25) pass; (20,15) filtered.
	if len(cases) != 3 {
		t.Fatalf("expected 3 constrained cases, got %d", len(cases))
	}
	for _, c := range cases {
		sw, _ := c.Value("spot_width")
		hw, _ := c.Value("haz_width")
		if sw.Float() >= hw.Float() {
			t.Errorf("constraint violated in %s", c.ID())
		}
	}
}

func TestBadConstraint(t *testing.T) {
	s := &Space{
		Params:      []Param{{Name: "a", Value: 1}},
		Constraints: []string{"a +"},
	}
	if _, err := s.Expand(); err == nil {
		t.Error("expected error for malformed constraint")
	}
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "space.yaml")
	doc := `prefix: vHpdV
parameters:
  - name: v_scan
    tag: v
    range: {start: 0.2, stop: 0.8, step: 0.2}
  - name: hatch
    tag: h
    values: [0, 10]
  - name: heading
    value: x
constraints: []
`
	if err := os.WriteFile(path, []byte(doc), 0644); err != nil {
		t.Fatal(err)
	}
	s, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	cases, err := s.Expand()
	if err != nil {
		t.Fatalf("expand: %v", err)
	}
	if len(cases) != 6 {
		t.Errorf("expected 3*2=6 cases, got %d", len(cases))
	}
	varying, err := s.VaryingNames()
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(varying, []string{"v_scan", "hatch"}) {
		t.Errorf("varying: %v", varying)
	}
}
