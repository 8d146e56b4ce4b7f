// Package vti reads the per-timestep structured-grid files produced by the
// simulation: VTK XML ImageData (.vti) with one named scalar field per cell.
//
// Only the subset the simulation emits is supported: a single piece, inline
// ascii or inline base64 payloads, little-endian byte order, uncompressed.
package vti

import (
	"encoding/base64"
	"encoding/binary"
	"encoding/xml"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"
)

// FormatError reports a malformed grid file or a missing scalar field.
type FormatError struct {
	Msg string
}

func (e *FormatError) Error() string { return "vti: " + e.Msg }

func formatErrorf(format string, args ...interface{}) error {
	return &FormatError{Msg: fmt.Sprintf(format, args...)}
}

// Frame is one timestep's dense scalar field. Data is laid out VTK-style,
// x varying fastest: index = x + y*nx + z*nx*ny.
type Frame struct {
	Extents [3]int // cells per axis; 2D frames have Extents[2] == 1
	Field   string
	Data    []float64
}

// At returns the scalar at cell (x, y, z).
func (f *Frame) At(x, y, z int) float64 {
	return f.Data[x+y*f.Extents[0]+z*f.Extents[0]*f.Extents[1]]
}

// Len returns the number of cells.
func (f *Frame) Len() int { return f.Extents[0] * f.Extents[1] * f.Extents[2] }

// TopSlice returns the highest-z 2D plane of the frame. A 2D frame is
// returned unchanged.
func (f *Frame) TopSlice() *Frame {
	if f.Extents[2] <= 1 {
		return f
	}
	nx, ny := f.Extents[0], f.Extents[1]
	planeLen := nx * ny
	top := &Frame{
		Extents: [3]int{nx, ny, 1},
		Field:   f.Field,
		Data:    make([]float64, planeLen),
	}
	copy(top.Data, f.Data[(f.Extents[2]-1)*planeLen:])
	return top
}

type xmlFile struct {
	Type       string        `xml:"type,attr"`
	ByteOrder  string        `xml:"byte_order,attr"`
	HeaderType string        `xml:"header_type,attr"`
	Compressor string        `xml:"compressor,attr"`
	ImageData  *xmlImageData `xml:"ImageData"`
}

type xmlImageData struct {
	WholeExtent string     `xml:"WholeExtent,attr"`
	Pieces      []xmlPiece `xml:"Piece"`
}

type xmlPiece struct {
	Extent    string      `xml:"Extent,attr"`
	CellData  *xmlSection `xml:"CellData"`
	PointData *xmlSection `xml:"PointData"`
}

type xmlSection struct {
	Scalars string     `xml:"Scalars,attr"`
	Arrays  []xmlArray `xml:"DataArray"`
}

type xmlArray struct {
	Type       string `xml:"type,attr"`
	Name       string `xml:"Name,attr"`
	Format     string `xml:"format,attr"`
	Components string `xml:"NumberOfComponents,attr"`
	Body       string `xml:",chardata"`
}

// ReadFile parses the .vti file at path. See Read.
func ReadFile(path, field string) (*Frame, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Read(f, field)
}

// Read parses a .vti stream and extracts the named scalar field. An empty
// field name selects the section's declared Scalars array, or its first
// array. Cell data is preferred over point data.
func Read(r io.Reader, field string) (*Frame, error) {
	var file xmlFile
	if err := xml.NewDecoder(r).Decode(&file); err != nil {
		return nil, formatErrorf("parsing XML: %v", err)
	}
	if file.Type != "ImageData" || file.ImageData == nil {
		return nil, formatErrorf("not an ImageData file (type %q)", file.Type)
	}
	if file.Compressor != "" {
		return nil, formatErrorf("compressed payloads not supported (compressor %q)", file.Compressor)
	}
	if file.ByteOrder != "" && file.ByteOrder != "LittleEndian" {
		return nil, formatErrorf("unsupported byte order %q", file.ByteOrder)
	}
	if n := len(file.ImageData.Pieces); n != 1 {
		return nil, formatErrorf("expected exactly one piece, found %d", n)
	}
	piece := file.ImageData.Pieces[0]

	extent := piece.Extent
	if extent == "" {
		extent = file.ImageData.WholeExtent
	}
	pointDims, err := parseExtent(extent)
	if err != nil {
		return nil, err
	}

	section, cellData := pickSection(&piece)
	if section == nil {
		return nil, formatErrorf("no cell or point data present")
	}
	arr, err := pickArray(section, field)
	if err != nil {
		return nil, err
	}
	if arr.Components != "" && arr.Components != "1" {
		return nil, formatErrorf("field %q has %s components, expected scalar", arr.Name, arr.Components)
	}

	dims := pointDims
	if cellData {
		dims = cellDims(pointDims)
	}
	want := dims[0] * dims[1] * dims[2]

	data, err := decodeArray(arr, file.HeaderType, want)
	if err != nil {
		return nil, err
	}
	return &Frame{Extents: dims, Field: arr.Name, Data: data}, nil
}

// pickSection prefers cell data over point data, following the producer's
// convention of attaching the scalar field to cells.
func pickSection(p *xmlPiece) (*xmlSection, bool) {
	if p.CellData != nil && len(p.CellData.Arrays) > 0 {
		return p.CellData, true
	}
	if p.PointData != nil && len(p.PointData.Arrays) > 0 {
		return p.PointData, false
	}
	return nil, false
}

func pickArray(s *xmlSection, field string) (*xmlArray, error) {
	name := field
	if name == "" {
		name = s.Scalars
	}
	if name == "" {
		return &s.Arrays[0], nil
	}
	for i := range s.Arrays {
		if s.Arrays[i].Name == name {
			return &s.Arrays[i], nil
		}
	}
	return nil, formatErrorf("scalar field %q not present", name)
}

// parseExtent converts "x0 x1 y0 y1 z0 z1" into point counts per axis.
func parseExtent(s string) ([3]int, error) {
	fields := strings.Fields(s)
	if len(fields) != 6 {
		return [3]int{}, formatErrorf("malformed extent %q", s)
	}
	var bounds [6]int
	for i, f := range fields {
		n, err := strconv.Atoi(f)
		if err != nil {
			return [3]int{}, formatErrorf("malformed extent %q", s)
		}
		bounds[i] = n
	}
	var dims [3]int
	for axis := 0; axis < 3; axis++ {
		d := bounds[axis*2+1] - bounds[axis*2]
		if d < 0 {
			return [3]int{}, formatErrorf("negative extent %q", s)
		}
		dims[axis] = d + 1
	}
	return dims, nil
}

// cellDims converts point counts to cell counts, clamping flattened axes to
// one so 2D grids keep a usable shape.
func cellDims(points [3]int) [3]int {
	var cells [3]int
	for i, p := range points {
		c := p - 1
		if c < 1 {
			c = 1
		}
		cells[i] = c
	}
	return cells
}

func decodeArray(arr *xmlArray, headerType string, want int) ([]float64, error) {
	switch arr.Format {
	case "", "ascii":
		return decodeASCII(arr, want)
	case "binary":
		return decodeBase64(arr, headerType, want)
	default:
		return nil, formatErrorf("unsupported data format %q for field %q", arr.Format, arr.Name)
	}
}

func decodeASCII(arr *xmlArray, want int) ([]float64, error) {
	fields := strings.Fields(arr.Body)
	if len(fields) != want {
		return nil, formatErrorf("field %q has %d values, extents require %d", arr.Name, len(fields), want)
	}
	data := make([]float64, want)
	for i, f := range fields {
		v, err := strconv.ParseFloat(f, 64)
		if err != nil {
			return nil, formatErrorf("field %q: bad value %q", arr.Name, f)
		}
		data[i] = v
	}
	return data, nil
}

func decodeBase64(arr *xmlArray, headerType string, want int) ([]float64, error) {
	raw, err := base64.StdEncoding.DecodeString(strings.Join(strings.Fields(arr.Body), ""))
	if err != nil {
		return nil, formatErrorf("field %q: bad base64 payload: %v", arr.Name, err)
	}

	headerLen := 4 // UInt32 byte-count header unless declared otherwise
	if headerType == "UInt64" {
		headerLen = 8
	}
	if len(raw) < headerLen {
		return nil, formatErrorf("field %q: truncated payload", arr.Name)
	}
	payload := raw[headerLen:]

	size, err := typeSize(arr.Type)
	if err != nil {
		return nil, err
	}
	if len(payload) != want*size {
		return nil, formatErrorf("field %q has %d bytes, extents require %d", arr.Name, len(payload), want*size)
	}

	data := make([]float64, want)
	for i := 0; i < want; i++ {
		b := payload[i*size:]
		switch arr.Type {
		case "Int8":
			data[i] = float64(int8(b[0]))
		case "UInt8":
			data[i] = float64(b[0])
		case "Int16":
			data[i] = float64(int16(binary.LittleEndian.Uint16(b)))
		case "UInt16":
			data[i] = float64(binary.LittleEndian.Uint16(b))
		case "Int32":
			data[i] = float64(int32(binary.LittleEndian.Uint32(b)))
		case "UInt32":
			data[i] = float64(binary.LittleEndian.Uint32(b))
		case "Int64":
			data[i] = float64(int64(binary.LittleEndian.Uint64(b)))
		case "Float32":
			data[i] = float64(math.Float32frombits(binary.LittleEndian.Uint32(b)))
		case "Float64":
			data[i] = math.Float64frombits(binary.LittleEndian.Uint64(b))
		}
	}
	return data, nil
}

func typeSize(t string) (int, error) {
	switch t {
	case "Int8", "UInt8":
		return 1, nil
	case "Int16", "UInt16":
		return 2, nil
	case "Int32", "UInt32", "Float32":
		return 4, nil
	case "Int64", "Float64":
		return 8, nil
	default:
		return 0, formatErrorf("unsupported data type %q", t)
	}
}
