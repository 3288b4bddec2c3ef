package eqclass

import (
	"bufio"
	"bytes"
	"io"
	"sort"
	"strconv"

	"github.com/pkg/errors"
)

var (
	// ErrInvalid is returned when a malformed equivalence class record is
	// encountered.
	ErrInvalid = errors.New("invalid equivalence class record")
	// ErrUnsorted is returned when the stream is not grouped by cell
	// barcode.
	ErrUnsorted = errors.New("equivalence class stream not grouped by barcode")
	// ErrUnknownFeature is returned when a record names a feature that is
	// missing from the feature index.
	ErrUnknownFeature = errors.New("feature not in feature index")
)

var errEOF = errors.New("eof")

// Feature lists can get long for repeat-dense cells, so the line buffer is
// allowed to grow well past bufio.Scanner's default.
const (
	initialScanBuffer = 1 << 16
	maxScanBuffer     = 1 << 26
)

// A CellScanner reads an equivalence class stream and yields one cell at a
// time. The stream holds one class per line,
//
//	barcode TAB umi TAB feature[,feature...] TAB readcount
//
// with all records of a cell adjacent (an upstream sort guarantees this; the
// scanner fails with ErrUnsorted when the guarantee is broken). The Scan
// method advances to the next cell, returning a boolean indicating whether
// the scan succeeded. Scanners are not threadsafe.
type CellScanner struct {
	b        *bufio.Scanner
	features *FeatureIndex
	interner *SetInterner

	err     error
	line    int
	barcode []byte
	classes []Class
	done    map[string]bool

	// one-record lookahead
	nextBC    []byte
	nextClass Class
	pending   bool

	ids []FeatureID // parse scratch
}

// NewCellScanner returns a CellScanner reading raw stream data from r,
// resolving feature names through features.
func NewCellScanner(r io.Reader, features *FeatureIndex) *CellScanner {
	b := bufio.NewScanner(r)
	b.Buffer(make([]byte, initialScanBuffer), maxScanBuffer)
	return &CellScanner{
		b:        b,
		features: features,
		interner: NewSetInterner(),
		done:     map[string]bool{},
	}
}

// Scan advances to the next cell. It returns false at end of stream or on
// error; the caller should then check Err. The values returned by Barcode
// and Classes are valid only until the next Scan call.
func (s *CellScanner) Scan() bool {
	if s.err != nil {
		return false
	}
	if !s.pending && !s.next() {
		return false
	}
	if len(s.barcode) > 0 {
		s.done[string(s.barcode)] = true
	}
	s.barcode = append(s.barcode[:0], s.nextBC...)
	s.classes = append(s.classes[:0], s.nextClass)
	s.pending = false
	for s.next() {
		if bytes.Equal(s.nextBC, s.barcode) {
			s.classes = append(s.classes, s.nextClass)
			continue
		}
		if s.done[string(s.nextBC)] {
			s.err = errors.Wrapf(ErrUnsorted,
				"line %d: barcode %s reappears after its group ended", s.line, s.nextBC)
			return false
		}
		s.pending = true
		return true
	}
	return s.err == errEOF
}

// Barcode returns the current cell's barcode.
func (s *CellScanner) Barcode() []byte { return s.barcode }

// Classes returns the current cell's equivalence classes in stream order.
func (s *CellScanner) Classes() []Class { return s.classes }

// Err returns the scanning error, if any.
func (s *CellScanner) Err() error {
	if s.err == errEOF {
		return nil
	}
	return s.err
}

// next reads one record into the lookahead slot.
func (s *CellScanner) next() bool {
	if s.err != nil {
		return false
	}
	if !s.b.Scan() {
		if s.err = s.b.Err(); s.err == nil {
			s.err = errEOF
		}
		return false
	}
	s.line++
	if s.err = s.parse(s.b.Bytes()); s.err != nil {
		return false
	}
	return true
}

func (s *CellScanner) parse(line []byte) error {
	var fields [4][]byte
	rest := line
	for i := 0; i < 3; i++ {
		j := bytes.IndexByte(rest, '\t')
		if j < 0 {
			return errors.Wrapf(ErrInvalid, "line %d: expected 4 tab-separated fields: %q", s.line, line)
		}
		fields[i] = rest[:j]
		rest = rest[j+1:]
	}
	if bytes.IndexByte(rest, '\t') >= 0 {
		return errors.Wrapf(ErrInvalid, "line %d: expected 4 tab-separated fields: %q", s.line, line)
	}
	fields[3] = bytes.TrimSpace(rest)
	if len(fields[0]) == 0 || len(fields[1]) == 0 {
		return errors.Wrapf(ErrInvalid, "line %d: empty barcode or UMI: %q", s.line, line)
	}
	count, err := strconv.Atoi(string(fields[3]))
	if err != nil || count <= 0 {
		return errors.Wrapf(ErrInvalid, "line %d: bad read count %q", s.line, fields[3])
	}
	s.ids = s.ids[:0]
	for feats, last := fields[2], false; !last; {
		var name []byte
		if j := bytes.IndexByte(feats, ','); j >= 0 {
			name, feats = feats[:j], feats[j+1:]
		} else {
			name, last = feats, true
		}
		if len(name) == 0 {
			return errors.Wrapf(ErrInvalid, "line %d: empty feature name: %q", s.line, line)
		}
		id := s.features.ID(name)
		if id == 0 {
			return errors.Wrapf(ErrUnknownFeature, "line %d: %q", s.line, name)
		}
		s.ids = append(s.ids, id)
	}
	sort.Slice(s.ids, func(i, j int) bool { return s.ids[i] < s.ids[j] })
	uniq := s.ids[:0]
	for i, id := range s.ids {
		if i == 0 || id != s.ids[i-1] {
			uniq = append(uniq, id)
		}
	}
	s.nextBC = append(s.nextBC[:0], fields[0]...)
	s.nextClass = Class{
		UMI:      append([]byte(nil), fields[1]...),
		Features: s.interner.Intern(uniq),
		Count:    count,
	}
	return nil
}
