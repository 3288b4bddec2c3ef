package eqclass

import (
	"bufio"
	"bytes"
	"context"
	"io"

	"github.com/grailbio/base/file"
	"github.com/grailbio/base/fileio"
	"github.com/klauspost/compress/gzip"
	"github.com/pkg/errors"
)

// OpenPath opens path for reading, transparently decompressing when the file
// name indicates gzip.
func OpenPath(ctx context.Context, path string) (io.ReadCloser, error) {
	f, err := file.Open(ctx, path)
	if err != nil {
		return nil, err
	}
	r := &pathReader{ctx: ctx, f: f, r: f.Reader(ctx)}
	switch fileio.DetermineType(path) {
	case fileio.Gzip:
		gz, err := gzip.NewReader(r.r)
		if err != nil {
			_ = f.Close(ctx)
			return nil, errors.Wrapf(err, "open %s", path)
		}
		r.gz, r.r = gz, gz
	}
	return r, nil
}

type pathReader struct {
	ctx context.Context
	f   file.File
	gz  *gzip.Reader
	r   io.Reader
}

func (p *pathReader) Read(buf []byte) (int, error) { return p.r.Read(buf) }

func (p *pathReader) Close() error {
	var err error
	if p.gz != nil {
		err = p.gz.Close()
	}
	if cerr := p.f.Close(p.ctx); cerr != nil && err == nil {
		err = cerr
	}
	return err
}

// FeatureIndex maps feature names to dense 1-based FeatureIDs assigned in
// feature file line order, and back. It is immutable after construction and
// safe to share across goroutines.
type FeatureIndex struct {
	ids   map[string]FeatureID
	names []string // 1-based; names[0] is unused
}

// ReadFeatureIndex builds a FeatureIndex from a feature list with one
// feature per line. Only the first tab-separated field of a line is the
// feature name; any further columns (class/family annotations, assay type)
// are ignored.
func ReadFeatureIndex(ctx context.Context, path string) (x *FeatureIndex, err error) {
	in, err := OpenPath(ctx, path)
	if err != nil {
		return nil, err
	}
	defer func() {
		if cerr := in.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()
	x = &FeatureIndex{
		ids:   map[string]FeatureID{},
		names: []string{""},
	}
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		name := bytes.TrimSpace(scanner.Bytes())
		if i := bytes.IndexByte(name, '\t'); i >= 0 {
			name = name[:i]
		}
		if len(name) == 0 {
			return nil, errors.Errorf("%s:%d: empty feature name", path, len(x.names))
		}
		if _, ok := x.ids[string(name)]; ok {
			return nil, errors.Errorf("%s:%d: duplicate feature %q", path, len(x.names), name)
		}
		x.ids[string(name)] = FeatureID(len(x.names))
		x.names = append(x.names, string(name))
	}
	if err = scanner.Err(); err != nil {
		return nil, errors.Wrapf(err, "read %s", path)
	}
	return x, nil
}

// ID returns the FeatureID for name, or 0 when name is not indexed.
func (x *FeatureIndex) ID(name []byte) FeatureID {
	return x.ids[string(name)]
}

// Name returns the feature name for id, or "" when id is out of range.
func (x *FeatureIndex) Name(id FeatureID) string {
	if id <= 0 || int(id) >= len(x.names) {
		return ""
	}
	return x.names[id]
}

// Len returns the number of indexed features.
func (x *FeatureIndex) Len() int { return len(x.names) - 1 }

// BarcodeIndex maps cell barcodes to dense 1-based column indexes assigned
// in whitelist line order. It is immutable after construction and safe to
// share across goroutines.
type BarcodeIndex struct {
	ids map[string]int32
	n   int
}

// ReadBarcodeIndex builds a BarcodeIndex from a barcode whitelist with one
// barcode per line.
func ReadBarcodeIndex(ctx context.Context, path string) (x *BarcodeIndex, err error) {
	in, err := OpenPath(ctx, path)
	if err != nil {
		return nil, err
	}
	defer func() {
		if cerr := in.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()
	x = &BarcodeIndex{ids: map[string]int32{}}
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		bc := bytes.TrimSpace(scanner.Bytes())
		if len(bc) == 0 {
			return nil, errors.Errorf("%s:%d: empty barcode", path, x.n+1)
		}
		if _, ok := x.ids[string(bc)]; ok {
			return nil, errors.Errorf("%s:%d: duplicate barcode %q", path, x.n+1, bc)
		}
		x.n++
		x.ids[string(bc)] = int32(x.n)
	}
	if err = scanner.Err(); err != nil {
		return nil, errors.Wrapf(err, "read %s", path)
	}
	return x, nil
}

// Index returns the 1-based column index for the barcode, or 0 when the
// barcode is not in the whitelist.
func (x *BarcodeIndex) Index(bc []byte) int32 {
	return x.ids[string(bc)]
}

// Len returns the number of whitelisted barcodes.
func (x *BarcodeIndex) Len() int { return x.n }

// Range is a contiguous range of 1-based barcode indexes; Start is
// inclusive, End exclusive.
type Range struct {
	Start, End int32
}

// Contains reports whether the 1-based barcode index i falls in the range.
func (r Range) Contains(i int32) bool { return i >= r.Start && i < r.End }

// Partition splits the barcode population into at most n contiguous ranges
// sized as evenly as possible. Every barcode index falls in exactly one
// range.
func (x *BarcodeIndex) Partition(n int) []Range {
	if n > x.n {
		n = x.n
	}
	ranges := make([]Range, 0, n)
	for i := 0; i < n; i++ {
		ranges = append(ranges, Range{
			Start: int32(i*x.n/n) + 1,
			End:   int32((i+1)*x.n/n) + 1,
		})
	}
	return ranges
}
