package count

import (
	"bufio"
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"blainsmith.com/go/seahash"
	"github.com/bepoli/irescue/encoding/eqclass"
	"github.com/bepoli/irescue/extsort"
	"github.com/grailbio/base/file"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/tsv"
	"github.com/grailbio/hts/bgzf"
)

const (
	// MatrixFileName is the name of the sparse count matrix written under
	// the output directory.
	MatrixFileName = "matrix.mtx.gz"
	// DumpFileName is the name of the equivalence class dump written under
	// the output directory when Opts.DumpEC is set.
	DumpFileName = "ec_dump.tsv.gz"
)

const mtxHeader = "%%MatrixMarket matrix coordinate real general\n"

var dumpHeader = strings.Join([]string{
	"BC_index",
	"Barcode",
	"UMI",
	"Features",
	"Read_count",
	"Dedup_UMI",
	"Dedup_feature",
}, "\t") + "\n"

// writeMatrix merges the spilled matrix runs of all shards into
// outDir/matrix.mtx.gz in MatrixMarket coordinate format, entries ordered
// by feature then barcode.
func writeMatrix(ctx context.Context, outDir string, features *eqclass.FeatureIndex,
	barcodes *eqclass.BarcodeIndex, shards []shardOutput, opts Opts) (err error) {
	var (
		runs  []string
		total int64
	)
	for i := range shards {
		runs = append(runs, shards[i].runs...)
		total += shards[i].entries
	}
	path := file.Join(outDir, MatrixFileName)
	dst, err := file.Create(ctx, path)
	if err != nil {
		return err
	}
	defer file.CloseAndReport(ctx, dst, &err)
	gz := bgzf.NewWriter(dst.Writer(ctx), opts.Shards)
	defer func() {
		if cerr := gz.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()
	hash := seahash.New()
	w := bufio.NewWriter(io.MultiWriter(gz, hash))
	if _, err = w.WriteString(mtxHeader); err != nil {
		return err
	}
	if _, err = fmt.Fprintf(w, "%d %d %d\n", features.Len(), barcodes.Len(), total); err != nil {
		return err
	}
	if err = extsort.Merge(runs, func(e extsort.Entry) error {
		id := int32(e.Key >> 32)
		bcIdx := int32(uint32(e.Key))
		c := math.Float64frombits(binary.LittleEndian.Uint64(e.Body))
		_, werr := fmt.Fprintf(w, "%d %d %s\n", id, bcIdx, strconv.FormatFloat(c, 'f', 3, 64))
		return werr
	}); err != nil {
		return err
	}
	if err = w.Flush(); err != nil {
		return err
	}
	log.Printf("count: wrote %d entries to %s (seahash %016x)", total, path, hash.Sum64())
	return nil
}

// writeDump merges the spilled dump runs of all shards into
// outDir/ec_dump.tsv.gz, rows ordered by barcode then equivalence class.
func writeDump(ctx context.Context, outDir string, shards []shardOutput, opts Opts) (err error) {
	var (
		runs []string
		rows int64
	)
	for i := range shards {
		runs = append(runs, shards[i].dumpRuns...)
	}
	path := file.Join(outDir, DumpFileName)
	dst, err := file.Create(ctx, path)
	if err != nil {
		return err
	}
	defer file.CloseAndReport(ctx, dst, &err)
	gz := bgzf.NewWriter(dst.Writer(ctx), opts.Shards)
	defer func() {
		if cerr := gz.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()
	hash := seahash.New()
	w := bufio.NewWriter(io.MultiWriter(gz, hash))
	if _, err = w.WriteString(dumpHeader); err != nil {
		return err
	}
	if err = extsort.Merge(runs, func(e extsort.Entry) error {
		rows++
		_, werr := w.Write(e.Body)
		return werr
	}); err != nil {
		return err
	}
	if err = w.Flush(); err != nil {
		return err
	}
	log.Printf("count: wrote %d dump rows to %s (seahash %016x)", rows, path, hash.Sum64())
	return nil
}

// dumpWriter formats the dump rows of one cell and feeds them to the dump
// sorter keyed by (barcode index, class index). Parent classes keep their
// deduplication fields empty.
type dumpWriter struct {
	buf bytes.Buffer
	w   *tsv.Writer
	csv []byte
}

func (dw *dumpWriter) writeCell(dump *extsort.Sorter, bcIdx int32, barcode []byte,
	features *eqclass.FeatureIndex, classes []eqclass.Class, dedup []dedupRecord) error {
	if dw.w == nil {
		dw.w = tsv.NewWriter(&dw.buf)
	}
	for i, cls := range classes {
		dw.buf.Reset()
		dw.w.WriteUint32(uint32(bcIdx))
		dw.w.WriteString(string(barcode))
		dw.w.WriteUint32(uint32(i))
		dw.w.WriteString(string(cls.UMI))
		dw.w.WriteString(dw.featureCSV(features, cls.Features))
		dw.w.WriteUint32(uint32(cls.Count))
		dw.w.WriteString(string(dedup[i].ParentUMI))
		dw.w.WriteString(dw.featureCSV(features, dedup[i].Features))
		if err := dw.w.EndLine(); err != nil {
			return err
		}
		if err := dw.w.Flush(); err != nil {
			return err
		}
		if err := dump.Add(dumpKey(bcIdx, i), dw.buf.Bytes()); err != nil {
			return err
		}
	}
	return nil
}

// featureCSV joins the names of a feature set with commas, in feature
// index order.
func (dw *dumpWriter) featureCSV(features *eqclass.FeatureIndex, set eqclass.FeatureSet) string {
	dw.csv = dw.csv[:0]
	for i, id := range set {
		if i > 0 {
			dw.csv = append(dw.csv, ',')
		}
		dw.csv = append(dw.csv, features.Name(id)...)
	}
	return string(dw.csv)
}
