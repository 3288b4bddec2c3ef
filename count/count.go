package count

import (
	"context"
	"encoding/binary"
	"math"
	"os"
	"runtime"
	"time"

	"github.com/bepoli/irescue/encoding/eqclass"
	"github.com/bepoli/irescue/extsort"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/traverse"
	"github.com/pkg/errors"
)

// minCount is the smallest per-cell count kept in the matrix. Smaller EM
// residuals are dropped.
const minCount = 0.001

// matrixKey orders matrix entries by feature, then barcode.
func matrixKey(id eqclass.FeatureID, bcIdx int32) uint64 {
	return uint64(uint32(id))<<32 | uint64(uint32(bcIdx))
}

// dumpKey orders dump rows by barcode, then equivalence class.
func dumpKey(bcIdx int32, ecIdx int) uint64 {
	return uint64(uint32(bcIdx))<<32 | uint64(uint32(ecIdx))
}

// shardOutput is what one barcode shard hands back to Count: the spilled
// sort runs holding its matrix entries and dump rows, plus tallies for the
// matrix header and the final log line.
type shardOutput struct {
	runs     []string
	dumpRuns []string
	cells    int
	entries  int64
}

// Count quantifies feature expression per cell. It reads the feature and
// barcode indexes, splits the barcode space into opts.Shards contiguous
// partitions processed in parallel, deduplicates the UMIs of every cell,
// and merges the per-shard counts into outDir/matrix.mtx.gz. With
// opts.DumpEC it also writes outDir/ec_dump.tsv.gz, one row per
// equivalence class.
//
// mapsPath must hold tab-separated records "barcode UMI features count"
// grouped by barcode, with features a comma-separated list of names from
// featuresPath. Records carrying a barcode absent from barcodesPath abort
// the run.
func Count(ctx context.Context, mapsPath, featuresPath, barcodesPath, outDir string, opts Opts) error {
	if opts.Shards <= 0 {
		opts.Shards = runtime.NumCPU()
	}
	features, err := eqclass.ReadFeatureIndex(ctx, featuresPath)
	if err != nil {
		return err
	}
	barcodes, err := eqclass.ReadBarcodeIndex(ctx, barcodesPath)
	if err != nil {
		return err
	}
	ranges := barcodes.Partition(opts.Shards)
	log.Printf("count: %d features, %d barcodes, %d shards",
		features.Len(), barcodes.Len(), len(ranges))
	shards := make([]shardOutput, len(ranges))
	defer func() {
		for i := range shards {
			removeRuns(shards[i].runs)
			removeRuns(shards[i].dumpRuns)
		}
	}()
	if err := traverse.Each(len(ranges), func(i int) error {
		out, err := countShard(ctx, mapsPath, features, barcodes, ranges[i], opts, i)
		if err != nil {
			return err
		}
		shards[i] = out
		return nil
	}); err != nil {
		return err
	}
	if err := writeMatrix(ctx, outDir, features, barcodes, shards, opts); err != nil {
		return err
	}
	if opts.DumpEC {
		if err := writeDump(ctx, outDir, shards, opts); err != nil {
			return err
		}
	}
	return nil
}

// countShard scans the whole mappings file, counting only the cells whose
// barcode index falls in r. The per-cell results are spilled to sorted
// runs whose paths are handed back in the returned shardOutput.
func countShard(ctx context.Context, mapsPath string, features *eqclass.FeatureIndex,
	barcodes *eqclass.BarcodeIndex, r eqclass.Range, opts Opts, shard int) (out shardOutput, err error) {
	start := time.Now()
	defer func() {
		// Runs already handed over by Close are not covered by Discard.
		if err != nil {
			removeRuns(out.runs)
			removeRuns(out.dumpRuns)
			out.runs, out.dumpRuns = nil, nil
		}
	}()
	in, err := eqclass.OpenPath(ctx, mapsPath)
	if err != nil {
		return out, err
	}
	defer func() {
		if cerr := in.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()
	mtx := extsort.NewSorter(extsort.Options{TmpDir: opts.TmpDir})
	defer mtx.Discard()
	var dump *extsort.Sorter
	var dw dumpWriter
	if opts.DumpEC {
		dump = extsort.NewSorter(extsort.Options{TmpDir: opts.TmpDir})
		defer dump.Discard()
	}
	scanner := eqclass.NewCellScanner(in, features)
	var body [8]byte
	for scanner.Scan() {
		bcIdx := barcodes.Index(scanner.Barcode())
		if bcIdx == 0 {
			return out, errors.Errorf("%s: barcode %q not in barcode whitelist", mapsPath, scanner.Barcode())
		}
		if !r.Contains(bcIdx) {
			continue
		}
		classes := scanner.Classes()
		log.Debug.Printf("shard %d: cell %d (%s): %d equivalence classes",
			shard, bcIdx, scanner.Barcode(), len(classes))
		cc := computeCellCounts(classes, opts.HammingThreshold, opts.EMCycles, opts.DumpEC)
		for id, c := range cc.Counts {
			if c < minCount {
				continue
			}
			binary.LittleEndian.PutUint64(body[:], math.Float64bits(c))
			if err := mtx.Add(matrixKey(id, bcIdx), body[:]); err != nil {
				return out, err
			}
		}
		if dump != nil {
			if err := dw.writeCell(dump, bcIdx, scanner.Barcode(), features, classes, cc.Dedup); err != nil {
				return out, err
			}
		}
		out.cells++
	}
	if err := scanner.Err(); err != nil {
		return out, err
	}
	out.entries = mtx.Len()
	if out.runs, err = mtx.Close(); err != nil {
		return out, err
	}
	if dump != nil {
		if out.dumpRuns, err = dump.Close(); err != nil {
			return out, err
		}
	}
	log.Printf("count: shard %d: barcodes [%d,%d): %d cells, %d matrix entries in %v",
		shard, r.Start, r.End, out.cells, out.entries, time.Since(start))
	return out, nil
}

func removeRuns(paths []string) {
	for _, path := range paths {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			log.Error.Printf("count: removing %s: %v", path, err)
		}
	}
}
