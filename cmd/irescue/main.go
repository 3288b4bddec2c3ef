package main

/*
irescue quantifies transposable element expression in single cells from a
barcode-grouped equivalence class file, writing a MatrixMarket count
matrix deduplicated per cell UMI.
*/

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/bepoli/irescue/count"
	"github.com/grailbio/base/grail"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/vcontext"
)

var (
	shards     = flag.Int("shards", count.DefaultOpts.Shards, "Number of barcode partitions counted in parallel; 0 = runtime.NumCPU()")
	maxHamming = flag.Int("max-hamming", count.DefaultOpts.HammingThreshold, "Maximum number of UMI mismatches for two equivalence classes to count as duplicates")
	emCycles   = flag.Int("em-cycles", count.DefaultOpts.EMCycles, "Number of EM cycles used to resolve molecules mapping to multiple features")
	dumpEC     = flag.Bool("dump-ec", count.DefaultOpts.DumpEC, "Also write ec_dump.tsv.gz describing how every equivalence class was deduplicated")
	outDir     = flag.String("outdir", "irescue_out", "Output directory; created if missing")
	tempDir    = flag.String("temp-dir", count.DefaultOpts.TmpDir, "Directory to write temporary files to (default os.TempDir())")
)

func irescueUsage() {
	fmt.Printf("Usage: %s [OPTIONS] mapspath featurespath barcodespath\n", os.Args[0])
	fmt.Printf("Other options:\n")
	flag.PrintDefaults()
}

func main() {
	flag.Usage = irescueUsage
	shutdown := grail.Init()
	defer shutdown()

	allArgs := flag.Args()
	nPositionalArgs := flag.NArg()
	positionalArgs := allArgs[len(allArgs)-nPositionalArgs:]
	if nPositionalArgs != 3 {
		if nPositionalArgs < 3 {
			log.Fatalf("Missing positional arguments (mapspath, featurespath and barcodespath required); please check flag syntax: '%s'", strings.Join(positionalArgs, " "))
		} else {
			log.Fatalf("Too many positional arguments (only mapspath, featurespath and barcodespath expected); please check flag syntax: '%s'", strings.Join(positionalArgs, " "))
		}
	}
	if err := os.MkdirAll(*outDir, 0775); err != nil {
		log.Fatalf("Cannot create output directory %s: %v", *outDir, err)
	}
	ctx := vcontext.Background()
	opts := count.Opts{
		Shards:           *shards,
		HammingThreshold: *maxHamming,
		EMCycles:         *emCycles,
		DumpEC:           *dumpEC,
		TmpDir:           *tempDir,
	}
	if err := count.Count(ctx, positionalArgs[0], positionalArgs[1], positionalArgs[2], *outDir, opts); err != nil {
		log.Panicf("%v", err)
	}
	log.Debug.Printf("exiting")
}
