// Package count quantifies transposable element expression per cell from a
// barcode-grouped stream of UMI equivalence classes. Each cell's classes are
// deduplicated over a directed UMI connectivity graph, residual
// multi-feature ambiguity is resolved with a fixed-cycle EM, and the
// per-cell counts are merged into one sparse MatrixMarket matrix.
package count

// Opts contains the caller-adjustable knobs for Count.
type Opts struct {
	// Shards is the number of contiguous barcode partitions, processed in
	// parallel. If <= 0, runtime.NumCPU() is used.
	Shards int
	// HammingThreshold is the maximum number of UMI mismatches for two
	// equivalence classes to be merged as duplicates of one molecule.
	HammingThreshold int
	// EMCycles is the fixed number of EM iterations used to resolve
	// multi-feature ambiguity.
	EMCycles int
	// DumpEC also writes ec_dump.tsv.gz, an audit dump recording every
	// equivalence class's resolved parent UMI and deduplicated feature set.
	DumpEC bool
	// TmpDir is the directory spilled sort runs are written to. "" means
	// the system default, usually /tmp.
	TmpDir string
}

// DefaultOpts holds the default values for Opts.
var DefaultOpts = Opts{
	Shards:           0,
	HammingThreshold: 1,
	EMCycles:         100,
}
