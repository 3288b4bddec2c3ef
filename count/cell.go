package count

import (
	"github.com/bepoli/irescue/encoding/eqclass"
	"github.com/grailbio/base/log"
)

// dedupRecord describes how one equivalence class was resolved during
// deduplication: the UMI of the path parent the class was merged into and
// the feature set assigned to the resulting molecule. Classes that head a
// path keep both fields empty.
type dedupRecord struct {
	ParentUMI []byte
	Features  eqclass.FeatureSet
}

// cellCounts is the outcome of deduplicating one cell.
type cellCounts struct {
	// Counts maps a feature to its deduplicated molecule count.
	Counts map[eqclass.FeatureID]float64
	// Dedup is index-aligned with the cell's equivalence classes. It is
	// nil unless dump records were requested.
	Dedup []dedupRecord
}

// computeCellCounts deduplicates the equivalence classes of one cell and
// returns its feature counts. Classes are joined into a directed
// connectivity graph, every weakly connected component is decomposed into
// the fewest paths of duplicated UMIs, and each path counts as one
// molecule for its assigned features. Molecules left compatible with more
// than one feature are apportioned by EM.
func computeCellCounts(classes []eqclass.Class, maxHamming, emCycles int, dump bool) cellCounts {
	cc := cellCounts{Counts: make(map[eqclass.FeatureID]float64)}
	if dump {
		cc.Dedup = make([]dedupRecord, len(classes))
	}
	g := buildCellGraph(classes, maxHamming)
	used := make([]bool, len(classes))
	var ambiguous []eqclass.FeatureSet
	for _, comp := range g.components() {
		paths, features := g.resolveComponent(comp, used)
		for i, path := range paths {
			feats := features[i]
			switch {
			case len(feats) == 1:
				cc.Counts[feats[0]] += 1.0
			case len(feats) > 1:
				ambiguous = append(ambiguous, feats)
			default:
				logComponent(g, comp, paths, features)
				log.Panicf("count: no features in common along a deduplicated path")
			}
			if cc.Dedup != nil {
				for _, n := range path[1:] {
					cc.Dedup[n] = dedupRecord{
						ParentUMI: g.classes[path[0]].UMI,
						Features:  feats,
					}
				}
			}
		}
	}
	if len(ambiguous) > 0 {
		resolveAmbiguities(cc.Counts, ambiguous, emCycles)
	}
	return cc
}

// resolveAmbiguities distributes the molecules in rows, each compatible
// with several features, across those features by EM and adds the
// resulting estimates to counts.
func resolveAmbiguities(counts map[eqclass.FeatureID]float64, rows []eqclass.FeatureSet, cycles int) {
	cols := eqclass.UnionFeatureSets(rows)
	colOf := make(map[eqclass.FeatureID]int, len(cols))
	for j, id := range cols {
		colOf[id] = j
	}
	emRows := make([][]int, len(rows))
	for i, row := range rows {
		r := make([]int, len(row))
		for k, id := range row {
			r[k] = colOf[id]
		}
		emRows[i] = r
	}
	weights := runEM(emRows, len(cols), cycles)
	for j, w := range weights {
		if c := w * float64(len(rows)); c > 0 {
			counts[cols[j]] += c
		}
	}
}

// logComponent dumps a component's nodes, adjacency and resolution state
// before aborting on an unresolvable path.
func logComponent(g *cellGraph, comp []int, paths [][]int, features []eqclass.FeatureSet) {
	for _, n := range comp {
		log.Error.Printf("node %d: umi=%s features=%v count=%d successors=%v",
			n, g.classes[n].UMI, g.classes[n].Features, g.classes[n].Count, g.succ[n])
	}
	log.Error.Printf("paths: %v", paths)
	log.Error.Printf("features: %v", features)
}
