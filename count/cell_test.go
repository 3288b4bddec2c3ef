package count

import (
	"testing"

	"github.com/bepoli/irescue/encoding/eqclass"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComputeCellCountsSingle(t *testing.T) {
	cc := computeCellCounts([]eqclass.Class{cls("AAAA", 3, 1)}, 1, 100, true)
	assert.Equal(t, map[eqclass.FeatureID]float64{1: 1.0}, cc.Counts)
	assert.Equal(t, []dedupRecord{{}}, cc.Dedup)
}

func TestComputeCellCountsChain(t *testing.T) {
	// Three classes collapse into one molecule rooted at the class with
	// the most reads.
	cc := computeCellCounts([]eqclass.Class{
		cls("AAAA", 10, 1),
		cls("AAAT", 5, 1),
		cls("AATT", 2, 1),
	}, 1, 100, true)
	assert.Equal(t, map[eqclass.FeatureID]float64{1: 1.0}, cc.Counts)
	require.Len(t, cc.Dedup, 3)
	assert.Empty(t, cc.Dedup[0].ParentUMI)
	assert.Empty(t, cc.Dedup[0].Features)
	assert.Equal(t, "AAAA", string(cc.Dedup[1].ParentUMI))
	assert.Equal(t, eqclass.FeatureSet{1}, cc.Dedup[1].Features)
	assert.Equal(t, "AAAA", string(cc.Dedup[2].ParentUMI))
	assert.Equal(t, eqclass.FeatureSet{1}, cc.Dedup[2].Features)
}

func TestComputeCellCountsParentFeaturesWin(t *testing.T) {
	// The merged molecule keeps the root's own feature set even when a
	// duplicate is compatible with more features.
	cc := computeCellCounts([]eqclass.Class{
		cls("AAAAA", 5, 1),
		cls("AAAAT", 2, 1, 2),
	}, 1, 100, true)
	assert.Equal(t, map[eqclass.FeatureID]float64{1: 1.0}, cc.Counts)
	require.Len(t, cc.Dedup, 2)
	assert.Empty(t, cc.Dedup[0].ParentUMI)
	assert.Equal(t, "AAAAA", string(cc.Dedup[1].ParentUMI))
	assert.Equal(t, eqclass.FeatureSet{1}, cc.Dedup[1].Features)
}

func TestComputeCellCountsUnconnected(t *testing.T) {
	cc := computeCellCounts([]eqclass.Class{
		cls("AAAA", 5, 1),
		cls("TTTT", 5, 1),
	}, 1, 100, false)
	assert.Equal(t, map[eqclass.FeatureID]float64{1: 2.0}, cc.Counts)
	assert.Nil(t, cc.Dedup)
}

func TestComputeCellCountsHammingThreshold(t *testing.T) {
	classes := []eqclass.Class{
		cls("AAAA", 9, 1),
		cls("AATT", 5, 1),
	}
	cc := computeCellCounts(classes, 1, 100, false)
	assert.Equal(t, map[eqclass.FeatureID]float64{1: 2.0}, cc.Counts)
	cc = computeCellCounts(classes, 2, 100, false)
	assert.Equal(t, map[eqclass.FeatureID]float64{1: 1.0}, cc.Counts)
}

func TestComputeCellCountsAmbiguous(t *testing.T) {
	// A molecule compatible with two features is split between them.
	cc := computeCellCounts([]eqclass.Class{cls("AAAA", 2, 1, 2)}, 1, 100, false)
	assert.Len(t, cc.Counts, 2)
	assert.InDelta(t, 0.5, cc.Counts[1], 1e-9)
	assert.InDelta(t, 0.5, cc.Counts[2], 1e-9)
}

func TestComputeCellCountsMixed(t *testing.T) {
	// Unambiguously assigned molecules stay out of the EM; a lone
	// ambiguous molecule still splits evenly.
	cc := computeCellCounts([]eqclass.Class{
		cls("AAAA", 2, 1, 2),
		cls("GGGG", 4, 1),
	}, 1, 100, false)
	assert.InDelta(t, 1.5, cc.Counts[1], 1e-9)
	assert.InDelta(t, 0.5, cc.Counts[2], 1e-9)
}

func TestComputeCellCountsParsimony(t *testing.T) {
	cc := computeCellCounts([]eqclass.Class{
		cls("AAAA", 9, 1),
		cls("AATT", 9, 2),
		cls("AATA", 5, 1, 2),
		cls("ATTA", 2, 2),
	}, 1, 100, true)
	assert.Equal(t, map[eqclass.FeatureID]float64{1: 1.0, 2: 1.0}, cc.Counts)
	require.Len(t, cc.Dedup, 4)
	assert.Empty(t, cc.Dedup[0].ParentUMI)
	assert.Empty(t, cc.Dedup[1].ParentUMI)
	assert.Equal(t, "AATT", string(cc.Dedup[2].ParentUMI))
	assert.Equal(t, eqclass.FeatureSet{2}, cc.Dedup[2].Features)
	assert.Equal(t, "AATT", string(cc.Dedup[3].ParentUMI))
	assert.Equal(t, eqclass.FeatureSet{2}, cc.Dedup[3].Features)
}

func TestComputeCellCountsCycleUnion(t *testing.T) {
	// Mutually connected singletons leave no parent: the molecule carries
	// the union of the component's features and is split three ways.
	cc := computeCellCounts([]eqclass.Class{
		cls("AAAA", 1, 1, 2),
		cls("AAAT", 1, 2, 3),
	}, 1, 100, true)
	assert.Len(t, cc.Counts, 3)
	assert.InDelta(t, 1.0/3, cc.Counts[1], 1e-9)
	assert.InDelta(t, 1.0/3, cc.Counts[2], 1e-9)
	assert.InDelta(t, 1.0/3, cc.Counts[3], 1e-9)
	require.Len(t, cc.Dedup, 2)
	assert.Empty(t, cc.Dedup[0].ParentUMI)
	assert.Equal(t, "AAAA", string(cc.Dedup[1].ParentUMI))
	assert.Equal(t, eqclass.FeatureSet{1, 2, 3}, cc.Dedup[1].Features)
}
