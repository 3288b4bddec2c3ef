// Package eqclass provides readers for the barcode-grouped UMI equivalence
// class stream produced by the mapping stage, and for its companion feature
// and barcode index files.
package eqclass

import (
	"encoding/binary"
	"sort"

	"github.com/minio/highwayhash"
)

// FeatureID is a dense identifier assigned to a feature name by the feature
// index, 1-based in feature file line order. 0 is never a valid feature.
type FeatureID int32

// FeatureSet is a set of feature IDs, sorted ascending and deduplicated.
// Sets are interned, so classes with equal feature sets usually share one
// backing slice; callers must treat a FeatureSet as immutable.
type FeatureSet []FeatureID

// Intersects reports whether s and t share at least one feature.
func (s FeatureSet) Intersects(t FeatureSet) bool {
	i, j := 0, 0
	for i < len(s) && j < len(t) {
		switch {
		case s[i] < t[j]:
			i++
		case s[i] > t[j]:
			j++
		default:
			return true
		}
	}
	return false
}

// UnionFeatureSets returns the sorted union of the given sets.
func UnionFeatureSets(sets []FeatureSet) FeatureSet {
	var all []FeatureID
	for _, s := range sets {
		all = append(all, s...)
	}
	sort.Slice(all, func(i, j int) bool { return all[i] < all[j] })
	union := all[:0]
	for i, id := range all {
		if i == 0 || id != all[i-1] {
			union = append(union, id)
		}
	}
	return union
}

// Class is one equivalence class: all reads of a cell that share the same
// UMI and the same candidate feature set.
type Class struct {
	UMI      []byte
	Features FeatureSet
	Count    int
}

// interningSeed is the fixed highwayhash key for feature set interning.
var interningSeed [highwayhash.Size]byte

// A SetInterner deduplicates feature sets. The interning key is the
// highwayhash sum of the set's IDs in little-endian encoding; the 256-bit
// digest is used as the set's identity.
type SetInterner struct {
	sets map[[highwayhash.Size]byte]FeatureSet
	buf  []byte
}

// NewSetInterner returns an empty interner.
func NewSetInterner() *SetInterner {
	return &SetInterner{sets: make(map[[highwayhash.Size]byte]FeatureSet)}
}

// Intern returns the canonical FeatureSet equal to ids, which must already
// be sorted and deduplicated. ids is copied if it becomes the canonical set.
func (si *SetInterner) Intern(ids []FeatureID) FeatureSet {
	si.buf = si.buf[:0]
	var enc [4]byte
	for _, id := range ids {
		binary.LittleEndian.PutUint32(enc[:], uint32(id))
		si.buf = append(si.buf, enc[:]...)
	}
	key := highwayhash.Sum(si.buf, interningSeed[:])
	if s, ok := si.sets[key]; ok {
		return s
	}
	s := make(FeatureSet, len(ids))
	copy(s, ids)
	si.sets[key] = s
	return s
}
