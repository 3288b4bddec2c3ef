package eqclass

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/grailbio/base/grail"
	"github.com/grailbio/base/vcontext"
	"github.com/grailbio/testutil"
	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeGz(t *testing.T, dir, name, content string) string {
	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	require.NoError(t, err)
	gz := gzip.NewWriter(f)
	_, err = gz.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, gz.Close())
	require.NoError(t, f.Close())
	return path
}

func TestReadFeatureIndex(t *testing.T) {
	ctx := vcontext.Background()
	tempDir, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()

	// Only the first tab-separated field names the feature.
	path := writeGz(t, tempDir, "features.tsv.gz",
		"L1HS\tLINE\tGene Expression\nAluYa5\tSINE\tGene Expression\nHERVK\n")
	x, err := ReadFeatureIndex(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, 3, x.Len())
	assert.Equal(t, FeatureID(1), x.ID([]byte("L1HS")))
	assert.Equal(t, FeatureID(2), x.ID([]byte("AluYa5")))
	assert.Equal(t, FeatureID(3), x.ID([]byte("HERVK")))
	assert.Equal(t, FeatureID(0), x.ID([]byte("L2")))
	assert.Equal(t, "AluYa5", x.Name(2))
	assert.Equal(t, "", x.Name(0))
	assert.Equal(t, "", x.Name(4))
}

func TestReadFeatureIndexDuplicate(t *testing.T) {
	ctx := vcontext.Background()
	tempDir, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()

	path := writeGz(t, tempDir, "features.tsv.gz", "L1HS\nAluYa5\nL1HS\n")
	_, err := ReadFeatureIndex(ctx, path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate feature")
}

func TestReadBarcodeIndex(t *testing.T) {
	ctx := vcontext.Background()
	tempDir, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()

	path := writeGz(t, tempDir, "barcodes.tsv.gz", "AACT\nACGG\nTTGC\nGGCA\n")
	x, err := ReadBarcodeIndex(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, 4, x.Len())
	assert.Equal(t, int32(1), x.Index([]byte("AACT")))
	assert.Equal(t, int32(4), x.Index([]byte("GGCA")))
	assert.Equal(t, int32(0), x.Index([]byte("CCCC")))
}

func TestPartition(t *testing.T) {
	tests := []struct {
		barcodes int
		n        int
		want     []Range
	}{
		{10, 1, []Range{{1, 11}}},
		{10, 3, []Range{{1, 4}, {4, 7}, {7, 11}}},
		{4, 4, []Range{{1, 2}, {2, 3}, {3, 4}, {4, 5}}},
		{3, 5, []Range{{1, 2}, {2, 3}, {3, 4}}},
		{1, 1, []Range{{1, 2}}},
	}
	for _, test := range tests {
		x := &BarcodeIndex{n: test.barcodes}
		got := x.Partition(test.n)
		assert.Equal(t, test.want, got, "barcodes=%d n=%d", test.barcodes, test.n)
		// Every index is owned by exactly one range.
		for i := int32(1); i <= int32(test.barcodes); i++ {
			owners := 0
			for _, r := range got {
				if r.Contains(i) {
					owners++
				}
			}
			assert.Equal(t, 1, owners, "barcode %d owners", i)
		}
	}
}

func TestMain(m *testing.M) {
	shutdown := grail.Init()
	defer shutdown()
	os.Exit(m.Run())
}
