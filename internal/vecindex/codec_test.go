package vecindex

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seerstack/logseer/internal/domain"
)

func testMatrix(rows, dim int) [][]float32 {
	vectors := make([][]float32, rows)
	for i := range vectors {
		vec := make([]float32, dim)
		for j := range vec {
			vec[j] = float32(i*dim+j) * 0.25
		}
		vectors[i] = vec
	}
	return vectors
}

func TestVectorFile_Roundtrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vectors.bin")
	vectors := testMatrix(10, 4)

	require.NoError(t, WriteVectorFile(path, testModelID, 4, vectors))

	src, modelID, err := OpenVectorFile(path, 0)
	require.NoError(t, err)
	defer src.Close()

	assert.Equal(t, testModelID, modelID)
	assert.Equal(t, 10, src.Len())
	assert.Equal(t, 4, src.Dimension())

	for i, want := range vectors {
		row, err := src.Row(i)
		require.NoError(t, err)
		assert.Equal(t, want, row, "row %d", i)
	}
}

func TestVectorFile_FileBackedMatchesMemory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vectors.bin")
	// Enough rows to span several read blocks.
	vectors := testMatrix(1000, 8)
	require.NoError(t, WriteVectorFile(path, testModelID, 8, vectors))

	mem, _, err := OpenVectorFile(path, 0)
	require.NoError(t, err)
	defer mem.Close()

	// A one-byte limit forces the file-backed source.
	file, _, err := OpenVectorFile(path, 1)
	require.NoError(t, err)
	defer file.Close()

	_, isFileBacked := file.(*fileSource)
	require.True(t, isFileBacked, "tiny memory limit should force the file-backed source")

	require.Equal(t, mem.Len(), file.Len())
	for i := 0; i < mem.Len(); i++ {
		memRow, err := mem.Row(i)
		require.NoError(t, err)
		fileRow, err := file.Row(i)
		require.NoError(t, err)
		require.Equal(t, memRow, fileRow, "row %d", i)
	}
}

func TestVectorFile_FileBackedRandomAccess(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vectors.bin")
	vectors := testMatrix(600, 4)
	require.NoError(t, WriteVectorFile(path, testModelID, 4, vectors))

	src, _, err := OpenVectorFile(path, 1)
	require.NoError(t, err)
	defer src.Close()

	// Jump across block boundaries in both directions.
	for _, i := range []int{599, 0, 256, 255, 300, 1} {
		row, err := src.Row(i)
		require.NoError(t, err)
		assert.Equal(t, vectors[i], row, "row %d", i)
	}

	_, err = src.Row(600)
	assert.Error(t, err)
	_, err = src.Row(-1)
	assert.Error(t, err)
}

func TestVectorFile_EmptyMatrix(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vectors.bin")
	require.NoError(t, WriteVectorFile(path, testModelID, 4, nil))

	src, modelID, err := OpenVectorFile(path, 0)
	require.NoError(t, err)
	defer src.Close()

	assert.Equal(t, testModelID, modelID)
	assert.Equal(t, 0, src.Len())
	assert.Equal(t, 4, src.Dimension())
}

func TestVectorFile_ReadAllVectors(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vectors.bin")
	vectors := testMatrix(7, 3)
	require.NoError(t, WriteVectorFile(path, testModelID, 3, vectors))

	modelID, dim, got, err := ReadAllVectors(path)
	require.NoError(t, err)
	assert.Equal(t, testModelID, modelID)
	assert.Equal(t, 3, dim)
	assert.Equal(t, vectors, got)
}

func TestVectorFile_RejectsBadMagic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vectors.bin")
	require.NoError(t, WriteVectorFile(path, testModelID, 2, testMatrix(2, 2)))

	f, err := os.OpenFile(path, os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.WriteAt([]byte("NOPE"), 0)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	_, _, err = OpenVectorFile(path, 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not a vector file")
}

func TestVectorFile_RejectsTruncated(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vectors.bin")
	require.NoError(t, WriteVectorFile(path, testModelID, 2, testMatrix(4, 2)))

	info, err := os.Stat(path)
	require.NoError(t, err)
	require.NoError(t, os.Truncate(path, info.Size()-3))

	_, _, err = OpenVectorFile(path, 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "truncated")
}

func TestWriteVectorFile_Validation(t *testing.T) {
	dir := t.TempDir()

	tests := []struct {
		name    string
		modelID string
		dim     int
		vectors [][]float32
	}{
		{name: "zero dimension", modelID: testModelID, dim: 0, vectors: nil},
		{name: "empty model id", modelID: "", dim: 2, vectors: nil},
		{name: "oversized model id", modelID: string(make([]byte, 300)), dim: 2, vectors: nil},
		{name: "row dimension mismatch", modelID: testModelID, dim: 2, vectors: [][]float32{{1, 2, 3}}},
	}

	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(dir, fmt.Sprintf("bad-%d.bin", i))
			err := WriteVectorFile(path, tt.modelID, tt.dim, tt.vectors)
			require.Error(t, err)

			var domainErr *domain.DomainError
			assert.ErrorAs(t, err, &domainErr)
		})
	}
}
