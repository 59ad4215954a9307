package vecindex

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"hash/fnv"
	"io"
	"math"
	"os"

	"github.com/seerstack/logseer/internal/domain"
)

// Vector file layout: a fixed header, a fixed-size model id region, then the
// row-major little-endian float32 matrix. Keeping the matrix at a constant
// offset lets the file-backed source compute row positions directly.
//
//	[0:4)    magic "LSVX"
//	[4:6)    format version (uint16)
//	[8:12)   dimension (uint32)
//	[12:20)  row count (uint64)
//	[20:28)  fnv64a of the model id (uint64)
//	[64:66)  model id length (uint16), id bytes follow, region zero-padded
//	[320:)   matrix
const (
	vectorMagic    = "LSVX"
	vectorVersion  = 1
	headerSize     = 64
	modelRegion    = 256
	matrixOffset   = headerSize + modelRegion
	maxModelIDSize = modelRegion - 2
)

func hashModelID(modelID string) uint64 {
	h := fnv.New64a()
	h.Write([]byte(modelID))
	return h.Sum64()
}

// WriteVectorFile writes the matrix to path and syncs it. Callers stage the
// file inside a generation directory; the commit rename happens elsewhere.
func WriteVectorFile(path, modelID string, dim int, vectors [][]float32) error {
	if dim <= 0 {
		return domain.NewDomainError(domain.ErrCodeValidation, "vector dimension must be greater than zero")
	}
	if len(modelID) == 0 || len(modelID) > maxModelIDSize {
		return domain.NewDomainError(domain.ErrCodeValidation,
			fmt.Sprintf("model id must be between 1 and %d bytes", maxModelIDSize))
	}
	for i, vec := range vectors {
		if len(vec) != dim {
			return domain.NewDomainError(domain.ErrCodeModelMismatch,
				fmt.Sprintf("vector %d has dimension %d, want %d", i, len(vec), dim))
		}
	}

	var header [headerSize]byte
	copy(header[0:4], vectorMagic)
	binary.LittleEndian.PutUint16(header[4:6], vectorVersion)
	binary.LittleEndian.PutUint32(header[8:12], uint32(dim))
	binary.LittleEndian.PutUint64(header[12:20], uint64(len(vectors)))
	binary.LittleEndian.PutUint64(header[20:28], hashModelID(modelID))

	var region [modelRegion]byte
	binary.LittleEndian.PutUint16(region[0:2], uint16(len(modelID)))
	copy(region[2:], modelID)

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("failed to create vector file: %w", err)
	}

	w := bufio.NewWriterSize(f, 1<<20)
	if _, err := w.Write(header[:]); err != nil {
		f.Close()
		return fmt.Errorf("failed to write vector header: %w", err)
	}
	if _, err := w.Write(region[:]); err != nil {
		f.Close()
		return fmt.Errorf("failed to write vector header: %w", err)
	}

	rowBuf := make([]byte, dim*4)
	for _, vec := range vectors {
		for j, v := range vec {
			binary.LittleEndian.PutUint32(rowBuf[4*j:], math.Float32bits(v))
		}
		if _, err := w.Write(rowBuf); err != nil {
			f.Close()
			return fmt.Errorf("failed to write vector row: %w", err)
		}
	}

	if err := w.Flush(); err != nil {
		f.Close()
		return fmt.Errorf("failed to flush vector file: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("failed to sync vector file: %w", err)
	}
	return f.Close()
}

// OpenVectorFile opens path and returns a source over its matrix along with
// the recorded model id. Matrices no larger than memoryLimit bytes are loaded
// into memory; larger ones stay file-backed. A limit of zero or below means
// always load into memory.
func OpenVectorFile(path string, memoryLimit int64) (VectorSource, string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, "", fmt.Errorf("failed to open vector file: %w", err)
	}

	var head [matrixOffset]byte
	if _, err := io.ReadFull(f, head[:]); err != nil {
		f.Close()
		return nil, "", fmt.Errorf("failed to read vector header: %w", err)
	}
	if string(head[0:4]) != vectorMagic {
		f.Close()
		return nil, "", fmt.Errorf("%s is not a vector file", path)
	}
	if v := binary.LittleEndian.Uint16(head[4:6]); v != vectorVersion {
		f.Close()
		return nil, "", fmt.Errorf("unsupported vector file version %d", v)
	}

	dim := int(binary.LittleEndian.Uint32(head[8:12]))
	count := int(binary.LittleEndian.Uint64(head[12:20]))
	wantHash := binary.LittleEndian.Uint64(head[20:28])
	idLen := int(binary.LittleEndian.Uint16(head[headerSize : headerSize+2]))
	if dim <= 0 || count < 0 || idLen == 0 || idLen > maxModelIDSize {
		f.Close()
		return nil, "", fmt.Errorf("vector file %s has a corrupt header", path)
	}

	modelID := string(head[headerSize+2 : headerSize+2+idLen])
	if hashModelID(modelID) != wantHash {
		f.Close()
		return nil, "", fmt.Errorf("vector file %s fails its model id check", path)
	}

	matrixBytes := int64(count) * int64(dim) * 4
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, "", fmt.Errorf("failed to stat vector file: %w", err)
	}
	if info.Size() != matrixOffset+matrixBytes {
		f.Close()
		return nil, "", fmt.Errorf("vector file %s is truncated: have %d bytes, want %d",
			path, info.Size(), matrixOffset+matrixBytes)
	}

	if memoryLimit > 0 && matrixBytes > memoryLimit {
		return newFileSource(f, matrixOffset, dim, count), modelID, nil
	}

	buf := make([]byte, matrixBytes)
	if _, err := io.ReadFull(f, buf); err != nil {
		f.Close()
		return nil, "", fmt.Errorf("failed to read vector matrix: %w", err)
	}
	f.Close()

	data := make([]float32, count*dim)
	for i := range data {
		data[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[4*i:]))
	}
	return &memSource{dim: dim, data: data}, modelID, nil
}

// ReadAllVectors loads every row into memory regardless of size. Incremental
// rebuilds use it because they need the full matrix to extend it.
func ReadAllVectors(path string) (string, int, [][]float32, error) {
	src, modelID, err := OpenVectorFile(path, 0)
	if err != nil {
		return "", 0, nil, err
	}
	defer src.Close()

	vectors := make([][]float32, src.Len())
	for i := range vectors {
		row, err := src.Row(i)
		if err != nil {
			return "", 0, nil, err
		}
		vectors[i] = append([]float32(nil), row...)
	}
	return modelID, src.Dimension(), vectors, nil
}
