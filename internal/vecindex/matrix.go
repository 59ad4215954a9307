package vecindex

import (
	"encoding/binary"
	"fmt"
	"math"
	"os"
)

// VectorSource provides row access to a dense float32 matrix. A returned row
// is only valid until the next Row call on the same source.
type VectorSource interface {
	Len() int
	Dimension() int
	Row(i int) ([]float32, error)
	Close() error
}

// memSource holds the whole matrix in one contiguous slice.
type memSource struct {
	dim  int
	data []float32
}

func newMemSource(dim int, vectors [][]float32) *memSource {
	data := make([]float32, 0, len(vectors)*dim)
	for _, vec := range vectors {
		data = append(data, vec...)
	}
	return &memSource{dim: dim, data: data}
}

func (s *memSource) Len() int       { return len(s.data) / s.dim }
func (s *memSource) Dimension() int { return s.dim }

func (s *memSource) Row(i int) ([]float32, error) {
	if i < 0 || i >= s.Len() {
		return nil, fmt.Errorf("row %d out of range [0,%d)", i, s.Len())
	}
	return s.data[i*s.dim : (i+1)*s.dim], nil
}

func (s *memSource) Close() error { return nil }

func (s *memSource) append(vectors [][]float32) {
	for _, vec := range vectors {
		s.data = append(s.data, vec...)
	}
}

// fileSourceBlockRows bounds how many rows one ReadAt pulls in, so a
// sequential scan touches each block of the file once.
const fileSourceBlockRows = 256

// fileSource reads rows from an open vector file on demand. Not safe for
// concurrent use; Index serializes access.
type fileSource struct {
	f          *os.File
	offset     int64
	dim        int
	count      int
	rowBytes   int
	blockStart int
	blockLen   int
	block      []byte
	row        []float32
}

func newFileSource(f *os.File, offset int64, dim, count int) *fileSource {
	rowBytes := dim * 4
	return &fileSource{
		f:          f,
		offset:     offset,
		dim:        dim,
		count:      count,
		rowBytes:   rowBytes,
		blockStart: -1,
		block:      make([]byte, 0, fileSourceBlockRows*rowBytes),
		row:        make([]float32, dim),
	}
}

func (s *fileSource) Len() int       { return s.count }
func (s *fileSource) Dimension() int { return s.dim }

func (s *fileSource) Row(i int) ([]float32, error) {
	if i < 0 || i >= s.count {
		return nil, fmt.Errorf("row %d out of range [0,%d)", i, s.count)
	}
	if s.blockStart < 0 || i < s.blockStart || i >= s.blockStart+s.blockLen {
		if err := s.loadBlock(i); err != nil {
			return nil, err
		}
	}

	base := (i - s.blockStart) * s.rowBytes
	for j := 0; j < s.dim; j++ {
		bits := binary.LittleEndian.Uint32(s.block[base+4*j:])
		s.row[j] = math.Float32frombits(bits)
	}
	return s.row, nil
}

func (s *fileSource) loadBlock(start int) error {
	n := fileSourceBlockRows
	if rest := s.count - start; rest < n {
		n = rest
	}
	size := n * s.rowBytes
	s.block = s.block[:size]

	if _, err := s.f.ReadAt(s.block, s.offset+int64(start)*int64(s.rowBytes)); err != nil {
		s.blockStart = -1
		return fmt.Errorf("failed to read vector block at row %d: %w", start, err)
	}
	s.blockStart = start
	s.blockLen = n
	return nil
}

func (s *fileSource) Close() error { return s.f.Close() }
