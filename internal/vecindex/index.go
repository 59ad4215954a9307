// Package vecindex implements the in-process vector index: a dense matrix of
// chunk embeddings searched by exhaustive cosine similarity. Matrices are
// persisted in a binary vector file and read back either fully in memory or
// file-backed, depending on size.
package vecindex

import (
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/seerstack/logseer/internal/domain"
)

// normEpsilon guards the norm product; scores involving a zero vector are
// defined as zero rather than dividing by a denormal.
const normEpsilon = 1e-8

// Entry is one search hit.
type Entry struct {
	Chunk domain.Chunk
	Score float64
}

// Index pairs the chunks of one knowledge base with their vectors and serves
// cosine-similarity search over them. Positions are stable: chunks[i] always
// corresponds to matrix row i.
type Index struct {
	mu      sync.Mutex
	modelID string
	dim     int
	chunks  []domain.Chunk
	source  VectorSource
}

// Build creates an in-memory index. chunks[i] corresponds to vectors[i].
func Build(modelID string, dim int, chunks []domain.Chunk, vectors [][]float32) (*Index, error) {
	if modelID == "" {
		return nil, domain.NewDomainError(domain.ErrCodeValidation, "index model id is required")
	}
	if dim <= 0 {
		return nil, domain.NewDomainError(domain.ErrCodeValidation, "index dimension must be greater than zero")
	}
	if len(chunks) != len(vectors) {
		return nil, domain.NewDomainError(domain.ErrCodeValidation,
			fmt.Sprintf("chunk count %d does not match vector count %d", len(chunks), len(vectors)))
	}
	for _, vec := range vectors {
		if len(vec) != dim {
			return nil, domain.ErrModelMismatch
		}
	}

	return &Index{
		modelID: modelID,
		dim:     dim,
		chunks:  append([]domain.Chunk(nil), chunks...),
		source:  newMemSource(dim, vectors),
	}, nil
}

// Open wraps an already-loaded vector source with its chunk records.
func Open(modelID string, chunks []domain.Chunk, source VectorSource) (*Index, error) {
	if source.Len() != len(chunks) {
		return nil, fmt.Errorf("vector source holds %d rows but %d chunks are recorded",
			source.Len(), len(chunks))
	}
	return &Index{
		modelID: modelID,
		dim:     source.Dimension(),
		chunks:  chunks,
		source:  source,
	}, nil
}

// Append extends the index in place with vectors of the same dimension. A
// file-backed source is materialized into memory first.
func (idx *Index) Append(chunks []domain.Chunk, vectors [][]float32) error {
	if len(chunks) != len(vectors) {
		return domain.NewDomainError(domain.ErrCodeValidation,
			fmt.Sprintf("chunk count %d does not match vector count %d", len(chunks), len(vectors)))
	}
	for _, vec := range vectors {
		if len(vec) != idx.dim {
			return domain.ErrModelMismatch
		}
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()

	mem, ok := idx.source.(*memSource)
	if !ok {
		materialized, err := materialize(idx.source)
		if err != nil {
			return err
		}
		idx.source.Close()
		idx.source = materialized
		mem = materialized
	}

	mem.append(vectors)
	idx.chunks = append(idx.chunks, chunks...)
	return nil
}

func materialize(src VectorSource) (*memSource, error) {
	data := make([]float32, 0, src.Len()*src.Dimension())
	for i := 0; i < src.Len(); i++ {
		row, err := src.Row(i)
		if err != nil {
			return nil, err
		}
		data = append(data, row...)
	}
	return &memSource{dim: src.Dimension(), data: data}, nil
}

// Search scores the query against every stored vector and returns the top k
// entries by cosine similarity, descending. Equal scores keep insertion
// order. k above the index size returns everything.
func (idx *Index) Search(query []float32, k int) ([]Entry, error) {
	if k <= 0 {
		return nil, domain.ErrInvalidTopK
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()

	if len(idx.chunks) == 0 {
		return []Entry{}, nil
	}
	if len(query) != idx.dim {
		return nil, domain.ErrModelMismatch
	}

	var queryNorm float64
	for _, v := range query {
		queryNorm += float64(v) * float64(v)
	}
	queryNorm = math.Sqrt(queryNorm)

	entries := make([]Entry, len(idx.chunks))
	for i := range idx.chunks {
		row, err := idx.source.Row(i)
		if err != nil {
			return nil, err
		}

		var dot, rowNorm float64
		for j, v := range row {
			fv := float64(v)
			dot += float64(query[j]) * fv
			rowNorm += fv * fv
		}

		score := 0.0
		if denom := queryNorm * math.Sqrt(rowNorm); denom >= normEpsilon {
			score = dot / denom
		}
		entries[i] = Entry{Chunk: idx.chunks[i], Score: score}
	}

	sort.SliceStable(entries, func(i, j int) bool { return entries[i].Score > entries[j].Score })

	if k < len(entries) {
		entries = entries[:k]
	}
	return entries, nil
}

// ModelID reports the model every stored vector was produced with.
func (idx *Index) ModelID() string { return idx.modelID }

// Dimension reports the vector dimension.
func (idx *Index) Dimension() int { return idx.dim }

// Len reports the number of indexed chunks.
func (idx *Index) Len() int {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	return len(idx.chunks)
}

// Close releases the underlying vector source.
func (idx *Index) Close() error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	return idx.source.Close()
}
