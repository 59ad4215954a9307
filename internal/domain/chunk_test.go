package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChunkID(t *testing.T) {
	t.Run("deterministic for identical provenance", func(t *testing.T) {
		a := ChunkID("crash-42", "app.log", 1, 20)
		b := ChunkID("crash-42", "app.log", 1, 20)
		assert.Equal(t, a, b)
	})

	t.Run("distinct for different ranges", func(t *testing.T) {
		a := ChunkID("crash-42", "app.log", 1, 20)
		b := ChunkID("crash-42", "app.log", 15, 35)
		assert.NotEqual(t, a, b)
	})

	t.Run("distinct for different files", func(t *testing.T) {
		a := ChunkID("crash-42", "app.log", 1, 20)
		b := ChunkID("crash-42", "db.log", 1, 20)
		assert.NotEqual(t, a, b)
	})
}

func TestHashContent(t *testing.T) {
	h1 := HashContent("ERROR connection refused")
	h2 := HashContent("ERROR connection refused")
	h3 := HashContent("INFO started")

	assert.Equal(t, h1, h2)
	assert.NotEqual(t, h1, h3)
	assert.Len(t, h1, 64)
}

func TestNewChunk(t *testing.T) {
	chunk := NewChunk("crash-42", "app.log", 3, 7, "line three\nline four")

	assert.Equal(t, "crash-42:app.log:3-7", chunk.ID)
	assert.Equal(t, "crash-42", chunk.IssueID)
	assert.Equal(t, "app.log", chunk.SourceFile)
	assert.Equal(t, 3, chunk.LineStart)
	assert.Equal(t, 7, chunk.LineEnd)
	assert.Equal(t, "line three\nline four", chunk.Text)
	assert.Equal(t, HashContent("line three\nline four"), chunk.ContentHash)
}

func TestValidateChunk(t *testing.T) {
	valid := NewChunk("crash-42", "app.log", 1, 4, "some text")

	tests := []struct {
		name    string
		mutate  func(c *Chunk)
		wantErr bool
		errMsg  string
	}{
		{
			name:    "valid chunk",
			mutate:  func(c *Chunk) {},
			wantErr: false,
		},
		{
			name:    "missing ID",
			mutate:  func(c *Chunk) { c.ID = "" },
			wantErr: true,
			errMsg:  "ID",
		},
		{
			name:    "missing SourceFile",
			mutate:  func(c *Chunk) { c.SourceFile = "" },
			wantErr: true,
			errMsg:  "SourceFile",
		},
		{
			name:    "line start below 1",
			mutate:  func(c *Chunk) { c.LineStart = 0 },
			wantErr: true,
			errMsg:  "LineStart",
		},
		{
			name:    "line end before start",
			mutate:  func(c *Chunk) { c.LineEnd = c.LineStart - 1 },
			wantErr: true,
			errMsg:  "LineEnd",
		},
		{
			name:    "missing text",
			mutate:  func(c *Chunk) { c.Text = "" },
			wantErr: true,
			errMsg:  "Text",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid
			tt.mutate(&c)
			err := ValidateChunk(&c)
			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errMsg)
			} else {
				assert.NoError(t, err)
			}
		})
	}

	t.Run("nil chunk", func(t *testing.T) {
		err := ValidateChunk(nil)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "nil")
	})
}
