package retrieval

import (
	"context"
	"errors"
	"testing"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/core/api"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockEmbedder implements ai.Embedder for testing.
type mockEmbedder struct {
	embedErr    error
	returnEmpty bool
	embeddings  []float32
	callCount   int
	lastInput   string
}

func (m *mockEmbedder) Name() string { return "mock-embedder" }

func (m *mockEmbedder) Register(r api.Registry) {}

func (m *mockEmbedder) Embed(ctx context.Context, req *ai.EmbedRequest) (*ai.EmbedResponse, error) {
	m.callCount++
	if len(req.Input) > 0 && len(req.Input[0].Content) > 0 {
		m.lastInput = req.Input[0].Content[0].Text
	}
	if m.embedErr != nil {
		return nil, m.embedErr
	}
	if m.returnEmpty {
		return &ai.EmbedResponse{}, nil
	}
	vecs := m.embeddings
	if vecs == nil {
		vecs = make([]float32, VectorDimension)
		vecs[0] = 1
	}
	return &ai.EmbedResponse{
		Embeddings: []*ai.Embedding{{Embedding: vecs}},
	}, nil
}

func TestNewValidation(t *testing.T) {
	_, err := New(nil, &mockEmbedder{}, nil)
	assert.Error(t, err)
}

func TestEmbed(t *testing.T) {
	mock := &mockEmbedder{embeddings: []float32{0.5, 0.25, 0.125}}
	r := &Retriever{embedder: mock}

	vec, err := r.Embed(context.Background(), "trauma informed care")
	require.NoError(t, err)
	assert.Equal(t, []float32{0.5, 0.25, 0.125}, vec.Slice())
	assert.Equal(t, "trauma informed care", mock.lastInput)
	assert.Equal(t, 1, mock.callCount)
}

func TestEmbedError(t *testing.T) {
	mock := &mockEmbedder{embedErr: errors.New("quota exceeded")}
	r := &Retriever{embedder: mock}

	_, err := r.Embed(context.Background(), "query")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "quota exceeded")
}

func TestEmbedEmptyResponse(t *testing.T) {
	mock := &mockEmbedder{returnEmpty: true}
	r := &Retriever{embedder: mock}

	_, err := r.Embed(context.Background(), "query")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "empty embedding")
}

func TestSearchRejectsEmptyQuery(t *testing.T) {
	r := &Retriever{embedder: &mockEmbedder{}}

	_, err := r.Search(context.Background(), "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "query is required")
}
