package embeddings

import (
	"context"
	"fmt"
	"time"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
)

const defaultEmbeddingTimeout = 60 * time.Second

// OpenAIEmbedder calls OpenAI's embeddings API.
type OpenAIEmbedder struct {
	model  openai.EmbeddingModel
	client *openai.Client
	dims   int
}

// NewOpenAIEmbedder creates a new OpenAI embedder.
func NewOpenAIEmbedder(apiKey string, model openai.EmbeddingModel) (*OpenAIEmbedder, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("missing OPENAI_API_KEY in environment variables")
	}
	if model == "" {
		model = openai.EmbeddingModelTextEmbedding3Small
	}
	cli := openai.NewClient(option.WithAPIKey(apiKey))
	return &OpenAIEmbedder{
		model:  model,
		client: &cli,
		dims:   ModelDimensions(string(model)),
	}, nil
}

func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) (Vector, error) {
	vecs, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func (e *OpenAIEmbedder) EmbedBatch(ctx context.Context, texts []string) ([]Vector, error) {
	out := make([]Vector, len(texts))
	valid, indices := partitionBlank(texts)
	if len(valid) == 0 {
		for i := range out {
			out[i] = make(Vector, e.dims)
		}
		return out, nil
	}

	reqCtx, cancel := context.WithTimeout(ctx, defaultEmbeddingTimeout)
	defer cancel()

	resp, err := e.client.Embeddings.New(reqCtx, openai.EmbeddingNewParams{
		Input: openai.EmbeddingNewParamsInputUnion{
			OfArrayOfStrings: valid,
		},
		Model: e.model,
	})
	if err != nil {
		return nil, err
	}
	if len(resp.Data) != len(valid) {
		return nil, fmt.Errorf("openai: expected %d embeddings, got %d", len(valid), len(resp.Data))
	}

	dims := e.dims
	if len(resp.Data) > 0 {
		dims = len(resp.Data[0].Embedding)
	}
	for i := range out {
		out[i] = make(Vector, dims)
	}
	for i, data := range resp.Data {
		vec := make(Vector, len(data.Embedding))
		for j, v := range data.Embedding {
			vec[j] = float32(v)
		}
		out[indices[i]] = vec
	}
	return out, nil
}

// ModelDimensions reports the vector width of the known embedding models.
func ModelDimensions(model string) int {
	switch model {
	case string(openai.EmbeddingModelTextEmbedding3Large):
		return 3072
	default:
		return 1536
	}
}

// ModelMaxTokens reports the input token limit of the known embedding
// models, used to derive chunk sizes. All current OpenAI embedding models
// share the same limit.
func ModelMaxTokens(model string) int {
	return 8191
}
