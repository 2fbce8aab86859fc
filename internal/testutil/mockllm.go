// Package testutil provides deterministic LLM and embedder doubles for
// tests.
package testutil

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"math"
	"strings"
	"sync"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
)

// MockLLM provides deterministic model responses. It matches the last user
// message against registered patterns and returns the corresponding
// response, streamed word by word when a callback is present.
//
// Safe for concurrent use.
type MockLLM struct {
	mu       sync.Mutex
	rules    []mockRule
	fallback string
	usage    *ai.GenerationUsage
	err      error
	calls    []MockCall

	// blockUntil, when set, parks generate until the channel closes or the
	// request context is canceled. Concurrency tests use it to hold one
	// stream open while probing with another.
	blockUntil <-chan struct{}

	// streamOnly, when set, leaves the final message empty on streamed
	// calls, mimicking providers that deliver all text through chunks.
	streamOnly bool
}

type mockRule struct {
	pattern  string
	response string
}

// MockCall records one call to the mock model.
type MockCall struct {
	UserMessage string
	Response    string
	Streamed    bool
}

// NewMockLLM creates a mock model with the given fallback response.
func NewMockLLM(fallback string) *MockLLM {
	return &MockLLM{
		fallback: fallback,
		usage:    &ai.GenerationUsage{InputTokens: 7, OutputTokens: 5},
	}
}

// AddResponse registers a pattern-response pair. Matching is
// case-insensitive substring; first registered match wins.
func (m *MockLLM) AddResponse(pattern, response string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rules = append(m.rules, mockRule{pattern: strings.ToLower(pattern), response: response})
}

// SetUsage sets the usage reported on every final response.
func (m *MockLLM) SetUsage(input, output int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.usage = &ai.GenerationUsage{InputTokens: input, OutputTokens: output}
}

// SetError makes every generate call fail with err.
func (m *MockLLM) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// BlockUntil parks generate calls until ch closes. A canceled request
// context unparks with ctx.Err().
func (m *MockLLM) BlockUntil(ch <-chan struct{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blockUntil = ch
}

// SetStreamOnly controls whether streamed calls return an empty final
// message, delivering text exclusively through chunks.
func (m *MockLLM) SetStreamOnly(v bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.streamOnly = v
}

// Calls returns a copy of all recorded calls.
func (m *MockLLM) Calls() []MockCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make([]MockCall, len(m.calls))
	copy(cp, m.calls)
	return cp
}

// RegisterModel registers the mock under "mock/test-model".
func (m *MockLLM) RegisterModel(g *genkit.Genkit) ai.Model {
	return genkit.DefineModel(g, "mock/test-model", &ai.ModelOptions{
		Label: "Mock Test Model",
		Supports: &ai.ModelSupports{
			Multiturn:  true,
			Tools:      true,
			SystemRole: true,
		},
	}, m.generate)
}

func (m *MockLLM) generate(ctx context.Context, req *ai.ModelRequest, cb ai.ModelStreamCallback) (*ai.ModelResponse, error) {
	var userText string
	for i := len(req.Messages) - 1; i >= 0; i-- {
		if req.Messages[i].Role == ai.RoleUser {
			userText = req.Messages[i].Text()
			break
		}
	}

	m.mu.Lock()
	responseText := m.fallback
	lower := strings.ToLower(userText)
	for _, rule := range m.rules {
		if strings.Contains(lower, rule.pattern) {
			responseText = rule.response
			break
		}
	}
	usage := m.usage
	err := m.err
	block := m.blockUntil
	streamOnly := m.streamOnly
	m.calls = append(m.calls, MockCall{
		UserMessage: userText,
		Response:    responseText,
		Streamed:    cb != nil,
	})
	m.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}

	if cb != nil {
		for _, word := range strings.SplitAfter(responseText, " ") {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			if err := cb(ctx, &ai.ModelResponseChunk{
				Content: []*ai.Part{ai.NewTextPart(word)},
			}); err != nil {
				return nil, err
			}
		}
	}

	finalText := responseText
	if streamOnly && cb != nil {
		finalText = ""
	}

	return &ai.ModelResponse{
		Request: req,
		Usage:   usage,
		Message: &ai.Message{
			Role:    ai.RoleModel,
			Content: []*ai.Part{ai.NewTextPart(finalText)},
		},
	}, nil
}

// MockEmbedder provides deterministic embedding vectors. By default the
// vector is derived from the content's SHA-256; explicit mappings give
// tests exact control over distances.
//
// Safe for concurrent use.
type MockEmbedder struct {
	mu      sync.Mutex
	vectors map[string][]float32
	dim     int
}

// NewMockEmbedder creates a mock embedder producing dim-length vectors.
func NewMockEmbedder(dim int) *MockEmbedder {
	return &MockEmbedder{vectors: make(map[string][]float32), dim: dim}
}

// SetVector registers an explicit vector for a content string.
func (e *MockEmbedder) SetVector(content string, vec []float32) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.vectors[content] = vec
}

// RegisterEmbedder registers the mock under "mock/test-embedder".
func (e *MockEmbedder) RegisterEmbedder(g *genkit.Genkit) ai.Embedder {
	return genkit.DefineEmbedder(g, "mock/test-embedder", &ai.EmbedderOptions{
		Label:      "Mock Test Embedder",
		Dimensions: e.dim,
	}, e.embed)
}

func (e *MockEmbedder) embed(_ context.Context, req *ai.EmbedRequest) (*ai.EmbedResponse, error) {
	embeddings := make([]*ai.Embedding, len(req.Input))
	for i, doc := range req.Input {
		embeddings[i] = &ai.Embedding{Embedding: e.vectorFor(documentText(doc))}
	}
	return &ai.EmbedResponse{Embeddings: embeddings}, nil
}

func (e *MockEmbedder) vectorFor(content string) []float32 {
	e.mu.Lock()
	v, ok := e.vectors[content]
	e.mu.Unlock()
	if ok {
		return v
	}
	return deterministicVector(content, e.dim)
}

func documentText(doc *ai.Document) string {
	var sb strings.Builder
	for _, p := range doc.Content {
		if p.Kind == ai.PartText {
			sb.WriteString(p.Text)
		}
	}
	return sb.String()
}

// deterministicVector maps content to a unit vector; identical content
// always yields the identical vector.
func deterministicVector(content string, dim int) []float32 {
	hash := sha256.Sum256([]byte(content))
	vec := make([]float32, dim)
	for i := range vec {
		idx := (i * 4) % len(hash)
		bits := binary.LittleEndian.Uint32([]byte{
			hash[idx%32],
			hash[(idx+1)%32],
			hash[(idx+2)%32],
			hash[(idx+3)%32],
		})
		vec[i] = (float32(bits)/float32(math.MaxUint32))*2 - 1
	}

	var norm float32
	for _, v := range vec {
		norm += v * v
	}
	norm = float32(math.Sqrt(float64(norm)))
	if norm > 0 {
		for i := range vec {
			vec[i] /= norm
		}
	}
	return vec
}
