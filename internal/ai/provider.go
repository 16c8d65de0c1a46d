// Package ai abstracts the model servers behind a provider registry: chat
// generation (blocking and streaming) and text embedding.
package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/xxxsen/jarvis/internal/pkg/errs"
)

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one turn of a chat prompt.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Options are the generation parameters forwarded to the model server.
type Options struct {
	Temperature float64
	MaxTokens   int
}

type Usage struct {
	PromptTokens     int
	CompletionTokens int
}

func (u Usage) Total() int {
	return u.PromptTokens + u.CompletionTokens
}

type ChatResult struct {
	Text  string
	Usage Usage
}

// StreamEvent is one element of a streaming generation. Exactly one of the
// three shapes appears: a text chunk, a terminal done marker carrying usage,
// or an error. The channel is closed after the done or error event.
type StreamEvent struct {
	Chunk string
	Done  bool
	Usage Usage
	Err   error
}

// Provider is a model server backend. Implementations are registered by name
// and constructed through New.
type Provider interface {
	Name() string
	Chat(ctx context.Context, model string, msgs []Message, opts Options) (*ChatResult, error)
	ChatStream(ctx context.Context, model string, msgs []Message, opts Options) (<-chan StreamEvent, error)
	Embed(ctx context.Context, model string, texts []string) ([][]float32, error)
	Ping(ctx context.Context) error
}

type Factory func(args interface{}) (Provider, error)

var registry = map[string]Factory{}

func Register(name string, factory Factory) {
	key := strings.ToLower(strings.TrimSpace(name))
	if key == "" || factory == nil {
		return
	}
	registry[key] = factory
}

func New(name string, args interface{}) (Provider, error) {
	key := strings.ToLower(strings.TrimSpace(name))
	if key == "" {
		return nil, fmt.Errorf("%w: ai provider is required", errs.ErrConfig)
	}
	factory := registry[key]
	if factory == nil {
		return nil, fmt.Errorf("%w: unsupported ai provider: %s", errs.ErrConfig, name)
	}
	return factory(args)
}

func decodeConfig(args interface{}, dst interface{}) error {
	if args == nil {
		return fmt.Errorf("%w: ai provider config is required", errs.ErrConfig)
	}
	data, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("%w: encode ai provider config: %v", errs.ErrConfig, err)
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("%w: decode ai provider config: %v", errs.ErrConfig, err)
	}
	return nil
}

// Generator binds a provider to a fixed chat model.
type Generator interface {
	Chat(ctx context.Context, msgs []Message, opts Options) (*ChatResult, error)
	ChatStream(ctx context.Context, msgs []Message, opts Options) (<-chan StreamEvent, error)
	ModelName() string
	Ping(ctx context.Context) error
}

type generator struct {
	provider Provider
	model    string
}

func NewGenerator(p Provider, model string) Generator {
	return &generator{provider: p, model: model}
}

func (g *generator) Chat(ctx context.Context, msgs []Message, opts Options) (*ChatResult, error) {
	return g.provider.Chat(ctx, g.model, msgs, opts)
}

func (g *generator) ChatStream(ctx context.Context, msgs []Message, opts Options) (<-chan StreamEvent, error) {
	return g.provider.ChatStream(ctx, g.model, msgs, opts)
}

func (g *generator) ModelName() string {
	return g.model
}

func (g *generator) Ping(ctx context.Context) error {
	return g.provider.Ping(ctx)
}

// Embedder binds a provider to a fixed embedding model and enforces the
// configured output dimensionality. A vector of the wrong length would make
// every similarity query meaningless, so it is rejected here rather than at
// the store.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	ModelName() string
	Dimension() int
}

type embedder struct {
	provider  Provider
	model     string
	dimension int
}

func NewEmbedder(p Provider, model string, dimension int) Embedder {
	return &embedder{provider: p, model: model, dimension: dimension}
}

func (e *embedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	vecs, err := e.provider.Embed(ctx, e.model, texts)
	if err != nil {
		return nil, err
	}
	if len(vecs) != len(texts) {
		return nil, fmt.Errorf("embedding count mismatch: asked for %d, got %d", len(texts), len(vecs))
	}
	for i, vec := range vecs {
		if len(vec) != e.dimension {
			return nil, fmt.Errorf("embedding %d has dimension %d, model %s is configured for %d", i, len(vec), e.model, e.dimension)
		}
	}
	return vecs, nil
}

func (e *embedder) ModelName() string {
	return e.model
}

func (e *embedder) Dimension() int {
	return e.dimension
}
