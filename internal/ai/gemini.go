package ai

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"github.com/xxxsen/jarvis/internal/pkg/errs"
)

type geminiConfig struct {
	APIKey string `json:"api_key"`
}

// geminiProvider builds a fresh genai client per call. The client is a thin
// stateless wrapper over HTTP, so there is nothing worth caching.
type geminiProvider struct {
	apiKey string
}

func init() {
	Register("gemini", createGeminiProvider)
}

func createGeminiProvider(args interface{}) (Provider, error) {
	cfg := &geminiConfig{}
	if err := decodeConfig(args, cfg); err != nil {
		return nil, err
	}
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, fmt.Errorf("%w: gemini api key is required", errs.ErrConfig)
	}
	return &geminiProvider{apiKey: apiKey}, nil
}

func (p *geminiProvider) Name() string {
	return "gemini"
}

func (p *geminiProvider) newClient(ctx context.Context) (*genai.Client, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  p.apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: gemini: %v", errs.ErrModelUnavailable, err)
	}
	return client, nil
}

func (p *geminiProvider) Chat(ctx context.Context, model string, msgs []Message, opts Options) (*ChatResult, error) {
	client, err := p.newClient(ctx)
	if err != nil {
		return nil, err
	}
	contents, config := toGeminiRequest(msgs, opts)
	resp, err := client.Models.GenerateContent(ctx, model, contents, config)
	if err != nil {
		return nil, fmt.Errorf("%w: gemini: %v", errs.ErrModelUnavailable, err)
	}
	result := &ChatResult{Text: strings.TrimSpace(resp.Text())}
	if resp.UsageMetadata != nil {
		result.Usage = Usage{
			PromptTokens:     int(resp.UsageMetadata.PromptTokenCount),
			CompletionTokens: int(resp.UsageMetadata.CandidatesTokenCount),
		}
	}
	return result, nil
}

func (p *geminiProvider) ChatStream(ctx context.Context, model string, msgs []Message, opts Options) (<-chan StreamEvent, error) {
	client, err := p.newClient(ctx)
	if err != nil {
		return nil, err
	}
	contents, config := toGeminiRequest(msgs, opts)

	ch := make(chan StreamEvent)
	go func() {
		defer close(ch)

		var usage Usage
		for resp, err := range client.Models.GenerateContentStream(ctx, model, contents, config) {
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				emit(ctx, ch, StreamEvent{Err: fmt.Errorf("%w: gemini: %v", errs.ErrModelUnavailable, err)})
				return
			}
			if resp.UsageMetadata != nil {
				usage.PromptTokens = int(resp.UsageMetadata.PromptTokenCount)
				usage.CompletionTokens = int(resp.UsageMetadata.CandidatesTokenCount)
			}
			if text := resp.Text(); text != "" {
				if !emit(ctx, ch, StreamEvent{Chunk: text}) {
					return
				}
			}
		}
		emit(ctx, ch, StreamEvent{Done: true, Usage: usage})
	}()
	return ch, nil
}

func (p *geminiProvider) Embed(ctx context.Context, model string, texts []string) ([][]float32, error) {
	client, err := p.newClient(ctx)
	if err != nil {
		return nil, err
	}
	contents := make([]*genai.Content, 0, len(texts))
	for _, text := range texts {
		contents = append(contents, &genai.Content{Parts: []*genai.Part{{Text: text}}})
	}
	resp, err := client.Models.EmbedContent(ctx, model, contents, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: gemini: %v", errs.ErrModelUnavailable, err)
	}
	vecs := make([][]float32, 0, len(resp.Embeddings))
	for _, emb := range resp.Embeddings {
		if emb == nil {
			return nil, fmt.Errorf("gemini returned an empty embedding")
		}
		vecs = append(vecs, emb.Values)
	}
	return vecs, nil
}

func (p *geminiProvider) Ping(ctx context.Context) error {
	client, err := p.newClient(ctx)
	if err != nil {
		return err
	}
	if _, err := client.Models.List(ctx, nil); err != nil {
		return fmt.Errorf("%w: gemini: %v", errs.ErrModelUnavailable, err)
	}
	return nil
}

// toGeminiRequest splits system turns into the system instruction and maps
// the assistant role to gemini's "model" role.
func toGeminiRequest(msgs []Message, opts Options) ([]*genai.Content, *genai.GenerateContentConfig) {
	config := &genai.GenerateContentConfig{
		Temperature: genai.Ptr(float32(opts.Temperature)),
	}
	if opts.MaxTokens != 0 {
		config.MaxOutputTokens = int32(opts.MaxTokens)
	}
	contents := make([]*genai.Content, 0, len(msgs))
	for _, m := range msgs {
		switch m.Role {
		case RoleSystem:
			config.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: m.Content}}}
		case RoleAssistant:
			contents = append(contents, &genai.Content{
				Role:  genai.RoleModel,
				Parts: []*genai.Part{{Text: m.Content}},
			})
		default:
			contents = append(contents, &genai.Content{
				Role:  genai.RoleUser,
				Parts: []*genai.Part{{Text: m.Content}},
			})
		}
	}
	return contents, config
}
