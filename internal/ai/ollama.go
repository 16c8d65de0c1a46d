package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/xxxsen/jarvis/internal/pkg/errs"
)

const defaultOllamaHost = "http://127.0.0.1:11434"

type ollamaConfig struct {
	Host    string `json:"host"`
	Timeout int    `json:"timeout"`
}

// ollamaProvider talks to a local Ollama server over its native API:
// /api/chat for generation (blocking and NDJSON streaming), /api/embed for
// batched embeddings and /api/tags as a liveness probe.
type ollamaProvider struct {
	host   string
	client *http.Client
}

type ollamaChatRequest struct {
	Model    string         `json:"model"`
	Messages []Message      `json:"messages"`
	Stream   bool           `json:"stream"`
	Options  *ollamaOptions `json:"options,omitempty"`
}

// Temperature has no omitempty so a zero value still reaches the model
// server instead of falling back to its default.
type ollamaOptions struct {
	Temperature float64 `json:"temperature"`
	NumPredict  int     `json:"num_predict,omitempty"`
}

type ollamaChatResponse struct {
	Message         Message `json:"message"`
	Done            bool    `json:"done"`
	PromptEvalCount int     `json:"prompt_eval_count"`
	EvalCount       int     `json:"eval_count"`
}

type ollamaEmbedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type ollamaEmbedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

type ollamaErrorResponse struct {
	Error string `json:"error"`
}

func init() {
	Register("ollama", createOllamaProvider)
}

func createOllamaProvider(args interface{}) (Provider, error) {
	cfg := &ollamaConfig{}
	if err := decodeConfig(args, cfg); err != nil {
		return nil, err
	}
	host := strings.TrimRight(strings.TrimSpace(cfg.Host), "/")
	if host == "" {
		host = defaultOllamaHost
	}
	timeout := time.Duration(cfg.Timeout) * time.Second
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &ollamaProvider{
		host:   host,
		client: &http.Client{Timeout: timeout},
	}, nil
}

func (p *ollamaProvider) Name() string {
	return "ollama"
}

func (p *ollamaProvider) Chat(ctx context.Context, model string, msgs []Message, opts Options) (*ChatResult, error) {
	resp, err := p.post(ctx, "/api/chat", ollamaChatRequest{
		Model:    model,
		Messages: msgs,
		Stream:   false,
		Options:  buildOllamaOptions(opts),
	})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var out ollamaChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode ollama response: %w", err)
	}
	return &ChatResult{
		Text: out.Message.Content,
		Usage: Usage{
			PromptTokens:     out.PromptEvalCount,
			CompletionTokens: out.EvalCount,
		},
	}, nil
}

func (p *ollamaProvider) ChatStream(ctx context.Context, model string, msgs []Message, opts Options) (<-chan StreamEvent, error) {
	resp, err := p.post(ctx, "/api/chat", ollamaChatRequest{
		Model:    model,
		Messages: msgs,
		Stream:   true,
		Options:  buildOllamaOptions(opts),
	})
	if err != nil {
		return nil, err
	}

	ch := make(chan StreamEvent)
	go func() {
		defer close(ch)
		defer resp.Body.Close()

		dec := json.NewDecoder(resp.Body)
		for {
			var line ollamaChatResponse
			if err := dec.Decode(&line); err != nil {
				if ctx.Err() != nil {
					return
				}
				if errors.Is(err, io.EOF) {
					err = fmt.Errorf("ollama stream ended without done marker")
				}
				emit(ctx, ch, StreamEvent{Err: err})
				return
			}
			if line.Done {
				emit(ctx, ch, StreamEvent{
					Done: true,
					Usage: Usage{
						PromptTokens:     line.PromptEvalCount,
						CompletionTokens: line.EvalCount,
					},
				})
				return
			}
			if line.Message.Content != "" {
				if !emit(ctx, ch, StreamEvent{Chunk: line.Message.Content}) {
					return
				}
			}
		}
	}()
	return ch, nil
}

func (p *ollamaProvider) Embed(ctx context.Context, model string, texts []string) ([][]float32, error) {
	resp, err := p.post(ctx, "/api/embed", ollamaEmbedRequest{
		Model: model,
		Input: texts,
	})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var out ollamaEmbedResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode ollama embeddings: %w", err)
	}
	if len(out.Embeddings) == 0 {
		return nil, fmt.Errorf("ollama returned no embeddings")
	}
	return out.Embeddings, nil
}

func (p *ollamaProvider) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.host+"/api/tags", http.NoBody)
	if err != nil {
		return err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: ollama at %s: %v", errs.ErrModelUnavailable, p.host, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: ollama at %s returned status %d", errs.ErrModelUnavailable, p.host, resp.StatusCode)
	}
	return nil
}

func (p *ollamaProvider) post(ctx context.Context, path string, body interface{}) (*http.Response, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.host+path, bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: ollama at %s: %v", errs.ErrModelUnavailable, p.host, err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		raw, _ := io.ReadAll(resp.Body)
		detail := strings.TrimSpace(string(raw))
		var apiErr ollamaErrorResponse
		if json.Unmarshal(raw, &apiErr) == nil && apiErr.Error != "" {
			detail = apiErr.Error
		}
		// 404 means the named model is not loaded on the server.
		if resp.StatusCode == http.StatusNotFound {
			return nil, fmt.Errorf("%w: %s", errs.ErrModelUnavailable, detail)
		}
		return nil, fmt.Errorf("ollama request failed: %s: %s", resp.Status, detail)
	}
	return resp, nil
}

func buildOllamaOptions(opts Options) *ollamaOptions {
	return &ollamaOptions{
		Temperature: opts.Temperature,
		NumPredict:  opts.MaxTokens,
	}
}

// emit delivers an event unless the consumer is gone.
func emit(ctx context.Context, ch chan<- StreamEvent, ev StreamEvent) bool {
	select {
	case ch <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}
