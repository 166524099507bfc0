// Package generate adapts a text model into the single capability the
// scheduler needs: turn a description into a short message.
package generate

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cexll/agentsdk-go/pkg/model"
)

// DefaultTimeout bounds one generation call.
const DefaultTimeout = 10 * time.Second

// Generator produces message text for a description.
type Generator interface {
	Generate(ctx context.Context, description string) (string, error)
}

// Func adapts a function to Generator.
type Func func(ctx context.Context, description string) (string, error)

func (f Func) Generate(ctx context.Context, description string) (string, error) {
	return f(ctx, description)
}

// Error is returned for every failed generation. Timeout is set when the
// call was cut off by its deadline.
type Error struct {
	Timeout bool
	Err     error
}

func (e *Error) Error() string {
	if e.Timeout {
		return fmt.Sprintf("generation timed out: %v", e.Err)
	}
	return fmt.Sprintf("generation failed: %v", e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// WithTimeout runs gen under a deadline and normalizes failures into *Error.
// An empty response counts as a failure.
func WithTimeout(ctx context.Context, gen Generator, description string, timeout time.Duration) (string, error) {
	if gen == nil {
		return "", &Error{Err: errors.New("no generator configured")}
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type result struct {
		text string
		err  error
	}
	done := make(chan result, 1)
	go func() {
		text, err := gen.Generate(ctx, description)
		done <- result{text: text, err: err}
	}()

	select {
	case <-ctx.Done():
		return "", &Error{Timeout: errors.Is(ctx.Err(), context.DeadlineExceeded), Err: ctx.Err()}
	case r := <-done:
		if r.err != nil {
			var genErr *Error
			if errors.As(r.err, &genErr) {
				return "", genErr
			}
			return "", &Error{Timeout: errors.Is(r.err, context.DeadlineExceeded), Err: r.err}
		}
		text := strings.TrimSpace(r.text)
		if text == "" {
			return "", &Error{Err: errors.New("empty response")}
		}
		return text, nil
	}
}

const systemPrompt = `You write very short observational messages on behalf of a named voice.
Stay in the voice's persona. One to three sentences. No advice lists, no emoji, no greetings.
Return only the message text.`

// ModelGenerator calls an agentsdk-go model provider.
type ModelGenerator struct {
	Provider  model.Provider
	MaxTokens int
}

// NewModelGenerator picks the anthropic or openai provider by type.
func NewModelGenerator(providerType, apiKey, baseURL, modelName string, maxTokens int) *ModelGenerator {
	var provider model.Provider
	switch providerType {
	case "openai":
		provider = &model.OpenAIProvider{
			APIKey:    apiKey,
			BaseURL:   baseURL,
			ModelName: modelName,
			MaxTokens: maxTokens,
			System:    systemPrompt,
		}
	default: // "anthropic" or empty
		provider = &model.AnthropicProvider{
			APIKey:    apiKey,
			BaseURL:   baseURL,
			ModelName: modelName,
			MaxTokens: maxTokens,
			System:    systemPrompt,
		}
	}
	return &ModelGenerator{Provider: provider, MaxTokens: maxTokens}
}

func (g *ModelGenerator) Generate(ctx context.Context, description string) (string, error) {
	if g.Provider == nil {
		return "", errors.New("model provider not set")
	}
	mdl, err := g.Provider.Model(ctx)
	if err != nil {
		return "", fmt.Errorf("resolve model: %w", err)
	}
	resp, err := mdl.Complete(ctx, model.Request{
		Messages:  []model.Message{{Role: "user", Content: description}},
		MaxTokens: g.MaxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("complete: %w", err)
	}
	if resp == nil {
		return "", errors.New("empty model response")
	}
	return strings.TrimSpace(resp.Message.TextContent()), nil
}
