package generate

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/cexll/agentsdk-go/pkg/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWithTimeout_Success(t *testing.T) {
	gen := Func(func(ctx context.Context, description string) (string, error) {
		return "  hello from " + description + "\n", nil
	})
	text, err := WithTimeout(context.Background(), gen, "ember", time.Second)
	require.NoError(t, err)
	assert.Equal(t, "hello from ember", text)
}

func TestWithTimeout_Timeout(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	gen := Func(func(ctx context.Context, description string) (string, error) {
		<-release
		return "too late", nil
	})

	start := time.Now()
	_, err := WithTimeout(context.Background(), gen, "x", 20*time.Millisecond)
	require.Error(t, err)
	assert.Less(t, time.Since(start), time.Second, "must not wait for a stuck generator")

	var genErr *Error
	require.True(t, errors.As(err, &genErr))
	assert.True(t, genErr.Timeout)
}

func TestWithTimeout_Failure(t *testing.T) {
	boom := errors.New("transport down")
	gen := Func(func(ctx context.Context, description string) (string, error) {
		return "", boom
	})
	_, err := WithTimeout(context.Background(), gen, "x", time.Second)

	var genErr *Error
	require.True(t, errors.As(err, &genErr))
	assert.False(t, genErr.Timeout)
	assert.ErrorIs(t, err, boom)
}

func TestWithTimeout_EmptyAndNil(t *testing.T) {
	gen := Func(func(ctx context.Context, description string) (string, error) {
		return "   ", nil
	})
	_, err := WithTimeout(context.Background(), gen, "x", time.Second)
	assert.Error(t, err)

	_, err = WithTimeout(context.Background(), nil, "x", time.Second)
	var genErr *Error
	assert.True(t, errors.As(err, &genErr))
}

type fakeModel struct {
	got  model.Request
	text string
	err  error
}

func (m *fakeModel) Complete(ctx context.Context, req model.Request) (*model.Response, error) {
	m.got = req
	if m.err != nil {
		return nil, m.err
	}
	return &model.Response{Message: model.Message{Role: "assistant", Content: m.text}}, nil
}

func (m *fakeModel) CompleteStream(ctx context.Context, req model.Request, cb model.StreamHandler) error {
	return errors.New("not used")
}

func TestModelGenerator(t *testing.T) {
	fm := &fakeModel{text: " Roots keep working. "}
	g := &ModelGenerator{
		Provider:  model.ProviderFunc(func(context.Context) (model.Model, error) { return fm, nil }),
		MaxTokens: 200,
	}

	text, err := g.Generate(context.Background(), "describe")
	require.NoError(t, err)
	assert.Equal(t, "Roots keep working.", text)
	require.Len(t, fm.got.Messages, 1)
	assert.Equal(t, "describe", fm.got.Messages[0].Content)
	assert.Equal(t, 200, fm.got.MaxTokens)

	fm.err = errors.New("rate limited")
	_, err = g.Generate(context.Background(), "describe")
	assert.ErrorContains(t, err, "rate limited")
}

func TestNewModelGenerator_ProviderSelection(t *testing.T) {
	g := NewModelGenerator("openai", "k", "https://example.com", "gpt-test", 100)
	_, ok := g.Provider.(*model.OpenAIProvider)
	assert.True(t, ok)

	g = NewModelGenerator("", "k", "", "claude-test", 100)
	p, ok := g.Provider.(*model.AnthropicProvider)
	require.True(t, ok)
	assert.Equal(t, "claude-test", p.ModelName)
}
