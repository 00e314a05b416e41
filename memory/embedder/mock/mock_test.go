package mock_test

import (
	"context"
	"errors"
	"testing"

	"github.com/becomeliminal/friday/memory/embedder/mock"
	"github.com/m-mizutani/gt"
)

func cosine(a, b []float32) float64 {
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	return dot
}

func TestEmbedDeterministic(t *testing.T) {
	ctx := context.Background()
	e := mock.New()

	a, err := e.Embed(ctx, "remember to call mom")
	gt.NoError(t, err)
	b, err := e.Embed(ctx, "remember to call mom")
	gt.NoError(t, err)

	gt.A(t, a).Length(384)
	gt.Equal(t, a, b)
	gt.Equal(t, e.Calls(), 2)
}

func TestEmbedSharedWordsAreCloser(t *testing.T) {
	ctx := context.Background()
	e := mock.New(mock.WithDimensions(256))

	q, _ := e.Embed(ctx, "call mom")
	near, _ := e.Embed(ctx, "remember to call mom tonight")
	far, _ := e.Embed(ctx, "quarterly budget spreadsheet review")

	gt.True(t, cosine(q, near) > cosine(q, far))
}

func TestEmbedFailure(t *testing.T) {
	ctx := context.Background()
	e := mock.New()

	boom := errors.New("model offline")
	e.FailWith(boom)
	_, err := e.Embed(ctx, "anything")
	gt.True(t, errors.Is(err, boom))

	e.FailWith(nil)
	_, err = e.Embed(ctx, "anything")
	gt.NoError(t, err)
}
