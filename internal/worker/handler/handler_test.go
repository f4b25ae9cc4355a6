package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/meritpath/worker-service/internal/worker/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRegistry_Execute(t *testing.T) {
	r := NewRegistry()
	called := false
	r.Register("echo", HandlerFunc(func(ctx context.Context, params json.RawMessage) domain.Outcome {
		called = true
		return domain.Success(string(params))
	}))

	t.Run("known type", func(t *testing.T) {
		out := r.Execute(context.Background(), "echo", json.RawMessage(`{"a":1}`))
		assert.True(t, out.Succeeded())
		assert.Equal(t, `{"a":1}`, out.Data)
		assert.True(t, called)
	})

	t.Run("unknown type is a failed outcome", func(t *testing.T) {
		out := r.Execute(context.Background(), "mystery", nil)
		assert.False(t, out.Succeeded())
		assert.Equal(t, "Unknown job type: mystery", out.Error)
	})

	assert.Equal(t, []string{"echo"}, r.Types())
}

func TestTyped(t *testing.T) {
	ran := false
	h := Typed(func(ctx context.Context, p PrintNumbersParams) domain.Outcome {
		ran = true
		return domain.Success(p.End())
	})

	tests := []struct {
		name    string
		raw     string
		wantRun bool
		wantErr string
	}{
		{name: "valid", raw: `{"user_id":"u1","end_number":3}`, wantRun: true},
		{name: "numeric user id", raw: `{"user_id":7}`, wantRun: true},
		{name: "missing user id", raw: `{"end_number":3}`, wantErr: "Missing required parameter: user_id"},
		{name: "empty params", raw: ``, wantErr: "Missing required parameter: user_id"},
		{name: "end number below one", raw: `{"user_id":"u1","end_number":0}`, wantErr: "end_number must be at least 1"},
		{name: "end number at maximum", raw: `{"user_id":"u1","end_number":10000}`, wantRun: true},
		{name: "end number above maximum", raw: `{"user_id":"u1","end_number":100000000000}`, wantErr: "end_number must be at most 10000"},
		{name: "end number wrong type", raw: `{"user_id":"u1","end_number":"five"}`, wantErr: domain.ErrInvalidParams.Error()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ran = false
			out := h.Execute(context.Background(), json.RawMessage(tt.raw))
			assert.Equal(t, tt.wantRun, ran)
			if tt.wantErr != "" {
				assert.False(t, out.Succeeded())
				assert.Contains(t, out.Error, tt.wantErr)
				return
			}
			assert.True(t, out.Succeeded())
		})
	}
}

func TestNumberPrinter(t *testing.T) {
	p := NewNumberPrinter(0, discardLogger())

	t.Run("prints requested range", func(t *testing.T) {
		out := p.Handler().Execute(context.Background(), json.RawMessage(`{"user_id":"u1","end_number":5}`))
		require.True(t, out.Succeeded())
		res, ok := out.Data.(PrintNumbersResult)
		require.True(t, ok)
		assert.Equal(t, []int{1, 2, 3, 4, 5}, res.Numbers)
		assert.Equal(t, 5, res.Count)
	})

	t.Run("defaults to one hundred", func(t *testing.T) {
		out := p.Handler().Execute(context.Background(), json.RawMessage(`{"user_id":"u1"}`))
		require.True(t, out.Succeeded())
		assert.Equal(t, DefaultEndNumber, out.Data.(PrintNumbersResult).Count)
	})

	t.Run("cancelled context fails", func(t *testing.T) {
		slow := NewNumberPrinter(DefaultStepDelay, discardLogger())
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		out := slow.Run(ctx, PrintNumbersParams{UserID: "u1"})
		assert.False(t, out.Succeeded())
		assert.Equal(t, context.Canceled.Error(), out.Error)
	})

	t.Run("result json shape", func(t *testing.T) {
		out := p.Handler().Execute(context.Background(), json.RawMessage(`{"user_id":"u1","end_number":2}`))
		b, err := json.Marshal(out)
		require.NoError(t, err)
		assert.JSONEq(t, `{"status":"success","data":{"numbers":[1,2],"count":2}}`, string(b))
	})
}

func TestMissingParameterIsTyped(t *testing.T) {
	err := PrintNumbersParams{}.Validate()
	var mp *domain.MissingParameterError
	require.True(t, errors.As(err, &mp))
	assert.Equal(t, "user_id", mp.Name)
}
