package extraction

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/M-ajor19/quillify/internal/apperr"
	"github.com/M-ajor19/quillify/internal/llm"
	"github.com/M-ajor19/quillify/internal/ratelimit"
)

var pngBytes = append([]byte("\x89PNG\r\n\x1a\n"), make([]byte, 64)...)

type mockChat struct {
	mu    sync.Mutex
	reqs  []llm.ChatRequest
	reply string
	errs  []error
}

func (m *mockChat) Complete(_ context.Context, req llm.ChatRequest) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reqs = append(m.reqs, req)
	if len(m.errs) > 0 {
		err := m.errs[0]
		m.errs = m.errs[1:]
		return "", err
	}
	return m.reply, nil
}

func newTestService(t *testing.T, client llm.ChatClient, cfg Config) *Service {
	t.Helper()
	store := ratelimit.NewMemoryStoreWithCleanup(0)
	lim := ratelimit.NewLimiter(store, nil, nil)
	t.Cleanup(func() { _ = lim.Close() })
	return NewService(client, lim, cfg, nil, nil)
}

func TestExtract_Success(t *testing.T) {
	chat := &mockChat{reply: "  Best purchase I made this year.  "}
	svc := newTestService(t, chat, Config{})

	out, err := svc.Extract(context.Background(), uuid.New(), pngBytes, "image/png")
	require.NoError(t, err)
	assert.Equal(t, Extraction{Text: "Best purchase I made this year.", Extracted: true}, out)

	require.Len(t, chat.reqs, 1)
	req := chat.reqs[0]
	assert.Equal(t, "gpt-5", req.Model)
	assert.Equal(t, 1000, req.MaxCompletionTokens)
	require.Len(t, req.Messages, 1)
	require.Len(t, req.Messages[0].Parts, 2)
	assert.Equal(t, visionPrompt, req.Messages[0].Parts[0].Text)
	assert.True(t, strings.HasPrefix(req.Messages[0].Parts[1].ImageURL.URL, "data:image/png;base64,"))

	// The multimodal message is sent as a content array.
	raw, err := json.Marshal(req.Messages[0])
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"type":"image_url"`)
}

func TestExtract_SniffsMissingContentType(t *testing.T) {
	chat := &mockChat{reply: "text"}
	svc := newTestService(t, chat, Config{})

	_, err := svc.Extract(context.Background(), uuid.New(), pngBytes, "")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(chat.reqs[0].Messages[0].Parts[1].ImageURL.URL, "data:image/png;"))
}

func TestExtract_Validation(t *testing.T) {
	chat := &mockChat{reply: "text"}
	svc := newTestService(t, chat, Config{MaxImageBytes: 32})

	cases := map[string]struct {
		data        []byte
		contentType string
	}{
		"empty":     {nil, "image/png"},
		"too large": {pngBytes, "image/png"},
		"not image": {[]byte("hello"), "text/plain"},
		"sniffed":   {[]byte("plain text body"), ""},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := svc.Extract(context.Background(), uuid.New(), tc.data, tc.contentType)
			require.Error(t, err)
			assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
		})
	}
	assert.Empty(t, chat.reqs)
}

func TestExtract_ProviderFailureIsReported(t *testing.T) {
	chat := &mockChat{errs: []error{&llm.StatusError{StatusCode: 400, Message: "bad image"}}}
	svc := newTestService(t, chat, Config{})

	out, err := svc.Extract(context.Background(), uuid.New(), pngBytes, "image/png")
	require.NoError(t, err)
	assert.Equal(t, Extraction{Text: FailureText}, out)
}

func TestExtract_EmptyCompletion(t *testing.T) {
	svc := newTestService(t, &mockChat{errs: []error{llm.ErrEmptyCompletion}}, Config{})

	out, err := svc.Extract(context.Background(), uuid.New(), pngBytes, "image/png")
	require.NoError(t, err)
	assert.Equal(t, Extraction{Text: EmptyText}, out)
}

func TestExtract_RetriesTransientFailures(t *testing.T) {
	chat := &mockChat{
		reply: "recovered",
		errs:  []error{&llm.StatusError{StatusCode: 503}, errors.New("connection reset")},
	}
	client := llm.NewRetrying(chat, 3).WithBackOff(func() backoff.BackOff {
		return backoff.NewConstantBackOff(time.Millisecond)
	})
	svc := newTestService(t, client, Config{})

	out, err := svc.Extract(context.Background(), uuid.New(), pngBytes, "image/png")
	require.NoError(t, err)
	assert.Equal(t, Extraction{Text: "recovered", Extracted: true}, out)
	assert.Len(t, chat.reqs, 3)
}

func TestExtract_RateLimited(t *testing.T) {
	chat := &mockChat{reply: "text"}
	svc := newTestService(t, chat, Config{RateLimit: ratelimit.Config{Window: time.Minute, MaxRequests: 2}})
	id := uuid.New()

	for i := 0; i < 2; i++ {
		_, err := svc.Extract(context.Background(), id, pngBytes, "image/png")
		require.NoError(t, err)
	}
	_, err := svc.Extract(context.Background(), id, pngBytes, "image/png")
	require.Error(t, err)
	assert.Equal(t, apperr.KindRateLimited, apperr.KindOf(err))
	assert.GreaterOrEqual(t, apperr.As(err).RetryAfter, time.Second)
	assert.Len(t, chat.reqs, 2)

	// Another principal has its own window.
	_, err = svc.Extract(context.Background(), uuid.New(), pngBytes, "image/png")
	assert.NoError(t, err)
}
