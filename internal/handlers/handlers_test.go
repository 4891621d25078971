package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/M-ajor19/quillify/internal/apperr"
	"github.com/M-ajor19/quillify/internal/extraction"
	"github.com/M-ajor19/quillify/internal/generation"
	"github.com/M-ajor19/quillify/internal/middleware"
	"github.com/M-ajor19/quillify/internal/models"
	"github.com/M-ajor19/quillify/internal/payments"
)

var testLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

// ---------------------------------------------------------------------------
// Mocks
// ---------------------------------------------------------------------------

type mockGenerator struct {
	outcome generation.Outcome
	err     error
	gotArgs []string
	history []*models.GenerationRecord
}

func (m *mockGenerator) Generate(_ context.Context, _ uuid.UUID, inputText, tone, format string) (generation.Outcome, error) {
	m.gotArgs = []string{inputText, tone, format}
	return m.outcome, m.err
}

func (m *mockGenerator) History(context.Context, uuid.UUID, int) ([]*models.GenerationRecord, error) {
	return m.history, nil
}

type mockExtractor struct {
	max         int64
	gotBytes    int
	contentType string
	err         error
}

func (m *mockExtractor) Extract(_ context.Context, _ uuid.UUID, image []byte, contentType string) (extraction.Extraction, error) {
	m.gotBytes = len(image)
	m.contentType = contentType
	if m.err != nil {
		return extraction.Extraction{}, m.err
	}
	return extraction.Extraction{Text: "hello", Extracted: true}, nil
}

func (m *mockExtractor) MaxImageBytes() int64 { return m.max }

type mockCheckout struct{ err error }

func (m *mockCheckout) Packages() []payments.Package {
	return []payments.Package{{ID: "starter", Name: "Starter Pack", Credits: 10, Price: decimal.RequireFromString("19")}}
}

func (m *mockCheckout) CreateSession(_ context.Context, _ uuid.UUID, packageID string) (string, error) {
	if m.err != nil {
		return "", m.err
	}
	return "https://checkout.example/" + packageID, nil
}

type mockReconciler struct {
	payload []byte
	sig     string
	ack     payments.Ack
	err     error
}

func (m *mockReconciler) HandleEvent(_ context.Context, payload []byte, sig string) (payments.Ack, error) {
	m.payload, m.sig = payload, sig
	return m.ack, m.err
}

type mockPinger struct{ err error }

func (m mockPinger) Ping(context.Context) error { return m.err }

func authed(req *http.Request) *http.Request {
	return req.WithContext(middleware.WithPrincipalID(req.Context(), uuid.New()))
}

func errorKind(t *testing.T, rec *httptest.ResponseRecorder) apperr.Kind {
	t.Helper()
	var body struct {
		Error struct {
			Kind apperr.Kind `json:"kind"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body), rec.Body.String())
	return body.Error.Kind
}

// ---------------------------------------------------------------------------
// Generation
// ---------------------------------------------------------------------------

func TestGenerate_Success(t *testing.T) {
	gen := &mockGenerator{outcome: generation.Outcome{Variations: []string{"a", "b"}, CreditsRemaining: 4}}
	h := &GenerationHandler{Generator: gen, Logger: testLogger}

	body := `{"inputText":"great product","tone":"witty","format":"tweet"}`
	req := authed(httptest.NewRequest(http.MethodPost, "/api/v1/generate", strings.NewReader(body)))
	rec := httptest.NewRecorder()
	h.Generate(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, []string{"great product", "witty", "tweet"}, gen.gotArgs)
	var out generation.Outcome
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Equal(t, []string{"a", "b"}, out.Variations)
	assert.Equal(t, int64(4), out.CreditsRemaining)
}

func TestGenerate_ErrorMapping(t *testing.T) {
	cases := []struct {
		err    error
		status int
		kind   apperr.Kind
	}{
		{apperr.InsufficientCredits(), http.StatusPaymentRequired, apperr.KindInsufficientCredits},
		{apperr.RateLimited(30 * time.Second), http.StatusTooManyRequests, apperr.KindRateLimited},
		{apperr.Validation("bad tone"), http.StatusBadRequest, apperr.KindValidation},
		{apperr.GenerationFailed(errors.New("provider down")), http.StatusBadGateway, apperr.KindGenerationFailed},
		{errors.New("db gone"), http.StatusInternalServerError, apperr.KindInfrastructure},
	}
	for _, tc := range cases {
		t.Run(string(tc.kind), func(t *testing.T) {
			h := &GenerationHandler{Generator: &mockGenerator{err: tc.err}, Logger: testLogger}
			req := authed(httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"inputText":"x","tone":"witty","format":"tweet"}`)))
			rec := httptest.NewRecorder()
			h.Generate(rec, req)

			assert.Equal(t, tc.status, rec.Code)
			assert.Equal(t, tc.kind, errorKind(t, rec))
			assert.NotContains(t, rec.Body.String(), "db gone")
			assert.NotContains(t, rec.Body.String(), "provider down")
		})
	}
}

func TestGenerate_RequiresPrincipal(t *testing.T) {
	gen := &mockGenerator{}
	h := &GenerationHandler{Generator: gen, Logger: testLogger}
	rec := httptest.NewRecorder()
	h.Generate(rec, httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{}`)))

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Nil(t, gen.gotArgs)
}

func TestGenerate_InvalidJSON(t *testing.T) {
	h := &GenerationHandler{Generator: &mockGenerator{}, Logger: testLogger}
	rec := httptest.NewRecorder()
	h.Generate(rec, authed(httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{`))))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHistory_EmptyIsArray(t *testing.T) {
	h := &GenerationHandler{Generator: &mockGenerator{}, Logger: testLogger}
	rec := httptest.NewRecorder()
	h.History(rec, authed(httptest.NewRequest(http.MethodGet, "/api/v1/generations", nil)))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"generations":[]}`, rec.Body.String())
}

// ---------------------------------------------------------------------------
// Extraction
// ---------------------------------------------------------------------------

func multipartImage(t *testing.T, field string, data []byte, contentType string) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	hdr := make(textproto.MIMEHeader)
	hdr.Set("Content-Disposition", `form-data; name="`+field+`"; filename="shot.png"`)
	hdr.Set("Content-Type", contentType)
	part, err := mw.CreatePart(hdr)
	require.NoError(t, err)
	_, err = part.Write(data)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/extract", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return authed(req)
}

func TestExtract_PassesImage(t *testing.T) {
	ex := &mockExtractor{max: 1 << 20}
	h := &ExtractionHandler{Extractor: ex, Logger: testLogger}
	rec := httptest.NewRecorder()
	h.Extract(rec, multipartImage(t, "image", []byte("\x89PNG\r\n\x1a\nrest"), "image/png"))

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, 12, ex.gotBytes)
	assert.Equal(t, "image/png", ex.contentType)
	assert.JSONEq(t, `{"text":"hello","extracted":true}`, rec.Body.String())
}

func TestExtract_MissingField(t *testing.T) {
	h := &ExtractionHandler{Extractor: &mockExtractor{max: 1 << 20}, Logger: testLogger}
	rec := httptest.NewRecorder()
	h.Extract(rec, multipartImage(t, "file", []byte("data"), "image/png"))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, apperr.KindValidation, errorKind(t, rec))
}

func TestExtract_OversizedBody(t *testing.T) {
	ex := &mockExtractor{max: 16}
	h := &ExtractionHandler{Extractor: ex, Logger: testLogger}
	rec := httptest.NewRecorder()
	h.Extract(rec, multipartImage(t, "image", make([]byte, 2<<20), "image/png"))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Zero(t, ex.gotBytes)
}

// ---------------------------------------------------------------------------
// Payments
// ---------------------------------------------------------------------------

func TestPackages(t *testing.T) {
	h := &PaymentsHandler{Checkout: &mockCheckout{}, Logger: testLogger}
	rec := httptest.NewRecorder()
	h.Packages(rec, httptest.NewRequest(http.MethodGet, "/api/v1/packages", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"packages":[{"id":"starter","name":"Starter Pack","credits":10,"price":"19.00","description":""}]}`, rec.Body.String())
}

func TestCreateCheckout(t *testing.T) {
	h := &PaymentsHandler{Checkout: &mockCheckout{}, Logger: testLogger}
	rec := httptest.NewRecorder()
	h.CreateCheckout(rec, authed(httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"packageId":"pro"}`))))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"url":"https://checkout.example/pro"}`, rec.Body.String())
}

func TestCreateCheckout_InvalidPackage(t *testing.T) {
	h := &PaymentsHandler{Checkout: &mockCheckout{err: apperr.Validation("invalid package")}, Logger: testLogger}
	rec := httptest.NewRecorder()
	h.CreateCheckout(rec, authed(httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"packageId":"x"}`))))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestWebhook_PassesRawBody(t *testing.T) {
	rc := &mockReconciler{ack: payments.Ack{Credited: true}}
	h := &PaymentsHandler{Reconciler: rc, Logger: testLogger}
	payload := `{"id":"evt_1","type":"checkout.session.completed"}`
	req := httptest.NewRequest(http.MethodPost, "/api/stripe/webhook", strings.NewReader(payload))
	req.Header.Set("Stripe-Signature", "t=1,v1=abc")
	rec := httptest.NewRecorder()
	h.Webhook(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, payload, string(rc.payload))
	assert.Equal(t, "t=1,v1=abc", rc.sig)
	assert.JSONEq(t, `{"received":true,"duplicate":false}`, rec.Body.String())
}

func TestWebhook_Errors(t *testing.T) {
	cases := map[apperr.Kind]int{
		apperr.KindPaymentVerification: http.StatusBadRequest,
		apperr.KindInfrastructure:      http.StatusInternalServerError,
	}
	for kind, status := range cases {
		var err error
		if kind == apperr.KindPaymentVerification {
			err = apperr.PaymentVerification(errors.New("bad sig"))
		} else {
			err = apperr.Infrastructure(errors.New("db down"))
		}
		h := &PaymentsHandler{Reconciler: &mockReconciler{err: err}, Logger: testLogger}
		rec := httptest.NewRecorder()
		h.Webhook(rec, httptest.NewRequest(http.MethodPost, "/", strings.NewReader("{}")))
		assert.Equal(t, status, rec.Code, kind)
		assert.Equal(t, kind, errorKind(t, rec))
	}
}

// ---------------------------------------------------------------------------
// Health
// ---------------------------------------------------------------------------

func TestHealth(t *testing.T) {
	rec := httptest.NewRecorder()
	(&HealthHandler{DB: mockPinger{}, Version: "test"}).Health(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)

	rec = httptest.NewRecorder()
	(&HealthHandler{DB: mockPinger{err: errors.New("down")}}).Health(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), `"degraded"`)
}
