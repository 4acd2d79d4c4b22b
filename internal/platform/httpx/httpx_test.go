package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/tabitours/api/internal/platform/requestctx"
)

func TestWriteErrorEnvelope(t *testing.T) {
	ctx := context.WithValue(context.Background(), middleware.RequestIDKey, "req-1")
	ctx = requestctx.WithTrace(ctx, requestctx.TraceInfo{TraceID: "trace-1"})

	rr := httptest.NewRecorder()
	WriteError(ctx, rr, NewError("amount_mismatch", "quoted total changed\n", http.StatusConflict).
		WithDetails(map[string]any{"expected_total": 168000}))

	if rr.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rr.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["error"] != "amount_mismatch" || body["message"] != "quoted total changed" {
		t.Fatalf("unexpected envelope %v", body)
	}
	if body["request_id"] != "req-1" || body["trace_id"] != "trace-1" || body["expected_total"] != float64(168000) {
		t.Fatalf("missing correlation or details %v", body)
	}
}

func TestDecodeJSON(t *testing.T) {
	var dst struct {
		ProductID string `json:"productId"`
	}
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"productId":"nara-tour"}`))
	req.Header.Set("Content-Type", "application/json")
	if err := DecodeJSON(req, 0, &dst); err != nil || dst.ProductID != "nara-tour" {
		t.Fatalf("decode failed: %v %+v", err, dst)
	}

	cases := map[string]string{
		"unknown field": `{"productId":"x","price":1}`,
		"trailing":      `{"productId":"x"} {}`,
		"broken":        `{"productId":`,
	}
	for name, payload := range cases {
		t.Run(name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(payload))
			if err := DecodeJSON(req, 0, &dst); !errors.Is(err, ErrInvalidJSON) {
				t.Fatalf("expected ErrInvalidJSON, got %v", err)
			}
		})
	}

	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"productId":"`+strings.Repeat("x", 64)+`"}`))
	if err := DecodeJSON(req, 16, &dst); !errors.Is(err, ErrBodyTooLarge) {
		t.Fatalf("expected ErrBodyTooLarge, got %v", err)
	}
}
