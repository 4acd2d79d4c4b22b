package httpx

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// DefaultMaxBodyBytes bounds request bodies decoded by DecodeJSON.
const DefaultMaxBodyBytes int64 = 64 << 10

var (
	ErrBodyTooLarge = errors.New("httpx: request body too large")
	ErrInvalidJSON  = errors.New("httpx: invalid json body")
)

// WriteJSON encodes payload with status.
func WriteJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(payload)
}

// DecodeJSON reads at most limit bytes and rejects unknown fields and trailing data.
func DecodeJSON(r *http.Request, limit int64, dst any) error {
	if limit <= 0 {
		limit = DefaultMaxBodyBytes
	}
	if r.Body == nil {
		return fmt.Errorf("%w: empty body", ErrInvalidJSON)
	}
	if ct := r.Header.Get("Content-Type"); ct != "" && !strings.HasPrefix(strings.ToLower(ct), "application/json") {
		return fmt.Errorf("%w: content type %q", ErrInvalidJSON, ct)
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, limit+1))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidJSON, err)
	}
	if int64(len(body)) > limit {
		return ErrBodyTooLarge
	}
	dec := json.NewDecoder(strings.NewReader(string(body)))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidJSON, err)
	}
	if dec.More() {
		return fmt.Errorf("%w: trailing data", ErrInvalidJSON)
	}
	return nil
}

// ReadLimitedBody returns the raw body, failing with ErrBodyTooLarge past limit.
func ReadLimitedBody(r *http.Request, limit int64) ([]byte, error) {
	if r.Body == nil {
		return nil, nil
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(body)) > limit {
		return nil, ErrBodyTooLarge
	}
	return body, nil
}
