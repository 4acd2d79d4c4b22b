package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	firebaseauth "firebase.google.com/go/v4/auth"
)

type stubTokenVerifier struct {
	token    *firebaseauth.Token
	err      error
	received string
}

func (s *stubTokenVerifier) VerifyIDToken(_ context.Context, idToken string) (*firebaseauth.Token, error) {
	s.received = idToken
	if s.err != nil {
		return nil, s.err
	}
	return s.token, nil
}

func serveCustomer(a *Authenticator, header string) (*httptest.ResponseRecorder, *Customer) {
	var got *Customer
	handler := a.RequireCustomer()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, _ = CustomerFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))
	req := httptest.NewRequest(http.MethodPost, "/api/v1/checkout", nil)
	if header != "" {
		req.Header.Set("Authorization", header)
	}
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	return rr, got
}

func TestRequireCustomerStoresCustomer(t *testing.T) {
	verifier := &stubTokenVerifier{token: &firebaseauth.Token{
		UID:      "cust-1",
		Firebase: firebaseauth.FirebaseInfo{SignInProvider: "password"},
		Claims:   map[string]any{"email": "aiko@example.com", "name": "Aiko Tanaka", "email_verified": true},
	}}

	rr, customer := serveCustomer(NewAuthenticator(verifier), "Bearer id-token")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if verifier.received != "id-token" {
		t.Fatalf("expected token forwarded, got %q", verifier.received)
	}
	if customer == nil || customer.UID != "cust-1" || customer.Email != "aiko@example.com" || !customer.EmailVerified {
		t.Fatalf("unexpected customer %+v", customer)
	}
}

func TestRequireCustomerRejectsMissingHeader(t *testing.T) {
	rr, _ := serveCustomer(NewAuthenticator(&stubTokenVerifier{}), "Basic abc")
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
}

func TestRequireCustomerRejectsExpiredToken(t *testing.T) {
	rr, _ := serveCustomer(NewAuthenticator(&stubTokenVerifier{err: ErrTokenExpired}), "Bearer stale")
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
	rr, _ = serveCustomer(NewAuthenticator(&stubTokenVerifier{err: errors.New("boom")}), "Bearer broken")
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
}

func TestRequireCustomerAnonymousPolicy(t *testing.T) {
	verifier := &stubTokenVerifier{token: &firebaseauth.Token{
		UID:      "anon-1",
		Firebase: firebaseauth.FirebaseInfo{SignInProvider: "anonymous"},
		Claims:   map[string]any{},
	}}
	if rr, _ := serveCustomer(NewAuthenticator(verifier), "Bearer anon"); rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for anonymous, got %d", rr.Code)
	}
	if rr, _ := serveCustomer(NewAuthenticator(verifier, WithAnonymousCustomers(true)), "Bearer anon"); rr.Code != http.StatusOK {
		t.Fatalf("expected anonymous allowed, got %d", rr.Code)
	}
}
