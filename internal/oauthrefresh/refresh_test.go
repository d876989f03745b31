package oauthrefresh

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestRefreshExchangesRefreshTokenForAccessToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"access_token":"new-access-token","token_type":"Bearer","expires_in":3600}`))
	}))
	defer srv.Close()

	r := New("client-id", "client-secret", srv.URL)
	token, expiry, err := r.Refresh(context.Background(), "refresh-token")
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if token != "new-access-token" {
		t.Fatalf("expected new-access-token, got %q", token)
	}
	if expiry.IsZero() {
		t.Fatalf("expected non-zero expiry")
	}
}
