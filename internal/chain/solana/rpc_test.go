package solana

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestNewClientValidation(t *testing.T) {
	t.Parallel()

	if _, err := NewClient(""); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("empty url: got %v", err)
	}
	if _, err := NewClient("http://localhost", WithTimeout(0)); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("zero timeout: got %v", err)
	}
	if _, err := NewClient("http://localhost", WithMaxResponseBytes(-1)); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("negative cap: got %v", err)
	}
}

func TestClientErrorEnvelope(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"jsonrpc":"2.0","id":1,"error":{"code":-32602,"message":"invalid params"}}`)
	}))
	t.Cleanup(srv.Close)

	c, err := NewClient(srv.URL)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	_, err = c.GetAccountInfo(context.Background(), wrappedNativeMint)
	if !errors.Is(err, ErrRPC) {
		t.Fatalf("error envelope: got %v", err)
	}
	var rpcErr *RPCError
	if !errors.As(err, &rpcErr) || rpcErr.Code != -32602 {
		t.Fatalf("rpc error detail: got %v", err)
	}
}

func TestClientHTTPStatusError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "node overloaded", http.StatusServiceUnavailable)
	}))
	t.Cleanup(srv.Close)

	c, err := NewClient(srv.URL)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	_, err = c.GetAccountInfo(context.Background(), wrappedNativeMint)
	if err == nil || !strings.Contains(err.Error(), "503") {
		t.Fatalf("http status: got %v", err)
	}
}

func TestClientResponseSizeCap(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{"jsonrpc":"2.0","id":1,"result":{"value":{"owner":"%s","lamports":1,"data":["%s","base64"]}}}`,
			wrappedNativeMint, strings.Repeat("A", 4096))
	}))
	t.Cleanup(srv.Close)

	c, err := NewClient(srv.URL, WithMaxResponseBytes(64))
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	_, err = c.GetAccountInfo(context.Background(), wrappedNativeMint)
	if !errors.Is(err, ErrResponseTooLarge) {
		t.Fatalf("oversized response: got %v", err)
	}
}

func TestGetMinimumBalanceForRentExemption(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"jsonrpc":"2.0","id":1,"result":2039280}`)
	}))
	t.Cleanup(srv.Close)

	c, err := NewClient(srv.URL)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	got, err := c.GetMinimumBalanceForRentExemption(context.Background(), 158)
	if err != nil {
		t.Fatalf("rent exemption: %v", err)
	}
	if got != 2039280 {
		t.Fatalf("rent exemption = %d", got)
	}
}
