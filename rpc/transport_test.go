package rpc

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/telcoin-network/tn-consensus-core/types"
)

type echoRequest struct{ Value string }
type echoResponse struct{ Value string }

func TestHTTPTransportRoundTrip(t *testing.T) {
	server := NewServer("test-echo")
	server.Register("Echo", func() any { return new(echoRequest) }, func(ctx context.Context, req any) (any, error) {
		r := req.(*echoRequest)
		return &echoResponse{Value: strings.ToUpper(r.Value)}, nil
	})

	ts := httptest.NewServer(server.router)
	defer ts.Close()
	addr := strings.TrimPrefix(ts.URL, "http://")

	transport := NewHTTPTransport(2 * time.Second)
	var resp echoResponse
	err := transport.Call(context.Background(), addr, "Echo", &echoRequest{Value: "hi"}, &resp)
	if err != nil {
		t.Fatalf("call: %v", err)
	}
	if resp.Value != "HI" {
		t.Fatalf("want HI, got %q", resp.Value)
	}
}

func TestHTTPTransportHandlerErrorSurfacesAsNetworkError(t *testing.T) {
	server := NewServer("test-fail")
	server.Register("Fail", func() any { return new(echoRequest) }, func(ctx context.Context, req any) (any, error) {
		return nil, types.NewError(types.KindValidation, "boom", nil)
	})

	ts := httptest.NewServer(server.router)
	defer ts.Close()
	addr := strings.TrimPrefix(ts.URL, "http://")

	transport := NewHTTPTransport(2 * time.Second)
	var resp echoResponse
	err := transport.Call(context.Background(), addr, "Fail", &echoRequest{Value: "x"}, &resp)
	if err == nil {
		t.Fatalf("expected an error from a failing handler")
	}
}

func TestRegisterRawBypassesGobEnvelope(t *testing.T) {
	server := NewServer("test-raw")
	hit := false
	server.RegisterRaw("/raw", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { hit = true }))

	ts := httptest.NewServer(server.router)
	defer ts.Close()

	resp, err := ts.Client().Get(ts.URL + "/raw")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if !hit {
		t.Fatalf("expected raw handler to run")
	}
}
