package rpc

import (
	"bytes"
	"context"
	"encoding/gob"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/julienschmidt/httprouter"
	"github.com/telcoin-network/tn-consensus-core/types"
	"github.com/telcoin-network/tn-consensus-core/xlog"
)

// Transport is the authenticated point-to-point RPC client every
// component (worker quorum waiter, worker fetcher, primary synchronizer,
// primary voter client) sends requests through. Implementations need not
// be HTTP; the interface is what primary/worker code depends on, matching
// the teacher's p2p.MsgReadWriter abstraction-over-transport idiom.
type Transport interface {
	// Call gob-encodes req, sends it to addr's named method, and
	// gob-decodes the response into resp. Network-layer failures are
	// returned as *types.Error with Kind() == types.KindNetwork so
	// callers can retry per §7.
	Call(ctx context.Context, addr string, method string, req, resp any) error
}

// HTTPTransport implements Transport over plain net/http with gob bodies,
// one POST per method name, matching the julienschmidt/httprouter-style
// method dispatch used server-side.
type HTTPTransport struct {
	client *http.Client
}

// NewHTTPTransport returns a Transport with the given per-call timeout.
func NewHTTPTransport(timeout time.Duration) *HTTPTransport {
	return &HTTPTransport{client: &http.Client{Timeout: timeout}}
}

func (t *HTTPTransport) Call(ctx context.Context, addr string, method string, req, resp any) error {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(req); err != nil {
		return types.NewError(types.KindValidation, "rpc: encode request", err)
	}
	url := "http://" + addr + "/" + method
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, &buf)
	if err != nil {
		return types.NewError(types.KindNetwork, "rpc: build request", err)
	}
	httpReq.Header.Set("Content-Type", "application/octet-stream")
	httpResp, err := t.client.Do(httpReq)
	if err != nil {
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			return types.NewError(types.KindNetwork, "rpc: "+method+" timed out", err)
		}
		return types.NewError(types.KindNetwork, "rpc: "+method+" failed", err)
	}
	defer httpResp.Body.Close()
	if httpResp.StatusCode != http.StatusOK {
		return types.NewError(types.KindNetwork, fmt.Sprintf("rpc: %s: status %d", method, httpResp.StatusCode), nil)
	}
	if err := gob.NewDecoder(httpResp.Body).Decode(resp); err != nil {
		return types.NewError(types.KindNetwork, "rpc: decode response", err)
	}
	return nil
}

// Handler is the signature every server-side RPC method implements.
type Handler func(ctx context.Context, req any) (any, error)

// Server dispatches incoming gob-encoded requests to registered handlers
// via httprouter, matching the teacher's lightweight REST-ish internal
// API servers (e.g. graphql/ethclient companion HTTP endpoints).
type Server struct {
	router *httprouter.Router
	log    *xlog.Logger
}

// NewServer returns an empty Server; call Register for each method before
// calling ListenAndServe.
func NewServer(componentName string) *Server {
	return &Server{router: httprouter.New(), log: xlog.New(componentName)}
}

// Register wires method at POST /{method}, decoding the body into a fresh
// req value via newReq, invoking fn, and gob-encoding whatever fn returns.
func (s *Server) Register(method string, newReq func() any, fn Handler) {
	s.router.POST("/"+method, func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		req := newReq()
		if err := gob.NewDecoder(r.Body).Decode(req); err != nil {
			http.Error(w, "decode: "+err.Error(), http.StatusBadRequest)
			return
		}
		resp, err := fn(r.Context(), req)
		if err != nil {
			s.log.Error("rpc handler failed", "method", method, "err", err)
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/octet-stream")
		if err := gob.NewEncoder(w).Encode(resp); err != nil {
			s.log.Error("rpc encode response failed", "method", method, "err", err)
		}
	})
}

// RegisterRaw mounts handler directly at GET path, bypassing the
// gob request/response envelope — used for the WebSocket subscription
// endpoint, which speaks its own framing.
func (s *Server) RegisterRaw(path string, handler http.Handler) {
	s.router.Handler(http.MethodGet, path, handler)
}

// ListenAndServe blocks serving on addr until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s.router}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
