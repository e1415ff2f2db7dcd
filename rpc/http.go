package rpc

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"swaplock/native/swap"
	"swaplock/observability"
)

const (
	jsonRPCVersion  = "2.0"
	maxRequestBytes = 1 << 20 // 1 MiB
	authTokenEnv    = "SWAPLOCK_RPC_TOKEN"
	limiterTTL      = 5 * time.Minute
)

const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeUnauthorized   = -32001
	codeServerError    = -32000
	codeRateLimited    = -32020
)

// Engine error kinds, one code per taxonomy entry.
const (
	codeZeroValue           = -32030
	codeLockAlreadyExists   = -32031
	codeLockNotFound        = -32032
	codeLockTimedOut        = -32033
	codeLockNotTimedOut     = -32034
	codeStashNotBigEnough   = -32035
	codeTokenTransferFailed = -32036
	codeInvalidProxy        = -32037
)

// Committer flushes engine state after a successful mutation. The managed
// state satisfies it; tests may pass nil.
type Committer interface {
	Commit() error
}

type Options struct {
	// AuthToken guards mutating methods. Empty falls back to the
	// SWAPLOCK_RPC_TOKEN environment variable; if both are empty the
	// mutating surface is open (development mode).
	AuthToken string
	// RateLimit/RateBurst bound mutating requests per client address.
	RateLimit float64
	RateBurst int
	Committer Committer
	Logger    *slog.Logger
}

type Server struct {
	engine    *swap.Engine
	committer Committer
	logger    *slog.Logger
	authToken string

	// engineMu serializes every engine operation: the engine state is
	// single-writer by contract.
	engineMu sync.Mutex

	limiterMu sync.Mutex
	limiters  map[string]*rate.Limiter
	rateLimit rate.Limit
	rateBurst int

	metrics *observability.EngineMetrics
}

func NewServer(engine *swap.Engine, opts Options) *Server {
	token := strings.TrimSpace(opts.AuthToken)
	if token == "" {
		token = strings.TrimSpace(os.Getenv(authTokenEnv))
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	limit := rate.Limit(opts.RateLimit)
	if opts.RateLimit <= 0 {
		limit = rate.Inf
	}
	burst := opts.RateBurst
	if burst <= 0 {
		burst = 1
	}
	return &Server{
		engine:    engine,
		committer: opts.Committer,
		logger:    logger,
		authToken: token,
		limiters:  make(map[string]*rate.Limiter),
		rateLimit: limit,
		rateBurst: burst,
		metrics:   observability.Metrics(),
	}
}

// Router assembles the HTTP surface: the JSON-RPC endpoint, health and
// prometheus metrics.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())
	r.Post("/", s.handle)
	return r
}

// Start serves the router until the listener fails.
func (s *Server) Start(addr string) error {
	s.logger.Info("starting JSON-RPC server", slog.String("addr", addr))
	return http.ListenAndServe(addr, s.Router())
}

type RPCRequest struct {
	JSONRPC string            `json:"jsonrpc"`
	Method  string            `json:"method"`
	Params  []json.RawMessage `json:"params"`
	ID      interface{}       `json:"id"`
}

type RPCResponse struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      interface{} `json:"id"`
	Result  interface{} `json:"result,omitempty"`
	Error   *RPCError   `json:"error,omitempty"`
}

type RPCError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

type handlerFunc func(params []json.RawMessage) (interface{}, *RPCError)

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBytes+1))
	if err != nil {
		writeError(w, http.StatusBadRequest, nil, codeParseError, "failed to read request body")
		return
	}
	if len(body) > maxRequestBytes {
		writeError(w, http.StatusRequestEntityTooLarge, nil, codeInvalidRequest, "request body too large")
		return
	}
	var req RPCRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, nil, codeParseError, "invalid JSON payload")
		return
	}
	if req.JSONRPC != jsonRPCVersion {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidRequest, "unsupported jsonrpc version")
		return
	}

	handler, mutating := s.route(req.Method)
	if handler == nil {
		writeError(w, http.StatusNotFound, req.ID, codeMethodNotFound, "unknown method "+req.Method)
		return
	}

	if mutating {
		if rpcErr := s.requireAuth(r); rpcErr != nil {
			writeError(w, http.StatusUnauthorized, req.ID, rpcErr.Code, rpcErr.Message)
			return
		}
		if !s.allow(clientID(r)) {
			writeError(w, http.StatusTooManyRequests, req.ID, codeRateLimited, "rate limit exceeded")
			return
		}
	}

	started := time.Now()
	s.engineMu.Lock()
	result, rpcErr := handler(req.Params)
	var commitErr error
	if rpcErr == nil && mutating {
		commitErr = s.commit()
	}
	s.engineMu.Unlock()

	outcome := "ok"
	if rpcErr != nil {
		outcome = "error"
		s.metrics.ObserveError(req.Method, strconv.Itoa(rpcErr.Code))
	}
	s.metrics.ObserveRequest(req.Method, outcome, time.Since(started))

	if rpcErr != nil {
		writeError(w, http.StatusOK, req.ID, rpcErr.Code, rpcErr.Message, rpcErr.Data)
		return
	}
	if commitErr != nil {
		s.logger.Error("state commit failed", slog.Any("error", commitErr))
		writeError(w, http.StatusInternalServerError, req.ID, codeServerError, "state commit failed")
		return
	}
	writeResult(w, req.ID, result)
}

func (s *Server) commit() error {
	if s.committer == nil {
		return nil
	}
	return s.committer.Commit()
}

func (s *Server) requireAuth(r *http.Request) *RPCError {
	if s.authToken == "" {
		return nil
	}
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return &RPCError{Code: codeUnauthorized, Message: "missing bearer token"}
	}
	token := strings.TrimSpace(header[len(prefix):])
	if subtle.ConstantTimeCompare([]byte(token), []byte(s.authToken)) != 1 {
		return &RPCError{Code: codeUnauthorized, Message: "invalid bearer token"}
	}
	return nil
}

func (s *Server) allow(client string) bool {
	s.limiterMu.Lock()
	defer s.limiterMu.Unlock()
	limiter, ok := s.limiters[client]
	if !ok {
		limiter = rate.NewLimiter(s.rateLimit, s.rateBurst)
		s.limiters[client] = limiter
		go s.cleanupLimiter(client)
	}
	return limiter.Allow()
}

// cleanupLimiter evicts the client's limiter once its TTL elapses, so idle
// clients do not accumulate entries for the life of the daemon. A client that
// is still active simply gets a fresh limiter on its next request.
func (s *Server) cleanupLimiter(client string) {
	timer := time.NewTimer(limiterTTL)
	defer timer.Stop()
	<-timer.C
	s.limiterMu.Lock()
	delete(s.limiters, client)
	s.limiterMu.Unlock()
}

func clientID(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func writeResult(w http.ResponseWriter, id, result interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Result: result})
}

func writeError(w http.ResponseWriter, status int, id interface{}, code int, message string, data ...interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	rpcErr := &RPCError{Code: code, Message: message}
	if len(data) > 0 && data[0] != nil {
		rpcErr.Data = data[0]
	}
	_ = json.NewEncoder(w).Encode(RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Error: rpcErr})
}

// engineError maps the engine taxonomy onto the module's code block.
func engineError(err error) *RPCError {
	code := codeServerError
	switch {
	case errors.Is(err, swap.ErrZeroValue):
		code = codeZeroValue
	case errors.Is(err, swap.ErrLockAlreadyExists):
		code = codeLockAlreadyExists
	case errors.Is(err, swap.ErrLockNotFound):
		code = codeLockNotFound
	case errors.Is(err, swap.ErrLockTimedOut):
		code = codeLockTimedOut
	case errors.Is(err, swap.ErrLockNotTimedOut):
		code = codeLockNotTimedOut
	case errors.Is(err, swap.ErrStashNotBigEnough):
		code = codeStashNotBigEnough
	case errors.Is(err, swap.ErrTokenTransferFailed):
		code = codeTokenTransferFailed
	case errors.Is(err, swap.ErrInvalidProxy):
		code = codeInvalidProxy
	}
	return &RPCError{Code: code, Message: err.Error()}
}
