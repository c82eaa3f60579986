package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/blockmedi/medledger/block"
	neterrors "github.com/blockmedi/medledger/errors"
	"github.com/blockmedi/medledger/exception"
	"github.com/blockmedi/medledger/jsonx"
	"github.com/blockmedi/medledger/logx"
	"github.com/blockmedi/medledger/monitoring"
	"github.com/blockmedi/medledger/ratelimit"
	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
)

const (
	LedgerPrefix = "/api/blockchain"

	maxBodyBytes = 1 << 20
)

// Ledger is what the routes need from the chain controller.
type Ledger interface {
	ProposedBlockHash(p block.ProposedBlock) (string, error)
	VerifyChainIntegrity() (bool, error)
}

type APIServer struct {
	Ledger     Ledger
	ListenAddr string
	// EnableCORS allows any origin; used in local and development setups
	EnableCORS bool
	// ValidateLimiter throttles validate-block per client IP when set
	ValidateLimiter *ratelimit.RateLimiter

	httpServer *http.Server
	listener   net.Listener
}

func NewAPIServer(ledger Ledger, addr string, enableCORS bool) *APIServer {
	return &APIServer{
		Ledger:     ledger,
		ListenAddr: addr,
		EnableCORS: enableCORS,
	}
}

// Handler builds the full route tree with middleware applied.
func (s *APIServer) Handler() http.Handler {
	router := mux.NewRouter()
	router.Use(correlationIDMiddleware, requestLogMiddleware)

	ledgerRoutes := router.PathPrefix(LedgerPrefix).Subrouter()
	ledgerRoutes.Handle("/validate-block", rateLimitMiddleware(s.ValidateLimiter, http.HandlerFunc(s.handleValidateBlock))).Methods(http.MethodPost)
	ledgerRoutes.HandleFunc("/health", s.handleChainHealth).Methods(http.MethodGet)

	router.HandleFunc("/api/health", s.handleHealth).Methods(http.MethodGet)
	monitoring.RegisterMetrics(router)

	if !s.EnableCORS {
		return router
	}
	return handlers.CORS(
		handlers.AllowedOrigins([]string{"*"}),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Content-Type", correlationIDHeader}),
		handlers.ExposedHeaders([]string{correlationIDHeader}),
	)(router)
}

// Start binds the listen address and serves in the background. Bind errors
// are returned to the caller.
func (s *APIServer) Start() error {
	listener, err := net.Listen("tcp", s.ListenAddr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.ListenAddr, err)
	}
	s.listener = listener
	s.httpServer = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	logx.Info("API", "API listen on", listener.Addr().String())
	exception.SafeGoWithPanic("api-server", func() {
		if err := s.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logx.Error("API", "API server stopped:", err)
		}
	})
	return nil
}

// Addr is the bound address once Start has returned.
func (s *APIServer) Addr() string {
	if s.listener == nil {
		return s.ListenAddr
	}
	return s.listener.Addr().String()
}

func (s *APIServer) Shutdown(ctx context.Context) error {
	if s.ValidateLimiter != nil {
		s.ValidateLimiter.Stop()
	}
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func (s *APIServer) handleValidateBlock(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	defer r.Body.Close()

	body, err := io.ReadAll(r.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge,
				neterrors.ErrCodeBodyTooLarge, fmt.Sprintf(neterrors.ErrMsgRequestBodyTooLarge, maxBodyBytes))
			return
		}
		writeError(w, http.StatusBadRequest, neterrors.ErrCodeInvalidRequest, neterrors.ErrMsgInvalidRequest)
		return
	}

	var proposed block.ProposedBlock
	if err := jsonx.Unmarshal(body, &proposed); err != nil || proposed.ID == "" {
		writeError(w, http.StatusBadRequest, neterrors.ErrCodeInvalidRequest, neterrors.ErrMsgInvalidRequest)
		return
	}

	hash, err := s.Ledger.ProposedBlockHash(proposed)
	if err != nil {
		var serErr *block.SerializationError
		if errors.Is(err, block.ErrUnknownType) || errors.As(err, &serErr) {
			writeError(w, http.StatusBadRequest, neterrors.ErrCodeInvalidBlock, neterrors.ErrMsgInvalidBlock)
			return
		}
		logx.Error("API", "Failed to hash proposed block", proposed.ID, ":", err)
		writeError(w, http.StatusInternalServerError, neterrors.ErrCodeInternal, neterrors.ErrMsgInternal)
		return
	}

	writeJSON(w, http.StatusOK, hash)
}

func (s *APIServer) handleChainHealth(w http.ResponseWriter, r *http.Request) {
	ok, err := s.Ledger.VerifyChainIntegrity()
	if err != nil {
		logx.Error("API", "Integrity check failed to run:", err)
		writeError(w, http.StatusInternalServerError, neterrors.ErrCodeInternal, neterrors.ErrMsgInternal)
		return
	}
	if !ok {
		writeError(w, http.StatusBadRequest, neterrors.ErrCodeIntegrityFailed, neterrors.ErrMsgIntegrityFailed)
		return
	}
	writeJSON(w, http.StatusOK, true)
}

func (s *APIServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, true)
}

// writeJSON writes v without a trailing newline; peers compare the body bytes.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	body, err := jsonx.Marshal(v)
	if err != nil {
		http.Error(w, neterrors.ErrMsgInternal, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

func writeError(w http.ResponseWriter, status int, code neterrors.NetworkErrorCode, message string) {
	writeJSON(w, status, neterrors.NetworkError{Code: code, Message: message})
}
