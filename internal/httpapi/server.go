// Package httpapi exposes the interactive ledger operations over HTTP. The
// caller is identified by the X-User-ID header; authentication happens in
// front of this service.
package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/sheikh-saqib/personal-finance-ledger/internal/budget"
	"github.com/sheikh-saqib/personal-finance-ledger/internal/errs"
	"github.com/sheikh-saqib/personal-finance-ledger/internal/interfaces"
	"github.com/sheikh-saqib/personal-finance-ledger/internal/ledger"
	"github.com/sheikh-saqib/personal-finance-ledger/internal/ratelimit"
)

const userHeader = "X-User-ID"

// maxReceiptBytes bounds receipt uploads.
const maxReceiptBytes = 5 << 20

type Server struct {
	ledger     *ledger.Ledger
	budgets    *budget.Evaluator
	limiter    *ratelimit.Limiter
	classifier interfaces.ReceiptClassifier
	logger     *zap.Logger
	now        func() time.Time
}

// Deps are the services behind the handlers. Classifier may be nil, in
// which case receipt scanning answers 503.
type Deps struct {
	Ledger     *ledger.Ledger
	Budgets    *budget.Evaluator
	Limiter    *ratelimit.Limiter
	Classifier interfaces.ReceiptClassifier
	Logger     *zap.Logger
}

func NewServer(d Deps) *Server {
	logger := d.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		ledger:     d.Ledger,
		budgets:    d.Budgets,
		limiter:    d.Limiter,
		classifier: d.Classifier,
		logger:     logger,
		now:        time.Now,
	}
}

// Handler returns the routed and logged handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	mux.HandleFunc("POST /accounts", s.withUser(s.createAccount))
	mux.HandleFunc("GET /accounts", s.withUser(s.listAccounts))
	mux.HandleFunc("GET /accounts/balance", s.withUser(s.getBalance))
	mux.HandleFunc("GET /accounts/{id}/transactions", s.withUser(s.listAccountTransactions))
	mux.HandleFunc("PUT /accounts/{id}/default", s.withUser(s.setDefaultAccount))

	mux.HandleFunc("POST /transactions", s.withUser(s.createTransaction))
	mux.HandleFunc("GET /transactions/{id}", s.withUser(s.getTransaction))
	mux.HandleFunc("PUT /transactions/{id}", s.withUser(s.updateTransaction))
	mux.HandleFunc("POST /transactions/bulk-delete", s.withUser(s.bulkDelete))

	mux.HandleFunc("GET /budget", s.withUser(s.getBudget))
	mux.HandleFunc("PUT /budget", s.withUser(s.setBudget))

	mux.HandleFunc("POST /receipts/scan", s.withUser(s.scanReceipt))

	return s.logRequests(mux)
}

type userHandler func(w http.ResponseWriter, r *http.Request, userID string)

func (s *Server) withUser(h userHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := r.Header.Get(userHeader)
		if userID == "" {
			writeError(w, http.StatusUnauthorized, "missing "+userHeader+" header")
			return
		}
		h(w, r, userID)
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.Info("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rec.status),
			zap.Duration("took", time.Since(start)))
	})
}

// statusFor maps the error taxonomy onto HTTP statuses. NotFound is checked
// first because an aborted unit usually wraps the reason it aborted.
func statusFor(err error) int {
	switch {
	case errors.Is(err, errs.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, errs.ErrInvalidInput), errors.Is(err, errs.ErrInvalidInterval):
		return http.StatusBadRequest
	case errors.Is(err, errs.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, errs.ErrExternalDispatchFailed):
		return http.StatusBadGateway
	case errors.Is(err, errs.ErrTransactionAborted):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", zap.String("path", r.URL.Path), zap.Error(err))
		writeError(w, status, http.StatusText(status))
		return
	}
	writeError(w, status, err.Error())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func decode(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return errs.Invalid("request body: %v", err)
	}
	return nil
}
