// Package httpapi is the REST boundary of the ledger service. It owns request
// decoding, identity extraction and the single place where domain error kinds
// become HTTP status codes; no handler leaks internal numbers to callers.
package httpapi

import (
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/satsboard/ledger-service/internal/approval"
	"github.com/satsboard/ledger-service/internal/audit"
	"github.com/satsboard/ledger-service/internal/domain/ledger"
	"github.com/satsboard/ledger-service/internal/killswitch"
	"github.com/satsboard/ledger-service/internal/metrics"
	"github.com/satsboard/ledger-service/internal/pipeline"
	"github.com/satsboard/ledger-service/internal/reconcile"
	"github.com/satsboard/ledger-service/internal/storage"
	"github.com/satsboard/ledger-service/pkg/logger"
)

// Identity headers. Authentication itself happens upstream; the proxy is
// trusted to set these.
const (
	headerAccountID = "X-Account-ID"
	headerOperator  = "X-Operator"
)

// Config wires the handler's collaborators.
type Config struct {
	Service    *pipeline.Service
	Accounts   storage.AccountStore
	Store      storage.LedgerStore
	Reconciler *reconcile.Checker
	Approvals  *approval.Queue
	Kill       *killswitch.Switch
	Metrics    *metrics.Metrics
	Log        *logger.Logger
}

// Handler serves the REST API.
type Handler struct {
	cfg Config
	log *logger.Logger
}

// New creates a Handler.
func New(cfg Config) *Handler {
	if cfg.Log == nil {
		cfg.Log = logger.NewDefault("httpapi")
	}
	return &Handler{cfg: cfg, log: cfg.Log}
}

// Router builds the chi router with all routes mounted.
func (h *Handler) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(h.cfg.Metrics.Instrument)

	r.Get("/healthz", h.handleHealth)

	r.Route("/v1", func(r chi.Router) {
		r.Post("/withdrawals", h.handleWithdraw)
		r.Post("/transfers", h.handleTransfer)
		r.Post("/deposits", h.handleDeposit)
		r.Get("/accounts/{accountID}", h.handleGetAccount)
		r.Get("/accounts/{accountID}/reconciliation", h.handleReconciliation)
		r.Get("/accounts/{accountID}/transactions", h.handleListTransactions)
		r.Get("/transactions/{txID}", h.handleGetTransaction)

		r.Route("/admin", func(r chi.Router) {
			r.Get("/approvals", h.handleListApprovals)
			r.Post("/approvals/{txID}", h.handleResolveApproval)
			r.Get("/killswitch", h.handleGetKillSwitch)
			r.Put("/killswitch", h.handlePutKillSwitch)
		})
	})

	return r
}

func (h *Handler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// accountID extracts the authenticated account identity.
func accountID(r *http.Request) (string, error) {
	id := strings.TrimSpace(r.Header.Get(headerAccountID))
	if id == "" {
		return "", ledger.E(ledger.AuthError, "missing account identity")
	}
	return id, nil
}

func operator(r *http.Request) string {
	if op := strings.TrimSpace(r.Header.Get(headerOperator)); op != "" {
		return op
	}
	return "operator"
}

// requestMeta captures caller context for the audit trail.
func requestMeta(r *http.Request) audit.RequestMeta {
	ip := r.Header.Get("X-Forwarded-For")
	if ip == "" {
		ip = r.RemoteAddr
		if host, _, err := net.SplitHostPort(ip); err == nil {
			ip = host
		}
	} else if idx := strings.IndexByte(ip, ','); idx > 0 {
		ip = strings.TrimSpace(ip[:idx])
	}
	return audit.RequestMeta{IP: ip, UserAgent: r.UserAgent()}
}

func decodeJSON(r *http.Request, dst interface{}) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return ledger.E(ledger.ValidationError, "invalid request body")
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// writeError maps a domain error kind to a status code exactly once. The
// message in the domain error is already safe to surface.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	kind := ledger.KindOf(err)
	status := statusFor(kind)

	if retryAfter := ledger.RetryAfterOf(err); retryAfter > 0 {
		secs := int(retryAfter.Seconds())
		if secs < 1 {
			secs = 1
		}
		w.Header().Set("Retry-After", strconv.Itoa(secs))
	}

	message := "internal error"
	var domainErr *ledger.Error
	if errors.As(err, &domainErr) && status < http.StatusInternalServerError {
		message = domainErr.Message
	}
	if status >= http.StatusInternalServerError {
		h.log.WithError(err).WithField("path", r.URL.Path).Error("request failed")
	}

	writeJSON(w, status, map[string]interface{}{
		"error": map[string]string{
			"code":    string(kind),
			"message": message,
		},
	})
}

func statusFor(kind ledger.ErrorKind) int {
	switch kind {
	case ledger.AuthError:
		return http.StatusUnauthorized
	case ledger.ValidationError, ledger.InsufficientBalance, ledger.LimitExceededError:
		return http.StatusBadRequest
	case ledger.RateLimitError:
		return http.StatusTooManyRequests
	case ledger.ReconciliationError:
		return http.StatusForbidden
	case ledger.SystemThresholdError:
		return http.StatusServiceUnavailable
	case ledger.NotFoundError:
		return http.StatusNotFound
	case ledger.StateError:
		return http.StatusConflict
	case ledger.PaymentError:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
