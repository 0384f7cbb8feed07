package rest

import (
	"context"
	"encoding/json"
	goerrors "errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/controlledtrade/substance-compliance-backend/internal/domain/errors"
	"github.com/controlledtrade/substance-compliance-backend/internal/domain/trade"
	"github.com/controlledtrade/substance-compliance-backend/internal/service/override"
	"github.com/controlledtrade/substance-compliance-backend/internal/service/validation"
)

const maxBodySize = 1 << 20 // 1MB

// ValidationService runs the compliance rule pipeline.
type ValidationService interface {
	Validate(ctx context.Context, tx *trade.Transaction) (*validation.Result, error)
}

// OverrideService resolves parked override requests.
type OverrideService interface {
	Approve(ctx context.Context, transactionID uuid.UUID, actor override.Actor, justification string) (*trade.Transaction, error)
	Reject(ctx context.Context, transactionID uuid.UUID, actor override.Actor, reason string) (*trade.Transaction, error)
}

// TransactionReader serves transaction lookups and the override queue.
type TransactionReader interface {
	Get(ctx context.Context, id uuid.UUID) (*trade.Transaction, error)
	ListByStatus(ctx context.Context, status trade.ValidationStatus, limit int) ([]*trade.Transaction, error)
}

// TransactionWriter persists validated transactions.
type TransactionWriter interface {
	Save(ctx context.Context, tx *trade.Transaction) error
}

// HealthChecker reports liveness of a dependency.
type HealthChecker interface {
	Ping(ctx context.Context) error
}

// Handler carries the service dependencies for all HTTP endpoints.
type Handler struct {
	logger    *slog.Logger
	validate  *validator.Validate
	engine    ValidationService
	overrides OverrideService
	reader    TransactionReader
	writer    TransactionWriter
	health    HealthChecker
}

// NewHandler wires the endpoint handlers.
func NewHandler(
	logger *slog.Logger,
	engine ValidationService,
	overrides OverrideService,
	reader TransactionReader,
	writer TransactionWriter,
	health HealthChecker,
) *Handler {
	return &Handler{
		logger:    logger,
		validate:  validator.New(),
		engine:    engine,
		overrides: overrides,
		reader:    reader,
		writer:    writer,
		health:    health,
	}
}

// Routes registers all endpoints on a fresh mux.
func (h *Handler) Routes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/v1/transactions/validate", h.handleValidate)
	mux.HandleFunc("GET /api/v1/transactions/{id}", h.handleGetTransaction)
	mux.HandleFunc("POST /api/v1/transactions/{id}/override/approve", h.handleOverrideApprove)
	mux.HandleFunc("POST /api/v1/transactions/{id}/override/reject", h.handleOverrideReject)
	mux.HandleFunc("GET /api/v1/overrides/pending", h.handlePendingOverrides)
	mux.HandleFunc("GET /healthz", h.handleHealth)
	mux.Handle("GET /metrics", promhttp.Handler())

	return mux
}

func (h *Handler) handleValidate(w http.ResponseWriter, r *http.Request) {
	var req ValidateTransactionRequest
	if err := h.decodeBody(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	tx, err := req.ToDomain()
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	result, err := h.engine.Validate(r.Context(), tx)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	if err := h.writer.Save(r.Context(), tx); err != nil {
		h.logger.ErrorContext(r.Context(), "failed to persist validated transaction",
			"transaction_id", tx.ID, "error", err)
		h.writeError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusOK, newValidationResponse(tx, result))
}

func (h *Handler) handleGetTransaction(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	tx, err := h.reader.Get(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusOK, newTransactionResponse(tx))
}

func (h *Handler) handleOverrideApprove(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	var req OverrideDecisionRequest
	if err := h.decodeBody(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	tx, err := h.overrides.Approve(r.Context(), id, req.Actor(), req.Justification)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusOK, newTransactionResponse(tx))
}

func (h *Handler) handleOverrideReject(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	var req OverrideDecisionRequest
	if err := h.decodeBody(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	tx, err := h.overrides.Reject(r.Context(), id, req.Actor(), req.Justification)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusOK, newTransactionResponse(tx))
}

func (h *Handler) handlePendingOverrides(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 || parsed > 500 {
			h.writeError(w, r, errors.NewValidationError("INVALID_LIMIT", "limit must be an integer between 1 and 500"))
			return
		}
		limit = parsed
	}

	txs, err := h.reader.ListByStatus(r.Context(), trade.StatusRequiresOverride, limit)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	resp := make([]TransactionResponse, 0, len(txs))
	for _, tx := range txs {
		resp = append(resp, newTransactionResponse(tx))
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"transactions": resp})
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if h.health != nil {
		if err := h.health.Ping(r.Context()); err != nil {
			h.writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unhealthy"})
			return
		}
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// decodeBody reads, unmarshals and struct-validates a JSON request body.
func (h *Handler) decodeBody(w http.ResponseWriter, r *http.Request, dest interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)

	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dest); err != nil {
		return errors.NewValidationError("INVALID_JSON", "request body is not valid JSON: "+err.Error())
	}

	if err := h.validate.Struct(dest); err != nil {
		fields := map[string]interface{}{}
		var verrs validator.ValidationErrors
		if goerrors.As(err, &verrs) {
			for _, fe := range verrs {
				fields[fe.Field()] = fe.Tag()
			}
		}
		return errors.NewValidationError("INVALID_REQUEST", "request failed validation").WithDetails(fields)
	}

	return nil
}

func pathUUID(r *http.Request, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(r.PathValue(name))
	if err != nil {
		return uuid.Nil, errors.NewValidationError("INVALID_ID", "path parameter "+name+" must be a UUID")
	}
	return id, nil
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

// writeError maps domain errors onto the HTTP error envelope. AppError
// carries its own status code; anything else is an opaque 500.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := errors.GetStatusCode(err)
	detail := ErrorDetail{
		Code:      "INTERNAL_ERROR",
		Message:   "an internal error occurred",
		RequestID: RequestIDFromContext(r.Context()),
	}

	var appErr *errors.AppError
	if goerrors.As(err, &appErr) {
		detail.Code = appErr.Code
		detail.Message = appErr.Message
		detail.Details = appErr.Details
	}

	if status >= http.StatusInternalServerError {
		h.logger.ErrorContext(r.Context(), "request failed",
			"path", r.URL.Path, "status", status, "error", err)
	}

	h.writeJSON(w, status, ErrorBody{Error: detail})
}
