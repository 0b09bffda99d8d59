/*
handlers.go - HTTP handlers over the ledger engine

PURPOSE:
  Exposes the engine's function API to a frontend. Handles HTTP
  request/response and JSON serialization; every rule lives in the
  engine, nothing is validated twice here.

ENDPOINTS:
  Workers:
    GET    /api/workers                 List workers
    POST   /api/workers                 Create worker
    GET    /api/workers/{id}            Get worker
    PUT    /api/workers/{id}            Update worker (not opening balance)
    DELETE /api/workers/{id}            Cascading delete
    GET    /api/workers/{id}/orphans    What a delete would cascade over
    GET    /api/workers/{id}/balance    Current balance
    GET    /api/workers/{id}/ledger     Running-balance statement
    GET    /api/workers/{id}/settlement Composer summary

  Categories / Subcategories: CRUD under /api/categories,
  /api/subcategories (category delete cascades).

  Entries / Payments: POST/PUT/DELETE under /api/entries, /api/payments.

  Outbox: GET /api/outbox, POST /api/outbox, POST /api/outbox/{id}/sent

  Backup:
    GET  /api/backup/export    Serialize the dataset
    POST /api/backup/save      Persist a snapshot
    POST /api/backup/restore   Full restore (body = backup document)
    GET  /api/backup/history   List snapshots, newest first
    POST /api/backup/prune     Keep N most recent snapshots

ERROR HANDLING:
  - 400: malformed body or malformed backup document
  - 404: unknown entity
  - 409: attempt to change an immutable field
  - 422: validation rejection (reason from the closed taxonomy)
  - 500: persistence failures

SEE ALSO:
  - dto.go: request/response structures
  - server.go: router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/warp/ledger-engine/backup"
	"github.com/warp/ledger-engine/engine"
	"github.com/warp/ledger-engine/ledger"
)

// =============================================================================
// HANDLER
// =============================================================================

// Handler holds the engine the routes delegate to.
type Handler struct {
	Engine *engine.Engine
}

func NewHandler(eng *engine.Engine) *Handler {
	return &Handler{Engine: eng}
}

// =============================================================================
// WORKERS
// =============================================================================

func (h *Handler) ListWorkers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Engine.Data().Workers)
}

func (h *Handler) CreateWorker(w http.ResponseWriter, r *http.Request) {
	var req CreateWorkerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	worker, err := h.Engine.AddWorker(r.Context(), req.Name, req.Address, req.Phone, req.OpeningBalance)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, worker)
}

func (h *Handler) GetWorker(w http.ResponseWriter, r *http.Request) {
	worker, err := h.Engine.Worker(ledger.WorkerID(chi.URLParam(r, "id")))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, worker)
}

func (h *Handler) UpdateWorker(w http.ResponseWriter, r *http.Request) {
	id := ledger.WorkerID(chi.URLParam(r, "id"))
	var req UpdateWorkerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	current, err := h.Engine.Worker(id)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	current.Name = req.Name
	current.Address = req.Address
	current.Phone = req.Phone
	if err := h.Engine.UpdateWorker(r.Context(), current); err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, current)
}

func (h *Handler) DeleteWorker(w http.ResponseWriter, r *http.Request) {
	if err := h.Engine.DeleteWorker(r.Context(), ledger.WorkerID(chi.URLParam(r, "id"))); err != nil {
		writeEngineError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) GetOrphans(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Engine.OrphanReport(ledger.WorkerID(chi.URLParam(r, "id"))))
}

func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	id := ledger.WorkerID(chi.URLParam(r, "id"))
	if _, err := h.Engine.Worker(id); err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, BalanceResponse{WorkerID: id, Balance: h.Engine.Balance(id)})
}

func (h *Handler) GetLedger(w http.ResponseWriter, r *http.Request) {
	id := ledger.WorkerID(chi.URLParam(r, "id"))
	if _, err := h.Engine.Worker(id); err != nil {
		writeEngineError(w, err)
		return
	}
	records := h.Engine.WorkerLedger(id)
	if records == nil {
		records = []ledger.LedgerRecord{}
	}
	writeJSON(w, http.StatusOK, records)
}

func (h *Handler) GetSettlement(w http.ResponseWriter, r *http.Request) {
	summary, err := h.Engine.Settlement(ledger.WorkerID(chi.URLParam(r, "id")))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// =============================================================================
// CATEGORIES / SUBCATEGORIES
// =============================================================================

func (h *Handler) ListCategories(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Engine.Data().Categories)
}

func (h *Handler) CreateCategory(w http.ResponseWriter, r *http.Request) {
	var req NameRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	category, err := h.Engine.AddCategory(r.Context(), req.Name)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, category)
}

func (h *Handler) UpdateCategory(w http.ResponseWriter, r *http.Request) {
	var req NameRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	category := ledger.Category{ID: ledger.CategoryID(chi.URLParam(r, "id")), Name: req.Name}
	if err := h.Engine.UpdateCategory(r.Context(), category); err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, category)
}

func (h *Handler) DeleteCategory(w http.ResponseWriter, r *http.Request) {
	if err := h.Engine.DeleteCategory(r.Context(), ledger.CategoryID(chi.URLParam(r, "id"))); err != nil {
		writeEngineError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) ListSubcategories(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Engine.Data().Subcategories)
}

func (h *Handler) CreateSubcategory(w http.ResponseWriter, r *http.Request) {
	var req SubcategoryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	sub, err := h.Engine.AddSubcategory(r.Context(), req.Name, req.CategoryIDs)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, sub)
}

func (h *Handler) UpdateSubcategory(w http.ResponseWriter, r *http.Request) {
	var req SubcategoryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	sub := ledger.Subcategory{
		ID:          ledger.SubcategoryID(chi.URLParam(r, "id")),
		Name:        req.Name,
		CategoryIDs: req.CategoryIDs,
	}
	if err := h.Engine.UpdateSubcategory(r.Context(), sub); err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sub)
}

func (h *Handler) DeleteSubcategory(w http.ResponseWriter, r *http.Request) {
	if err := h.Engine.DeleteSubcategory(r.Context(), ledger.SubcategoryID(chi.URLParam(r, "id"))); err != nil {
		writeEngineError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// ENTRIES / PAYMENTS
// =============================================================================

func (h *Handler) CreateEntry(w http.ResponseWriter, r *http.Request) {
	var entry ledger.Entry
	if err := json.NewDecoder(r.Body).Decode(&entry); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	created, err := h.Engine.AddEntry(r.Context(), entry)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (h *Handler) UpdateEntry(w http.ResponseWriter, r *http.Request) {
	var entry ledger.Entry
	if err := json.NewDecoder(r.Body).Decode(&entry); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	entry.ID = ledger.EntryID(chi.URLParam(r, "id"))
	if err := h.Engine.UpdateEntry(r.Context(), entry); err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

func (h *Handler) DeleteEntry(w http.ResponseWriter, r *http.Request) {
	if err := h.Engine.DeleteEntry(r.Context(), ledger.EntryID(chi.URLParam(r, "id"))); err != nil {
		writeEngineError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) CreatePayment(w http.ResponseWriter, r *http.Request) {
	var payment ledger.Payment
	if err := json.NewDecoder(r.Body).Decode(&payment); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	created, err := h.Engine.AddPayment(r.Context(), payment)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (h *Handler) UpdatePayment(w http.ResponseWriter, r *http.Request) {
	var payment ledger.Payment
	if err := json.NewDecoder(r.Body).Decode(&payment); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	payment.ID = ledger.PaymentID(chi.URLParam(r, "id"))
	if err := h.Engine.UpdatePayment(r.Context(), payment); err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, payment)
}

func (h *Handler) DeletePayment(w http.ResponseWriter, r *http.Request) {
	if err := h.Engine.DeletePayment(r.Context(), ledger.PaymentID(chi.URLParam(r, "id"))); err != nil {
		writeEngineError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// OUTBOX
// =============================================================================

func (h *Handler) ListOutbox(w http.ResponseWriter, r *http.Request) {
	outbox := h.Engine.Data().Outbox
	if outbox == nil {
		outbox = []ledger.OutboxMessage{}
	}
	writeJSON(w, http.StatusOK, outbox)
}

func (h *Handler) QueueMessage(w http.ResponseWriter, r *http.Request) {
	var req QueueMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	msg, err := h.Engine.QueueMessage(r.Context(), req.WorkerID, req.Body, req.Channel)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, msg)
}

func (h *Handler) MarkMessageSent(w http.ResponseWriter, r *http.Request) {
	if err := h.Engine.MarkMessageSent(r.Context(), ledger.MessageID(chi.URLParam(r, "id"))); err != nil {
		writeEngineError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// BACKUP
// =============================================================================

func (h *Handler) ExportBackup(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Engine.ExportBackup())
}

func (h *Handler) SaveBackup(w http.ResponseWriter, r *http.Request) {
	key, err := h.Engine.SaveBackup(r.Context())
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"key": key})
}

func (h *Handler) RestoreBackup(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Failed to read request body", err)
		return
	}
	result, err := h.Engine.RestoreBackup(r.Context(), raw)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	warnings := result.Warnings
	if warnings == nil {
		warnings = []backup.Warning{}
	}
	writeJSON(w, http.StatusOK, RestoreResponse{SafetyKey: result.SafetyKey, Warnings: warnings})
}

func (h *Handler) BackupHistory(w http.ResponseWriter, r *http.Request) {
	infos, err := h.Engine.BackupHistory(r.Context())
	if err != nil {
		writeEngineError(w, err)
		return
	}
	if infos == nil {
		infos = []backup.SnapshotInfo{}
	}
	writeJSON(w, http.StatusOK, infos)
}

func (h *Handler) PruneBackups(w http.ResponseWriter, r *http.Request) {
	var req PruneRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	removed, err := h.Engine.PruneBackups(r.Context(), req.Keep)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, PruneResponse{Removed: removed})
}

// =============================================================================
// RESPONSE HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeEngineError maps engine errors onto HTTP statuses. Validation
// rejections keep their taxonomy reason so clients can branch on it.
func writeEngineError(w http.ResponseWriter, err error) {
	var rej *ledger.Rejection
	switch {
	case errors.As(err, &rej):
		writeJSON(w, http.StatusUnprocessableEntity, ErrorResponse{
			Error:  rej.Message,
			Reason: string(rej.Reason),
			Field:  rej.Field,
		})
	case errors.Is(err, backup.ErrMalformedBackup):
		writeError(w, http.StatusBadRequest, "Malformed backup document", err)
	case errors.Is(err, ledger.ErrNotFound):
		writeError(w, http.StatusNotFound, "Not found", err)
	case errors.Is(err, ledger.ErrImmutableField):
		writeError(w, http.StatusConflict, "Field is immutable", err)
	default:
		writeError(w, http.StatusInternalServerError, "Internal error", err)
	}
}
