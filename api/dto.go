/*
dto.go - Request/response types for the HTTP facade

PURPOSE:
  JSON carriers decoupling the HTTP contract from engine signatures.
  The domain entities already carry their wire-ready JSON tags, so
  responses reuse them directly; only request bodies and error envelopes
  are defined here.

VALIDATION:
  None here. DTOs are pure data carriers; the engine's validation gate
  is the single authority and its rejection reasons flow back out in
  ErrorResponse.Reason.

SEE ALSO:
  - handlers.go: uses these types
  - ledger/errors.go: the rejection taxonomy surfaced in Reason
*/
package api

import (
	"github.com/shopspring/decimal"

	"github.com/warp/ledger-engine/backup"
	"github.com/warp/ledger-engine/ledger"
)

// =============================================================================
// REQUEST TYPES
// =============================================================================

type CreateWorkerRequest struct {
	Name           string          `json:"name"`
	Address        string          `json:"address"`
	Phone          string          `json:"phone"`
	OpeningBalance decimal.Decimal `json:"openingBalance"`
}

type UpdateWorkerRequest struct {
	Name    string `json:"name"`
	Address string `json:"address"`
	Phone   string `json:"phone"`
}

type NameRequest struct {
	Name string `json:"name"`
}

type SubcategoryRequest struct {
	Name        string              `json:"name"`
	CategoryIDs []ledger.CategoryID `json:"categoryIds"`
}

type QueueMessageRequest struct {
	WorkerID ledger.WorkerID `json:"workerId"`
	Body     string          `json:"body"`
	Channel  string          `json:"channel"`
}

type PruneRequest struct {
	Keep int `json:"keep"`
}

// =============================================================================
// RESPONSE TYPES
// =============================================================================

type ErrorResponse struct {
	Error   string `json:"error"`
	Reason  string `json:"reason,omitempty"`
	Field   string `json:"field,omitempty"`
	Details string `json:"details,omitempty"`
}

type BalanceResponse struct {
	WorkerID ledger.WorkerID `json:"workerId"`
	Balance  decimal.Decimal `json:"balance"`
}

type RestoreResponse struct {
	SafetyKey string           `json:"safetyKey"`
	Warnings  []backup.Warning `json:"warnings"`
}

type PruneResponse struct {
	Removed int `json:"removed"`
}
