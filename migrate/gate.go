/*
Package migrate is the schema migration gate.

PURPOSE:
  Runs once at load time, between the raw persisted blob and the live
  engine. Detects legacy (unversioned) data, normalizes it to the
  current schema, and stamps the version. Everything downstream can
  assume one canonical shape: all legacy field-name variants, loose
  numeric encodings, and long status strings are absorbed HERE and
  nowhere else.

STATE MACHINE:
  Unversioned (no schemaVersion, or < 1)  ->  Current (schemaVersion == 1)

  The version check is the first thing Run does, which makes the whole
  operation idempotent: re-running on already-migrated data is a no-op.

LEGACY NORMALIZATION (Unversioned -> Current):
  1. Write an immutable, timestamp-keyed copy of the raw blob before any
     transformation. Failure is logged and non-fatal - blocking startup
     on a backup failure is worse than the risk.
  2. Normalize each collection:
       - worker_id -> workerId, opening_balance -> openingBalance, etc.
       - non-numeric numeric fields coerce to 0
       - long status strings ("Present"/"Half"/"Absent", any case) map
         onto the canonical single-letter codes P/H/A
       - a scalar categoryId on a subcategory becomes the categoryIds set
  3. Persist the normalized result with schemaVersion = 1.

SEE ALSO:
  - ledger/types.go: the canonical shapes produced here
  - engine: calls Run before constructing the live store
*/
package migrate

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/warp/ledger-engine/kvstore"
	"github.com/warp/ledger-engine/ledger"
)

// =============================================================================
// KEYS
// =============================================================================

const (
	// DataKey is the single primary key holding the live dataset.
	DataKey = "ledger:app-data"

	// PreMigrationPrefix namespaces the raw-blob copies written before a
	// legacy migration runs.
	PreMigrationPrefix = "ledger:pre-migration:"
)

// =============================================================================
// GATE
// =============================================================================

type Gate struct {
	KV     kvstore.Store
	Logger *zap.Logger
	Now    func() time.Time
}

func NewGate(kv kvstore.Store, logger *zap.Logger) *Gate {
	return &Gate{KV: kv, Logger: logger}
}

func (g *Gate) logger() *zap.Logger {
	if g.Logger == nil {
		return zap.NewNop()
	}
	return g.Logger
}

func (g *Gate) now() time.Time {
	if g.Now == nil {
		return time.Now()
	}
	return g.Now()
}

// Run loads the persisted blob, migrating it first if it predates the
// current schema. A missing blob yields an empty current-version store.
func (g *Gate) Run(ctx context.Context) (ledger.AppData, error) {
	raw, err := g.KV.Get(ctx, DataKey)
	if err != nil {
		return ledger.AppData{}, fmt.Errorf("load persisted data: %w", err)
	}
	if raw == nil {
		data := ledger.Empty()
		if err := g.persist(ctx, data); err != nil {
			return ledger.AppData{}, err
		}
		return data, nil
	}

	// Version check first: already-current data is loaded untouched,
	// making Run idempotent.
	var peek struct {
		SchemaVersion int `json:"schemaVersion"`
	}
	if err := json.Unmarshal(raw, &peek); err != nil {
		return ledger.AppData{}, fmt.Errorf("persisted data is not valid JSON: %w", err)
	}
	if peek.SchemaVersion >= ledger.CurrentSchemaVersion {
		var data ledger.AppData
		if err := json.Unmarshal(raw, &data); err != nil {
			return ledger.AppData{}, fmt.Errorf("decode persisted data: %w", err)
		}
		return data, nil
	}

	g.logger().Info("legacy data detected, migrating",
		zap.Int("fromVersion", peek.SchemaVersion),
		zap.Int("toVersion", ledger.CurrentSchemaVersion))

	// Immutable copy of the raw blob before any transformation.
	backupKey := PreMigrationPrefix + strconv.FormatInt(g.now().UTC().Unix(), 10)
	if err := g.KV.Set(ctx, backupKey, raw); err != nil {
		g.logger().Warn("pre-migration backup failed, continuing",
			zap.String("key", backupKey), zap.Error(err))
	}

	data, err := normalize(raw)
	if err != nil {
		return ledger.AppData{}, err
	}
	data.SchemaVersion = ledger.CurrentSchemaVersion

	// Persist failure is non-fatal: the gate is idempotent, so the next
	// load simply migrates again.
	if err := g.persist(ctx, data); err != nil {
		g.logger().Warn("persisting migrated data failed", zap.Error(err))
	}
	return data, nil
}

func (g *Gate) persist(ctx context.Context, data ledger.AppData) error {
	blob, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("encode data: %w", err)
	}
	if err := g.KV.Set(ctx, DataKey, blob); err != nil {
		return fmt.Errorf("persist data: %w", err)
	}
	return nil
}

// =============================================================================
// LEGACY NORMALIZATION
// =============================================================================

func normalize(raw []byte) (ledger.AppData, error) {
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return ledger.AppData{}, fmt.Errorf("decode legacy data: %w", err)
	}

	data := ledger.Empty()

	for _, item := range records(doc, "workers") {
		data.Workers = append(data.Workers, ledger.Worker{
			ID:             ledger.WorkerID(str(item, "id")),
			Name:           str(item, "name"),
			Address:        str(item, "address"),
			Phone:          str(item, "phone"),
			OpeningBalance: num(item, "openingBalance", "opening_balance"),
		})
	}

	// Legacy stores sometimes carried opening balances as a separate
	// top-level map keyed by worker id; that wins over a zero field.
	if balances, ok := doc["openingBalances"].(map[string]any); ok {
		for i, w := range data.Workers {
			if v, ok := balances[string(w.ID)]; ok && w.OpeningBalance.IsZero() {
				data.Workers[i].OpeningBalance = coerceNumber(v)
			}
		}
	}

	for _, item := range records(doc, "categories") {
		data.Categories = append(data.Categories, ledger.Category{
			ID:   ledger.CategoryID(str(item, "id")),
			Name: str(item, "name"),
		})
	}

	for _, item := range records(doc, "subcategories") {
		sub := ledger.Subcategory{
			ID:   ledger.SubcategoryID(str(item, "id")),
			Name: str(item, "name"),
		}
		for _, id := range strList(item, "categoryIds", "category_ids") {
			sub.CategoryIDs = append(sub.CategoryIDs, ledger.CategoryID(id))
		}
		// Scalar form predates the set form.
		if len(sub.CategoryIDs) == 0 {
			if scalar := str(item, "categoryId", "category_id"); scalar != "" {
				sub.CategoryIDs = []ledger.CategoryID{ledger.CategoryID(scalar)}
			}
		}
		data.Subcategories = append(data.Subcategories, sub)
	}

	for _, item := range records(doc, "entries") {
		data.Entries = append(data.Entries, ledger.Entry{
			ID:            ledger.EntryID(str(item, "id")),
			WorkerID:      ledger.WorkerID(str(item, "workerId", "worker_id")),
			Date:          date(item, "date"),
			Status:        ledger.CanonicalStatus(str(item, "status")),
			WorkType:      ledger.CanonicalWorkType(str(item, "workType", "work_type")),
			CategoryID:    ledger.CategoryID(str(item, "categoryId", "category_id")),
			SubcategoryID: ledger.SubcategoryID(str(item, "subcategoryId", "subcategory_id")),
			WorkName:      str(item, "workName", "work_name"),
			Units:         num(item, "units"),
			RatePerUnit:   num(item, "ratePerUnit", "rate_per_unit"),
			Amount:        num(item, "amount"),
			Narration:     str(item, "narration"),
		})
	}

	for _, item := range records(doc, "payments") {
		data.Payments = append(data.Payments, ledger.Payment{
			ID:          ledger.PaymentID(str(item, "id")),
			WorkerID:    ledger.WorkerID(str(item, "workerId", "worker_id")),
			Date:        date(item, "date"),
			Amount:      num(item, "amount"),
			PaymentType: str(item, "paymentType", "payment_type"),
			Notes:       str(item, "notes"),
		})
	}

	for _, item := range records(doc, "deferredMessages", "outbox") {
		msg := ledger.OutboxMessage{
			ID:        ledger.MessageID(str(item, "id")),
			WorkerID:  ledger.WorkerID(str(item, "workerId", "worker_id")),
			Body:      str(item, "body", "message"),
			Channel:   str(item, "channel"),
			Status:    ledger.MessageStatus(str(item, "status")),
			CreatedAt: timestamp(item, "createdAt", "created_at"),
		}
		if msg.Status != ledger.MessageSent {
			msg.Status = ledger.MessagePending
		}
		if at := timestamp(item, "sentAt", "sent_at"); !at.IsZero() {
			msg.SentAt = &at
		}
		data.Outbox = append(data.Outbox, msg)
	}

	return data, nil
}

// =============================================================================
// DEFENSIVE COERCERS
// =============================================================================
// Every legacy field is read through one of these; the rest of the
// engine never sees a loose shape.

func records(doc map[string]any, keys ...string) []map[string]any {
	for _, key := range keys {
		items, ok := doc[key].([]any)
		if !ok {
			continue
		}
		out := make([]map[string]any, 0, len(items))
		for _, item := range items {
			if m, ok := item.(map[string]any); ok {
				out = append(out, m)
			}
		}
		return out
	}
	return nil
}

func str(m map[string]any, keys ...string) string {
	for _, key := range keys {
		if s, ok := m[key].(string); ok && s != "" {
			return s
		}
	}
	return ""
}

func strList(m map[string]any, keys ...string) []string {
	for _, key := range keys {
		items, ok := m[key].([]any)
		if !ok {
			continue
		}
		var out []string
		for _, item := range items {
			if s, ok := item.(string); ok && s != "" {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// num coerces defensively: numbers pass through, numeric strings parse,
// anything else is 0.
func num(m map[string]any, keys ...string) decimal.Decimal {
	for _, key := range keys {
		v, ok := m[key]
		if !ok {
			continue
		}
		return coerceNumber(v)
	}
	return decimal.Zero
}

func coerceNumber(v any) decimal.Decimal {
	switch n := v.(type) {
	case float64:
		return decimal.NewFromFloat(n)
	case string:
		d, err := decimal.NewFromString(n)
		if err != nil {
			return decimal.Zero
		}
		return d
	case json.Number:
		d, err := decimal.NewFromString(n.String())
		if err != nil {
			return decimal.Zero
		}
		return d
	default:
		return decimal.Zero
	}
}

func date(m map[string]any, keys ...string) ledger.Date {
	s := str(m, keys...)
	if s == "" {
		return ledger.Date{}
	}
	if d, err := ledger.ParseDate(s); err == nil {
		return d
	}
	// Some legacy rows stored full timestamps for the date field.
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return ledger.DateOf(t)
	}
	return ledger.Date{}
}

func timestamp(m map[string]any, keys ...string) time.Time {
	s := str(m, keys...)
	if s == "" {
		return time.Time{}
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t
	}
	return time.Time{}
}
