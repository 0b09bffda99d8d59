/*
Package backup produces, validates, and restores versioned snapshots of
the entire dataset.

PURPOSE:
  Export serializes the live AppData into a self-describing document.
  Import validates a document's structure before any data is touched.
  Restore replaces the dataset wholesale - never a merge - behind an
  automatic pre-restore safety snapshot.

RESTORE STATE MACHINE:
  Idle -> SnapshottingCurrent -> Replacing -> Revalidating -> Idle

  No state is skipped. If SnapshottingCurrent fails the operation aborts
  before Replacing: the engine never replaces data without a safety
  copy. Once the shape check passes, restore always succeeds; integrity
  findings are surfaced as non-blocking warnings for user visibility.

OWNERSHIP:
  The manager only ever holds copies of entities. Export clones the live
  store; the live value is never mutated here.

SEE ALSO:
  - ledger/store.go: Clone and the collections serialized here
  - migrate/gate.go: the version stamp restored data receives
*/
package backup

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/warp/ledger-engine/kvstore"
	"github.com/warp/ledger-engine/ledger"
)

// =============================================================================
// DOCUMENT FORMAT
// =============================================================================

// DocumentVersion is the backup document format version, independent of
// the data schema version.
const DocumentVersion = "1.0"

const (
	// SafetyPrefix namespaces automatic pre-restore snapshots.
	SafetyPrefix = "ledger:safety:"
	// SnapshotPrefix namespaces explicitly saved exports.
	SnapshotPrefix = "ledger:backup:"

	// keyTimeLayout has fixed width so key order equals time order.
	keyTimeLayout = "2006-01-02T15:04:05.000000000Z"
)

// Document is the exported/imported snapshot. Metadata is informational
// only and never trusted on restore.
type Document struct {
	Version   string   `json:"version"`
	Timestamp string   `json:"timestamp"`
	AppData   AppData  `json:"appData"`
	Metadata  Metadata `json:"metadata"`
}

// AppData carries the five primary collections plus the legacy-shaped
// openingBalances map and the deferred-message outbox.
type AppData struct {
	Workers          []ledger.Worker            `json:"workers"`
	Categories       []ledger.Category          `json:"categories"`
	Subcategories    []ledger.Subcategory       `json:"subcategories"`
	Entries          []ledger.Entry             `json:"entries"`
	Payments         []ledger.Payment           `json:"payments"`
	OpeningBalances  map[string]decimal.Decimal `json:"openingBalances"`
	DeferredMessages []ledger.OutboxMessage     `json:"deferredMessages"`
}

type Metadata struct {
	TotalWorkers       int                        `json:"totalWorkers"`
	TotalCategories    int                        `json:"totalCategories"`
	TotalSubcategories int                        `json:"totalSubcategories"`
	TotalEntries       int                        `json:"totalEntries"`
	TotalPayments      int                        `json:"totalPayments"`
	CalculatedBalances map[string]decimal.Decimal `json:"calculatedBalances"`
	BackupDate         string                     `json:"backupDate"`
}

// ErrMalformedBackup is returned when a document that is valid JSON
// fails the structural shape check.
var ErrMalformedBackup = errors.New("malformed backup document")

// =============================================================================
// MANAGER
// =============================================================================

type Manager struct {
	KV     kvstore.Store
	Logger *zap.Logger
	Now    func() time.Time
}

func NewManager(kv kvstore.Store, logger *zap.Logger) *Manager {
	return &Manager{KV: kv, Logger: logger}
}

func (m *Manager) logger() *zap.Logger {
	if m.Logger == nil {
		return zap.NewNop()
	}
	return m.Logger
}

func (m *Manager) now() time.Time {
	if m.Now == nil {
		return time.Now()
	}
	return m.Now()
}

// =============================================================================
// EXPORT
// =============================================================================

// Export serializes a copy of the dataset. The live store is not
// mutated; the document holds clones only.
func (m *Manager) Export(data ledger.AppData) Document {
	snapshot := data.Clone()
	now := m.now().UTC()

	balances := make(map[string]decimal.Decimal, len(snapshot.Workers))
	openings := make(map[string]decimal.Decimal, len(snapshot.Workers))
	for _, w := range snapshot.Workers {
		balances[string(w.ID)] = ledger.Balance(snapshot, w.ID)
		openings[string(w.ID)] = w.OpeningBalance
	}

	return Document{
		Version:   DocumentVersion,
		Timestamp: now.Format(time.RFC3339),
		AppData: AppData{
			Workers:          snapshot.Workers,
			Categories:       snapshot.Categories,
			Subcategories:    snapshot.Subcategories,
			Entries:          snapshot.Entries,
			Payments:         snapshot.Payments,
			OpeningBalances:  openings,
			DeferredMessages: snapshot.Outbox,
		},
		Metadata: Metadata{
			TotalWorkers:       len(snapshot.Workers),
			TotalCategories:    len(snapshot.Categories),
			TotalSubcategories: len(snapshot.Subcategories),
			TotalEntries:       len(snapshot.Entries),
			TotalPayments:      len(snapshot.Payments),
			CalculatedBalances: balances,
			BackupDate:         now.Format(time.RFC3339),
		},
	}
}

// SaveExport persists an export document under a timestamped snapshot
// key and returns the key.
func (m *Manager) SaveExport(ctx context.Context, doc Document) (string, error) {
	blob, err := json.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("encode backup: %w", err)
	}
	key := SnapshotPrefix + m.now().UTC().Format(keyTimeLayout)
	if err := m.KV.Set(ctx, key, blob); err != nil {
		return "", fmt.Errorf("save backup %q: %w", key, err)
	}
	return key, nil
}

// =============================================================================
// IMPORT VALIDATION
// =============================================================================

// ValidateDocument performs the structural shape check: version present,
// appData present, each of the five collections present as a list
// (possibly empty). It touches no data.
func ValidateDocument(raw []byte) (*Document, error) {
	var probe struct {
		Version json.RawMessage `json:"version"`
		AppData *struct {
			Workers       json.RawMessage `json:"workers"`
			Categories    json.RawMessage `json:"categories"`
			Subcategories json.RawMessage `json:"subcategories"`
			Entries       json.RawMessage `json:"entries"`
			Payments      json.RawMessage `json:"payments"`
		} `json:"appData"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return nil, fmt.Errorf("%w: not valid JSON: %v", ErrMalformedBackup, err)
	}
	if len(probe.Version) == 0 {
		return nil, fmt.Errorf("%w: missing version", ErrMalformedBackup)
	}
	if probe.AppData == nil {
		return nil, fmt.Errorf("%w: missing appData", ErrMalformedBackup)
	}
	collections := map[string]json.RawMessage{
		"workers":       probe.AppData.Workers,
		"categories":    probe.AppData.Categories,
		"subcategories": probe.AppData.Subcategories,
		"entries":       probe.AppData.Entries,
		"payments":      probe.AppData.Payments,
	}
	for name, rawList := range collections {
		if len(rawList) == 0 {
			return nil, fmt.Errorf("%w: missing collection %q", ErrMalformedBackup, name)
		}
		var list []json.RawMessage
		if err := json.Unmarshal(rawList, &list); err != nil {
			return nil, fmt.Errorf("%w: collection %q is not a list", ErrMalformedBackup, name)
		}
	}

	var doc Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedBackup, err)
	}
	return &doc, nil
}

// =============================================================================
// RESTORE
// =============================================================================

type restorePhase string

const (
	phaseIdle         restorePhase = "Idle"
	phaseSnapshotting restorePhase = "SnapshottingCurrent"
	phaseReplacing    restorePhase = "Replacing"
	phaseRevalidating restorePhase = "Revalidating"
)

// Warning is a non-blocking integrity finding reported after a restore.
type Warning struct {
	Code    string `json:"code"`
	Record  string `json:"record"`
	Message string `json:"message"`
}

type RestoreResult struct {
	Data      ledger.AppData
	SafetyKey string
	Warnings  []Warning
}

// Restore validates raw, snapshots the current live state to a safety
// slot, then replaces all collections wholesale with the document's
// appData. Replace semantics, never a merge: blending two histories
// silently is the failure mode this guards against. Entry statuses and
// work types are canonicalized the same way the migration gate
// canonicalizes legacy data, so restored entries never reach the engine
// in a legacy shape.
//
// A shape-check failure aborts before the safety snapshot is written.
// A safety-snapshot failure aborts before anything is replaced.
func (m *Manager) Restore(ctx context.Context, live ledger.AppData, raw []byte) (*RestoreResult, error) {
	phase := phaseIdle

	doc, err := ValidateDocument(raw)
	if err != nil {
		return nil, err
	}

	// SnapshottingCurrent: never replace without a safety copy.
	phase = phaseSnapshotting
	safety := m.Export(live)
	blob, err := json.Marshal(safety)
	if err != nil {
		return nil, fmt.Errorf("encode safety snapshot: %w", err)
	}
	safetyKey := SafetyPrefix + m.now().UTC().Format(keyTimeLayout)
	if err := m.KV.Set(ctx, safetyKey, blob); err != nil {
		return nil, fmt.Errorf("restore aborted in %s: %w", phase, err)
	}
	m.logger().Info("safety snapshot written", zap.String("key", safetyKey))

	// Replacing: wholesale swap, re-stamped to the current schema.
	phase = phaseReplacing
	data := ledger.AppData{
		SchemaVersion: ledger.CurrentSchemaVersion,
		Workers:       doc.AppData.Workers,
		Categories:    doc.AppData.Categories,
		Subcategories: doc.AppData.Subcategories,
		Entries:       doc.AppData.Entries,
		Payments:      doc.AppData.Payments,
		Outbox:        doc.AppData.DeferredMessages,
	}
	for i, w := range data.Workers {
		if v, ok := doc.AppData.OpeningBalances[string(w.ID)]; ok && w.OpeningBalance.IsZero() {
			data.Workers[i].OpeningBalance = v
		}
	}
	// Backup documents come from outside the engine and may carry the
	// long legacy status spellings, the same shapes the migration gate
	// absorbs at load time. The restored data is stamped with the
	// current schema version, so this is its one pass through
	// canonicalization.
	for i, e := range data.Entries {
		data.Entries[i].Status = ledger.CanonicalStatus(string(e.Status))
		data.Entries[i].WorkType = ledger.CanonicalWorkType(string(e.WorkType))
	}

	// Revalidating: findings are reported, never restore failures.
	phase = phaseRevalidating
	warnings := integrityWarnings(data)
	if len(warnings) > 0 {
		m.logger().Warn("restore completed with integrity warnings",
			zap.String("phase", string(phase)), zap.Int("count", len(warnings)))
	}

	return &RestoreResult{Data: data, SafetyKey: safetyKey, Warnings: warnings}, nil
}

// integrityWarnings recomputes referential integrity over restored data.
func integrityWarnings(data ledger.AppData) []Warning {
	var warnings []Warning

	seenDates := make(map[string]bool)
	for _, e := range data.Entries {
		record := string(e.ID)
		if !e.Status.Valid() {
			warnings = append(warnings, Warning{
				Code: "invalid-status", Record: record,
				Message: "entry status is not a recognized attendance code and carries no balance weight",
			})
		}
		if _, ok := data.FindWorker(e.WorkerID); !ok {
			warnings = append(warnings, Warning{
				Code: "unknown-worker", Record: record,
				Message: "entry references a worker that does not exist",
			})
		}
		dateKey := string(e.WorkerID) + "|" + e.Date.String()
		if seenDates[dateKey] {
			warnings = append(warnings, Warning{
				Code: "duplicate-attendance", Record: record,
				Message: "multiple entries share a worker and date",
			})
		}
		seenDates[dateKey] = true

		if e.Status == ledger.StatusAbsent {
			continue
		}
		switch e.WorkType {
		case ledger.WorkCategoryBased:
			if e.CategoryID == "" {
				warnings = append(warnings, Warning{
					Code: "missing-category", Record: record,
					Message: "category-based entry has no category",
				})
			}
			if e.SubcategoryID == "" {
				warnings = append(warnings, Warning{
					Code: "missing-subcategory", Record: record,
					Message: "category-based entry has no subcategory",
				})
			} else if _, ok := data.FindSubcategory(e.SubcategoryID); !ok {
				warnings = append(warnings, Warning{
					Code: "missing-subcategory", Record: record,
					Message: "entry references a subcategory that does not exist",
				})
			}
		case ledger.WorkUnitBased:
			if e.WorkName == "" || !e.Units.IsPositive() || !e.RatePerUnit.IsPositive() {
				warnings = append(warnings, Warning{
					Code: "missing-unit-fields", Record: record,
					Message: "unit-based entry is missing work name, units, or rate",
				})
			}
		}
	}

	for _, p := range data.Payments {
		if _, ok := data.FindWorker(p.WorkerID); !ok {
			warnings = append(warnings, Warning{
				Code: "unknown-worker", Record: string(p.ID),
				Message: "payment references a worker that does not exist",
			})
		}
	}
	return warnings
}

// =============================================================================
// HISTORY & RETENTION
// =============================================================================

type SnapshotKind string

const (
	KindSafety SnapshotKind = "safety"
	KindExport SnapshotKind = "export"
)

type SnapshotInfo struct {
	Key  string       `json:"key"`
	Kind SnapshotKind `json:"kind"`
}

// History lists safety and export snapshots, newest first.
func (m *Manager) History(ctx context.Context) ([]SnapshotInfo, error) {
	type stamped struct {
		info SnapshotInfo
		ts   string
	}
	var all []stamped
	for prefix, kind := range map[string]SnapshotKind{
		SafetyPrefix:   KindSafety,
		SnapshotPrefix: KindExport,
	} {
		keys, err := m.KV.Keys(ctx, prefix)
		if err != nil {
			return nil, fmt.Errorf("list snapshots %q: %w", prefix, err)
		}
		for _, k := range keys {
			all = append(all, stamped{
				info: SnapshotInfo{Key: k, Kind: kind},
				ts:   strings.TrimPrefix(k, prefix),
			})
		}
	}
	// Timestamps are fixed width, so string order is time order. Sorting
	// on the timestamp rather than the whole key keeps the two prefixes
	// interleaved correctly.
	sort.Slice(all, func(i, j int) bool { return all[i].ts > all[j].ts })
	infos := make([]SnapshotInfo, len(all))
	for i, s := range all {
		infos[i] = s.info
	}
	return infos, nil
}

// Prune removes all but the keep most recent snapshots under prefix.
// Returns the number removed.
func (m *Manager) Prune(ctx context.Context, prefix string, keep int) (int, error) {
	if keep < 0 {
		keep = 0
	}
	keys, err := m.KV.Keys(ctx, prefix)
	if err != nil {
		return 0, fmt.Errorf("list snapshots %q: %w", prefix, err)
	}
	if len(keys) <= keep {
		return 0, nil
	}
	removed := 0
	for _, key := range keys[:len(keys)-keep] {
		if err := m.KV.Remove(ctx, key); err != nil {
			return removed, fmt.Errorf("prune %q: %w", key, err)
		}
		removed++
	}
	return removed, nil
}
