/*
validate.go - Write gates

PURPOSE:
  Pure functions that accept a candidate mutation plus the current
  AppData snapshot and return nil (accepted) or a *Rejection with a
  reason from the closed taxonomy in errors.go. Nothing here mutates;
  callers apply the reducer only after a nil result.

ENTRY RULES:
  - worker must exist, date must be set, status must be a known code
  - at most one entry per (worker, date); edits exclude the entry's own id
  - non-Absent CategoryBased: category + subcategory set, subcategory
    exists, and the subcategory's association set contains the category
  - non-Absent UnitBased: work name set, units > 0, rate > 0
  - any non-Absent entry: amount > 0

NAME RULES:
  Worker and Category names are globally unique (case-insensitive,
  trimmed). Subcategory names are unique only among subcategories whose
  association sets overlap the candidate's; the same name may repeat
  freely across disjoint category sets.
*/
package ledger

// =============================================================================
// ENTRY VALIDATION
// =============================================================================

// ValidateEntry gates both creates and edits. For edits, e.ID excludes
// the entry itself from the duplicate-date check.
func ValidateEntry(e Entry, d AppData) *Rejection {
	if _, ok := d.FindWorker(e.WorkerID); !ok {
		return reject(MissingWorker, "workerId", "worker does not exist")
	}
	if e.Date.IsZero() {
		return reject(MissingDate, "date", "date is required")
	}
	if !e.Status.Valid() {
		return reject(InvalidStatus, "status", "status must be P, H, or A")
	}
	if existing, ok := d.EntryOn(e.WorkerID, e.Date); ok && existing.ID != e.ID {
		return reject(DuplicateAttendance, "date", "an entry already exists for this worker on "+e.Date.String())
	}
	if e.Status == StatusAbsent {
		return nil
	}

	switch e.WorkType {
	case WorkCategoryBased:
		if e.CategoryID == "" {
			return reject(MissingCategory, "categoryId", "category is required")
		}
		if e.SubcategoryID == "" {
			return reject(MissingSubcategory, "subcategoryId", "subcategory is required")
		}
		sub, ok := d.FindSubcategory(e.SubcategoryID)
		if !ok {
			return reject(MissingSubcategory, "subcategoryId", "subcategory does not exist")
		}
		if !sub.HasCategory(e.CategoryID) {
			return reject(SubcategoryNotAssociated, "subcategoryId", "subcategory is not associated with the category")
		}
	case WorkUnitBased:
		if e.WorkName == "" {
			return reject(MissingWorkName, "workName", "work name is required")
		}
		if !e.Units.IsPositive() {
			return reject(InvalidUnits, "units", "units must be greater than zero")
		}
		if !e.RatePerUnit.IsPositive() {
			return reject(InvalidRate, "ratePerUnit", "rate must be greater than zero")
		}
	default:
		return reject(InvalidAmount, "workType", "unknown work type")
	}

	if !e.Amount.IsPositive() {
		return reject(InvalidAmount, "amount", "amount must be greater than zero")
	}
	return nil
}

// =============================================================================
// PAYMENT VALIDATION
// =============================================================================

func ValidatePayment(p Payment, d AppData) *Rejection {
	if _, ok := d.FindWorker(p.WorkerID); !ok {
		return reject(MissingWorker, "workerId", "worker does not exist")
	}
	if p.Date.IsZero() {
		return reject(MissingDate, "date", "date is required")
	}
	if !p.Amount.IsPositive() {
		return reject(InvalidAmount, "amount", "amount must be greater than zero")
	}
	if p.PaymentType == "" {
		return reject(InvalidPaymentType, "paymentType", "payment type is required")
	}
	return nil
}

// =============================================================================
// NAME VALIDATION
// =============================================================================

// ValidateWorkerName checks the globally scoped, case-insensitive
// uniqueness rule. excludeID skips the worker being edited.
func ValidateWorkerName(name string, excludeID WorkerID, d AppData) *Rejection {
	normalized := NormalizeName(name)
	if normalized == "" {
		return reject(DuplicateName, "name", "name is required")
	}
	for _, w := range d.Workers {
		if w.ID != excludeID && NormalizeName(w.Name) == normalized {
			return reject(DuplicateName, "name", "a worker with this name already exists")
		}
	}
	return nil
}

func ValidateCategoryName(name string, excludeID CategoryID, d AppData) *Rejection {
	normalized := NormalizeName(name)
	if normalized == "" {
		return reject(DuplicateName, "name", "name is required")
	}
	for _, c := range d.Categories {
		if c.ID != excludeID && NormalizeName(c.Name) == normalized {
			return reject(DuplicateName, "name", "a category with this name already exists")
		}
	}
	return nil
}

// ValidateSubcategoryName scopes the duplicate check to subcategories
// whose association sets overlap categoryIDs. The same name under a
// disjoint set of categories is allowed.
func ValidateSubcategoryName(name string, categoryIDs []CategoryID, excludeID SubcategoryID, d AppData) *Rejection {
	normalized := NormalizeName(name)
	if normalized == "" {
		return reject(DuplicateName, "name", "name is required")
	}
	if len(categoryIDs) == 0 {
		return reject(MissingCategory, "categoryIds", "at least one category is required")
	}
	for _, id := range categoryIDs {
		if _, ok := d.FindCategory(id); !ok {
			return reject(MissingCategory, "categoryIds", "category does not exist")
		}
	}
	for _, s := range d.Subcategories {
		if s.ID == excludeID {
			continue
		}
		if NormalizeName(s.Name) == normalized && s.SharesCategory(categoryIDs) {
			return reject(DuplicateName, "name", "a subcategory with this name already exists in an overlapping category")
		}
	}
	return nil
}
