package notify

import (
	"github.com/maltedev/stock-alert-bot/internal/models"
)

// Decision is the outcome of comparing a fresh result with an item's
// last-known state.
type Decision struct {
	Emit bool
	// Persist is false when the stored state must stay as it is.
	Persist  bool
	Status   models.Status
	LowStock bool
}

// Decide alerts on items becoming available, never on them going away.
// Indeterminate results leave everything untouched.
func Decide(item models.Item, result models.StockResult, manual bool) Decision {
	switch result.Verdict {
	case models.VerdictOutOfStock:
		return Decision{Persist: true, Status: models.StatusOutOfStock, LowStock: false}

	case models.VerdictInStock:
		emit := manual ||
			!item.WasInStock() ||
			(result.LowStock && !item.WasLowStock())
		if !emit {
			return Decision{}
		}
		return Decision{Emit: true, Persist: true, Status: models.StatusInStock, LowStock: result.LowStock}

	default:
		return Decision{}
	}
}

// Apply writes the decision into item and reports whether anything changed.
func (d Decision) Apply(item *models.Item) bool {
	if !d.Persist {
		return false
	}
	changed := item.LastStatus == nil || *item.LastStatus != d.Status ||
		item.LastLowStock == nil || *item.LastLowStock != d.LowStock

	item.LastStatus = models.StatusPtr(d.Status)
	item.LastLowStock = models.BoolPtr(d.LowStock)
	return changed
}
