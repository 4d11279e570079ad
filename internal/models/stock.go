package models

import (
	"time"
)

type Verdict string

const (
	VerdictInStock       Verdict = "in_stock"
	VerdictOutOfStock    Verdict = "out_of_stock"
	VerdictIndeterminate Verdict = "indeterminate"
)

// Status is the last-known state persisted per item.
type Status string

const (
	StatusInStock    Status = "in_stock"
	StatusOutOfStock Status = "out_of_stock"
)

// StockResult is produced fresh per check and never persisted.
type StockResult struct {
	Verdict  Verdict `json:"verdict"`
	Reason   string  `json:"reason"`
	ImageURL string  `json:"image_url,omitempty"`
	LowStock bool    `json:"low_stock"`
	Title    string  `json:"title,omitempty"`
}

func Indeterminate(reason string) StockResult {
	return StockResult{Verdict: VerdictIndeterminate, Reason: reason}
}

type Store struct {
	Name    string `json:"name"`
	BaseURL string `json:"base_url"`
}

// Item keys are held by the configuration store, so Name is not serialized
// inside the item object itself.
type Item struct {
	Name         string  `json:"-"`
	URL          string  `json:"url"`
	Store        string  `json:"store"`
	LastStatus   *Status `json:"last_status"`
	LastLowStock *bool   `json:"last_low_stock"`
}

func (i Item) WasInStock() bool {
	return i.LastStatus != nil && *i.LastStatus == StatusInStock
}

func (i Item) WasLowStock() bool {
	return i.LastLowStock != nil && *i.LastLowStock
}

// StatusText renders the last-known state for summaries.
func (i Item) StatusText() string {
	if i.LastStatus == nil {
		return "unknown"
	}
	if i.WasInStock() && i.WasLowStock() {
		return "in stock (low)"
	}
	if i.WasInStock() {
		return "in stock"
	}
	return "out of stock"
}

// CheckOutcome is one line of a check cycle report.
type CheckOutcome struct {
	Item      string      `json:"item"`
	Store     string      `json:"store"`
	URL       string      `json:"url"`
	Result    StockResult `json:"result"`
	Attempts  int         `json:"attempts"`
	Alerted   bool        `json:"alerted"`
	Error     string      `json:"error,omitempty"`
	CheckedAt time.Time   `json:"checked_at"`
}

func (o CheckOutcome) StatusText() string {
	switch o.Result.Verdict {
	case VerdictInStock:
		if o.Result.LowStock {
			return "In Stock (low stock)"
		}
		return "In Stock"
	case VerdictOutOfStock:
		return "Out of Stock"
	default:
		return "Unknown"
	}
}

func StatusPtr(s Status) *Status { return &s }

func BoolPtr(b bool) *bool { return &b }
