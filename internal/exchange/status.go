package exchange

import "strings"

// OrderStatus is the canonical order status set.
type OrderStatus string

const (
	StatusNew             OrderStatus = "NEW"
	StatusPartiallyFilled OrderStatus = "PARTIALLY_FILLED"
	StatusFilled          OrderStatus = "FILLED"
	StatusCancelled       OrderStatus = "CANCELLED"
	StatusExpired         OrderStatus = "EXPIRED"
	StatusRejected        OrderStatus = "REJECTED"
	StatusNotFound        OrderStatus = "NOT_FOUND"
)

// statusAliases maps every wire spelling seen across the five exchanges onto
// the canonical set. Untriggered/Triggered are conditional-order lifecycle
// states that count as working orders.
var statusAliases = map[string]OrderStatus{
	"NEW":              StatusNew,
	"OPEN":             StatusNew,
	"LIVE":             StatusNew,
	"ACTIVE":           StatusNew,
	"UNTRIGGERED":      StatusNew,
	"TRIGGERED":        StatusNew,
	"NOT_TRIGGERED":    StatusNew,
	"PARTIALLY_FILLED": StatusPartiallyFilled,
	"PARTIALLYFILLED":  StatusPartiallyFilled,
	"PARTIAL_FILL":     StatusPartiallyFilled,
	"PARTIALLY_FILL":   StatusPartiallyFilled,
	"FILLED":           StatusFilled,
	"FULL_FILL":        StatusFilled,
	"EXECUTED":         StatusFilled,
	"DONE":             StatusFilled,
	"CANCELLED":        StatusCancelled,
	"CANCELED":         StatusCancelled,
	"CANCEL":           StatusCancelled,
	"DEACTIVATED":      StatusCancelled,
	"PENDING_CANCEL":   StatusCancelled,
	"EXPIRED":          StatusExpired,
	"REJECTED":         StatusRejected,
	"FAILED":           StatusRejected,
	"NOT_FOUND":        StatusNotFound,
}

// NormalizeStatus maps a wire status onto the canonical set. Unknown statuses
// come back as NOT_FOUND so callers treat them as a missing order rather than
// silently inventing a working one.
func NormalizeStatus(wire string) OrderStatus {
	if s, ok := statusAliases[strings.ToUpper(strings.TrimSpace(wire))]; ok {
		return s
	}
	return StatusNotFound
}

// IsWorking reports whether the status still occupies the book.
func (s OrderStatus) IsWorking() bool {
	return s == StatusNew || s == StatusPartiallyFilled
}

// IsTerminal reports whether the order can no longer change.
func (s OrderStatus) IsTerminal() bool {
	switch s {
	case StatusFilled, StatusCancelled, StatusExpired, StatusRejected:
		return true
	}
	return false
}
