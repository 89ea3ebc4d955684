package queue

import (
	"strings"
	"time"
)

// Kind identifies the capture payload variant.
type Kind string

const (
	KindCard Kind = "card"
	KindQR   Kind = "qr"
)

// Status represents the lifecycle of a capture item.
//
// Transitions are pending -> inflight -> (removed | failed); failed items
// return to pending only through an explicit retry. Successfully delivered
// items are deleted rather than kept in a terminal state.
type Status string

const (
	StatusPending  Status = "pending"
	StatusInFlight Status = "inflight"
	StatusFailed   Status = "failed"
)

var allStatuses = []Status{StatusPending, StatusInFlight, StatusFailed}

var statusSet = func() map[Status]struct{} {
	set := make(map[Status]struct{}, len(allStatuses))
	for _, status := range allStatuses {
		set[status] = struct{}{}
	}
	return set
}()

// AllStatuses returns the ordered list of known statuses.
func AllStatuses() []Status {
	cp := make([]Status, len(allStatuses))
	copy(cp, allStatuses)
	return cp
}

// ParseStatus converts a string into a known Status.
func ParseStatus(value string) (Status, bool) {
	normalized := Status(strings.ToLower(strings.TrimSpace(value)))
	if normalized == "" {
		return "", false
	}
	_, ok := statusSet[normalized]
	return normalized, ok
}

// ParseKind converts a string into a known Kind.
func ParseKind(value string) (Kind, bool) {
	switch Kind(strings.ToLower(strings.TrimSpace(value))) {
	case KindCard:
		return KindCard, true
	case KindQR:
		return KindQR, true
	default:
		return "", false
	}
}

// Item represents a capture item persisted in SQLite.
type Item struct {
	ID         string
	Kind       Kind
	EventID    string
	EventName  string
	CapturedAt time.Time
	ImageData  []byte
	DeviceMeta string
	Token      string
	Status     Status
	Attempts   int
	LastError  string
	EnqueuedAt time.Time
	UpdatedAt  time.Time
	RetryAt    *time.Time
}

// Label returns the human-facing description used in progress reporting.
func (i *Item) Label() string {
	if i == nil {
		return ""
	}
	if name := strings.TrimSpace(i.EventName); name != "" {
		return name
	}
	return strings.TrimSpace(i.EventID)
}

// CardCapture is the payload produced by the card-scanning UI.
type CardCapture struct {
	EventID    string
	EventName  string
	CapturedAt time.Time
	Image      []byte
	DeviceMeta string
}

// QRScan is the payload produced by the QR-scanning UI.
type QRScan struct {
	EventID    string
	EventName  string
	CapturedAt time.Time
	Token      string
}

// Counts aggregates queue contents for the status surface. Pending includes
// in-flight items: an item being uploaded is still owed to the backend.
type Counts struct {
	PendingCards int
	PendingQR    int
	Failed       int
	Total        int
}

// Pending returns the combined undelivered count across both kinds.
func (c Counts) Pending() int {
	return c.PendingCards + c.PendingQR
}
