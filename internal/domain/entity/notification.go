package entity

import (
	"fmt"
	"strings"
	"time"
)

// MaxDeliveryAttempts is how many times a notification is tried before it is dropped.
const MaxDeliveryAttempts = 3

// Priority orders notifications in the delivery queue.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityNormal Priority = "normal"
)

// Rank maps the priority to a number where higher is delivered first.
func (p Priority) Rank() int {
	if p == PriorityHigh {
		return 1
	}
	return 0
}

// ParsePriority accepts "high" or "normal" (default for empty input).
func ParsePriority(s string) (Priority, error) {
	switch Priority(strings.ToLower(strings.TrimSpace(s))) {
	case PriorityHigh:
		return PriorityHigh, nil
	case PriorityNormal, "":
		return PriorityNormal, nil
	default:
		return "", &ValidationError{Field: "priority", Message: fmt.Sprintf("unknown priority %q", s)}
	}
}

// PriorityFromRank is the inverse of Rank.
func PriorityFromRank(rank int) Priority {
	if rank > 0 {
		return PriorityHigh
	}
	return PriorityNormal
}

// DeliveryStatus is the lifecycle state of a queued notification.
type DeliveryStatus string

const (
	StatusPending DeliveryStatus = "pending"
	StatusSent    DeliveryStatus = "sent"
	StatusDropped DeliveryStatus = "dropped"
)

const (
	maxTitleLength = 255
	maxBodyLength  = 4096
)

// QueuedNotification is a push notification waiting for delivery.
type QueuedNotification struct {
	ID          string         `json:"id"`
	RecipientID string         `json:"user_id"`
	Title       string         `json:"title"`
	Body        string         `json:"body"`
	Payload     map[string]any `json:"data,omitempty"`
	Priority    Priority       `json:"priority"`
	Status      DeliveryStatus `json:"status"`
	Attempts    int            `json:"attempts"`
	CreatedAt   time.Time      `json:"created_at"`
	ProcessedAt *time.Time     `json:"processed_at,omitempty"`
}

// Validate checks the fields a caller supplies when enqueuing.
func (n *QueuedNotification) Validate() error {
	if strings.TrimSpace(n.RecipientID) == "" {
		return &ValidationError{Field: "user_id", Message: "recipient is required"}
	}
	if strings.TrimSpace(n.Title) == "" {
		return &ValidationError{Field: "title", Message: "title is required"}
	}
	if len(n.Title) > maxTitleLength {
		return &ValidationError{Field: "title", Message: fmt.Sprintf("title must not exceed %d characters", maxTitleLength)}
	}
	if len(n.Body) > maxBodyLength {
		return &ValidationError{Field: "body", Message: fmt.Sprintf("body must not exceed %d characters", maxBodyLength)}
	}
	if _, err := ParsePriority(string(n.Priority)); err != nil {
		return err
	}
	return nil
}

// Exhausted reports whether the notification used all its delivery attempts.
func (n *QueuedNotification) Exhausted() bool {
	return n.Attempts >= MaxDeliveryAttempts
}
