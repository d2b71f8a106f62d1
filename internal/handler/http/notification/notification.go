// Package notification accepts push notifications for asynchronous delivery.
package notification

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"feedstate/internal/domain/entity"
	hhttp "feedstate/internal/handler/http"
	"feedstate/internal/handler/http/respond"
	"feedstate/internal/usecase/notify"
	"feedstate/pkg/ratelimit"
)

// Enqueuer stores a notification for later delivery.
// *notify.Queue satisfies it.
type Enqueuer interface {
	Enqueue(ctx context.Context, n *entity.QueuedNotification) error
}

type createRequest struct {
	UserID   string         `json:"user_id"`
	Title    string         `json:"title"`
	Body     string         `json:"body"`
	Data     map[string]any `json:"data"`
	Priority string         `json:"priority"`
}

type createResponse struct {
	ID        string    `json:"id"`
	Status    string    `json:"status"`
	Priority  string    `json:"priority"`
	CreatedAt time.Time `json:"created_at"`
}

// CreateHandler serves POST /v1/notifications. It answers 202 once the
// notification is queued; delivery happens in the worker.
type CreateHandler struct {
	Queue Enqueuer
}

func (h CreateHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			respond.JSON(w, http.StatusRequestEntityTooLarge, map[string]string{"error": "request body too large"})
			return
		}
		respond.JSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
		return
	}

	n := &entity.QueuedNotification{
		RecipientID: req.UserID,
		Title:       req.Title,
		Body:        req.Body,
		Payload:     req.Data,
		Priority:    entity.Priority(req.Priority),
	}
	if err := h.Queue.Enqueue(r.Context(), n); err != nil {
		if errors.Is(err, notify.ErrQueueUnavailable) {
			err = respond.NewAppError(http.StatusServiceUnavailable, "notification queue unavailable", err)
		}
		respond.SafeError(w, http.StatusInternalServerError, err)
		return
	}

	respond.JSON(w, http.StatusAccepted, createResponse{
		ID:        n.ID,
		Status:    string(n.Status),
		Priority:  string(n.Priority),
		CreatedAt: n.CreatedAt,
	})
}

// Register mounts the notification routes behind auth and the
// send_notification guard.
func Register(mux *http.ServeMux, queue Enqueuer, auth func(http.Handler) http.Handler, limit func(action string) func(http.Handler) http.Handler) {
	const route = "POST /v1/notifications"
	mux.Handle(route, hhttp.Instrument(route,
		auth(limit(ratelimit.ActionNotify)(CreateHandler{Queue: queue}))))
}
