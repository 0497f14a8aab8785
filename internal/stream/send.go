package stream

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/btouchard/courier/internal/notify"
)

const maxSendBody = 64 * 1024

// SendHandler exposes n over HTTP for dispatchers in other processes.
// It answers 400 on a bad body or unknown event type.
func SendHandler(n notify.Notifier) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxSendBody)

		var req notify.SendRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}
		if req.UserID == "" {
			http.Error(w, "userId is required", http.StatusBadRequest)
			return
		}
		if req.Event.Kind() == notify.KindUnknown {
			http.Error(w, "unknown event type", http.StatusBadRequest)
			return
		}

		delivered, err := n.Notify(r.Context(), req.UserID, req.Event)
		if err != nil {
			slog.Error("internal send failed", "user_id", req.UserID, "error", err)
			http.Error(w, "send failed", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(notify.SendResponse{Delivered: delivered})
	}
}
