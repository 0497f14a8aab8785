package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"mime"
	"net/http"

	"github.com/btouchard/courier/internal/invite"
	"github.com/btouchard/courier/internal/middleware"
)

const maxInviteBody = 16 * 1024

type invitesHandler struct {
	svc *invite.Service
}

// inviteForm is the union of both intents; form fields and JSON keys share names.
type inviteForm struct {
	Intent   string `json:"intent"`
	ToUserID string `json:"toUserId"`
	Message  string `json:"message"`
	InviteID string `json:"inviteId"`
	Action   string `json:"action"`
}

type errorResponse struct {
	Error string `json:"error"`
}

type sendResponse struct {
	Success bool           `json:"success"`
	Invite  *invite.Invite `json:"invite"`
}

type respondResponse struct {
	Success bool          `json:"success"`
	Action  invite.Action `json:"action"`
}

func (h *invitesHandler) overview(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserIDFromContext(r.Context())
	ov, err := h.svc.Overview(r.Context(), userID)
	if err != nil {
		writeInviteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ov)
}

func (h *invitesHandler) action(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserIDFromContext(r.Context())

	form, err := parseInviteForm(w, r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "Invalid data"})
		return
	}

	switch form.Intent {
	case "send":
		if form.ToUserID == "" {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "Invalid data"})
			return
		}
		inv, err := h.svc.Send(r.Context(), userID, form.ToUserID, form.Message)
		if err != nil {
			writeInviteError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, sendResponse{Success: true, Invite: inv})

	case "respond":
		action, err := invite.ParseAction(form.Action)
		if err != nil || form.InviteID == "" {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "Invalid data"})
			return
		}
		if _, err := h.svc.Respond(r.Context(), userID, form.InviteID, action); err != nil {
			writeInviteError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, respondResponse{Success: true, Action: action})

	default:
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "Invalid intent"})
	}
}

func parseInviteForm(w http.ResponseWriter, r *http.Request) (inviteForm, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxInviteBody)

	var f inviteForm
	if ct, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type")); ct == "application/json" {
		err := json.NewDecoder(r.Body).Decode(&f)
		return f, err
	}

	if err := r.ParseForm(); err != nil {
		return f, err
	}
	f.Intent = r.PostForm.Get("intent")
	f.ToUserID = r.PostForm.Get("toUserId")
	f.Message = r.PostForm.Get("message")
	f.InviteID = r.PostForm.Get("inviteId")
	f.Action = r.PostForm.Get("action")
	return f, nil
}

// writeInviteError maps invite domain errors to HTTP responses.
func writeInviteError(w http.ResponseWriter, err error) {
	var (
		status int
		msg    string
	)
	switch {
	case errors.Is(err, invite.ErrUserNotFound):
		status, msg = http.StatusNotFound, "User not found"
	case errors.Is(err, invite.ErrInviteNotFound):
		status, msg = http.StatusNotFound, "Invite not found"
	case errors.Is(err, invite.ErrForbidden):
		status, msg = http.StatusForbidden, "Unauthorized"
	case errors.Is(err, invite.ErrAlreadyPending):
		status, msg = http.StatusBadRequest, "Invite already sent"
	case errors.Is(err, invite.ErrAlreadyResponded):
		status, msg = http.StatusBadRequest, "Invite already responded to"
	case errors.Is(err, invite.ErrSelfInvite), errors.Is(err, invite.ErrInvalidAction):
		status, msg = http.StatusBadRequest, "Invalid data"
	default:
		slog.Error("invite request failed", "error", err)
		status, msg = http.StatusInternalServerError, "Internal error"
	}
	writeJSON(w, status, errorResponse{Error: msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("writing response failed", "error", err)
	}
}
