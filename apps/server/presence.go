package main

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/mahaj/chatrelay/pkg/apperr"
	"github.com/mahaj/chatrelay/pkg/auth"
)

// channelUsers lists who is connected to a channel right now, from the
// presence read model the hub keeps up to date.
func (a *app) channelUsers(w http.ResponseWriter, r *http.Request) {
	u, _ := auth.UserFromContext(r.Context())
	channelID := chi.URLParam(r, "channelID")

	ids, err := a.presence.Members(r.Context(), channelID)
	if err != nil {
		writeError(w, r, apperr.Wrap(apperr.Internal, "read presence", err), "Failed to fetch presence")
		return
	}
	users, err := a.svc.OnlineMembers(r.Context(), channelID, u.ID, ids)
	if err != nil {
		writeError(w, r, err, "Failed to fetch presence")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"channelId": channelID, "users": users})
}

func (a *app) unread(w http.ResponseWriter, r *http.Request) {
	u, _ := auth.UserFromContext(r.Context())
	counts, err := a.svc.Unread(r.Context(), u.ID)
	if err != nil {
		writeError(w, r, err, "Failed to load unread counts")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"unread": counts})
}

func (a *app) markRead(w http.ResponseWriter, r *http.Request) {
	u, _ := auth.UserFromContext(r.Context())
	if err := a.svc.MarkRead(r.Context(), chi.URLParam(r, "channelID"), u.ID); err != nil {
		writeError(w, r, err, "Failed to reset unread count")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Marked as read"})
}
