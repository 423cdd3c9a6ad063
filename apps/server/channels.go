package main

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/mahaj/chatrelay/pkg/auth"
	"github.com/mahaj/chatrelay/pkg/chat"
)

func (a *app) listChannels(w http.ResponseWriter, r *http.Request) {
	chans, err := a.svc.PublicChannels(r.Context())
	if err != nil {
		writeError(w, r, err, "Failed to load channels")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"channels": chans})
}

func (a *app) createChannel(w http.ResponseWriter, r *http.Request) {
	u, _ := auth.UserFromContext(r.Context())
	var in chat.CreateChannelInput
	if err := decode(r, &in); err != nil {
		writeError(w, r, err, "")
		return
	}
	c, err := a.svc.CreateChannel(r.Context(), in, u)
	if err != nil {
		writeError(w, r, err, "Failed to create channel")
		return
	}
	views, err := a.svc.ChannelViews(r.Context(), c)
	if err != nil {
		writeError(w, r, err, "Failed to create channel")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"message": "Channel created successfully",
		"channel": views[0],
	})
}

func (a *app) joinChannel(w http.ResponseWriter, r *http.Request) {
	u, _ := auth.UserFromContext(r.Context())
	if _, err := a.svc.JoinChannel(r.Context(), chi.URLParam(r, "channelID"), u.ID); err != nil {
		writeError(w, r, err, "Failed to join channel")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Successfully joined channel"})
}

func (a *app) leaveChannel(w http.ResponseWriter, r *http.Request) {
	u, _ := auth.UserFromContext(r.Context())
	if err := a.svc.LeaveChannel(r.Context(), chi.URLParam(r, "channelID"), u.ID); err != nil {
		writeError(w, r, err, "Failed to leave channel")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Successfully left channel"})
}

func (a *app) channelMessages(w http.ResponseWriter, r *http.Request) {
	u, _ := auth.UserFromContext(r.Context())
	msgs, err := a.svc.History(r.Context(), chi.URLParam(r, "channelID"), u.ID)
	if err != nil {
		writeError(w, r, err, "Failed to retrieve history")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"messages": msgs})
}
