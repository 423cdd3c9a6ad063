package main

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/mahaj/chatrelay/pkg/auth"
	"github.com/mahaj/chatrelay/pkg/chat"
)

func (a *app) postMessage(w http.ResponseWriter, r *http.Request) {
	u, _ := auth.UserFromContext(r.Context())
	var in chat.SendInput
	if err := decode(r, &in); err != nil {
		writeError(w, r, err, "")
		return
	}
	msg, err := a.svc.SendMessage(r.Context(), in, u, a.sendPolicy)
	if err != nil {
		writeError(w, r, err, "Failed to send message")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"message": "Message sent successfully",
		"data":    msg,
	})
}

type reactRequest struct {
	Emoji string `json:"emoji"`
}

func (a *app) react(w http.ResponseWriter, r *http.Request) {
	u, _ := auth.UserFromContext(r.Context())
	id, err := chat.ParseMessageID(chi.URLParam(r, "messageID"))
	if err != nil {
		writeError(w, r, err, "")
		return
	}
	var in reactRequest
	if err := decode(r, &in); err != nil {
		writeError(w, r, err, "")
		return
	}
	reactions, err := a.svc.ToggleReaction(r.Context(), id, in.Emoji, u)
	if err != nil {
		writeError(w, r, err, "Failed to update reaction")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message":   "Reaction updated successfully",
		"reactions": reactions,
	})
}
