package main

import (
	"net/http"

	"github.com/mahaj/chatrelay/pkg/apperr"
	"github.com/mahaj/chatrelay/pkg/auth"
	"github.com/mahaj/chatrelay/pkg/chat"
	"github.com/mahaj/chatrelay/pkg/logging"
	"github.com/mahaj/chatrelay/pkg/model"
)

type authResponse struct {
	Message string      `json:"message"`
	Token   string      `json:"token"`
	User    *model.User `json:"user"`
}

func (a *app) register(w http.ResponseWriter, r *http.Request) {
	var in chat.RegisterInput
	if err := decode(r, &in); err != nil {
		writeError(w, r, err, "")
		return
	}
	u, err := a.svc.Register(r.Context(), in)
	if err != nil {
		writeError(w, r, err, "Registration failed")
		return
	}
	token, err := a.authn.Tokens().GenerateToken(u.ID)
	if err != nil {
		writeError(w, r, apperr.Wrap(apperr.Internal, "sign token", err), "Registration failed")
		return
	}
	writeJSON(w, http.StatusCreated, authResponse{Message: "User created successfully", Token: token, User: u})
}

func (a *app) login(w http.ResponseWriter, r *http.Request) {
	var in chat.LoginInput
	if err := decode(r, &in); err != nil {
		writeError(w, r, err, "")
		return
	}
	u, err := a.svc.Login(r.Context(), in)
	if err != nil {
		writeError(w, r, err, "Login failed")
		return
	}
	token, err := a.authn.Tokens().GenerateToken(u.ID)
	if err != nil {
		writeError(w, r, apperr.Wrap(apperr.Internal, "sign token", err), "Login failed")
		return
	}
	logging.Info().Str("user", u.Username).Msg("user logged in")
	writeJSON(w, http.StatusOK, authResponse{Message: "Login successful", Token: token, User: u})
}

func (a *app) me(w http.ResponseWriter, r *http.Request) {
	u, _ := auth.UserFromContext(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{"user": u})
}

func (a *app) logout(w http.ResponseWriter, r *http.Request) {
	u, _ := auth.UserFromContext(r.Context())
	if err := a.svc.SetOnline(r.Context(), u.ID, false); err != nil {
		writeError(w, r, err, "Logout failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Logout successful"})
}
