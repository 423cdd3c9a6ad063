package main

import (
	"errors"
	"net/http"

	"github.com/mahaj/chatrelay/pkg/apperr"
)

func (a *app) uploadFile(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, a.cfg.Server.MaxUploadBytes+1<<20)
	file, header, err := r.FormFile("file")
	if err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			writeError(w, r, apperr.New(apperr.Validation, "File too large"), "")
			return
		}
		writeError(w, r, apperr.Wrap(apperr.Validation, "No file uploaded", err), "")
		return
	}
	defer file.Close()

	stored, err := a.uploads.Save(header.Filename, header.Header.Get("Content-Type"), file)
	if err != nil {
		writeError(w, r, err, "Upload failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "File uploaded successfully",
		"file":    stored,
	})
}

type askRequest struct {
	Prompt string `json:"prompt"`
}

func (a *app) ask(w http.ResponseWriter, r *http.Request) {
	if a.ai == nil {
		writeError(w, r, apperr.New(apperr.Unavailable, "AI assistant is disabled"), "")
		return
	}
	var in askRequest
	if err := decode(r, &in); err != nil {
		writeError(w, r, err, "")
		return
	}
	reply, err := a.ai.Ask(r.Context(), in.Prompt)
	if err != nil {
		writeError(w, r, err, "Failed to get AI response")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"reply": reply})
}
