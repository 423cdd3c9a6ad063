package main

import (
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/goccy/go-json"

	"github.com/mahaj/chatrelay/pkg/apperr"
	"github.com/mahaj/chatrelay/pkg/logging"
)

const maxJSONBody = 1 << 20

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Warn().Err(err).Msg("failed to write response")
	}
}

// writeError renders err as {"error": msg}. Internal causes are logged and
// replaced by fallback so store details never reach clients.
func writeError(w http.ResponseWriter, r *http.Request, err error, fallback string) {
	kind := apperr.KindOf(err)
	msg := apperr.PublicMessage(err)
	if kind == apperr.Internal {
		logging.Error().Err(err).
			Str("request_id", middleware.GetReqID(r.Context())).
			Str("path", r.URL.Path).
			Msg("request failed")
		if fallback != "" {
			msg = fallback
		}
	}
	writeJSON(w, apperr.HTTPStatus(kind), map[string]string{"error": msg})
}

// decode reads a JSON body into v. An empty body leaves v at its zero value.
func decode(r *http.Request, v any) error {
	err := json.NewDecoder(io.LimitReader(r.Body, maxJSONBody)).Decode(v)
	if err == nil || err == io.EOF {
		return nil
	}
	return apperr.Wrap(apperr.Validation, "Invalid request body", err)
}

// requestLogger logs one line per request.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		logging.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("http request")
	})
}
