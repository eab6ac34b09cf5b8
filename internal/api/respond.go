package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/grant-funnel/internal/funnel"
	"github.com/sells-group/grant-funnel/internal/profile"
	"github.com/sells-group/grant-funnel/internal/store"
)

var errBadRequest = eris.New("api: bad request")

type errorBody struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Debug("api: write response", zap.Error(err))
	}
}

func writeErrorMessage(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorBody{Error: msg})
}

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	var terminal *funnel.TerminalStageError
	var initial *funnel.InitialStageError
	switch {
	case errors.Is(err, store.ErrNotFound), errors.Is(err, profile.ErrNotFound):
		return http.StatusNotFound
	case errors.As(err, &terminal), errors.As(err, &initial):
		return http.StatusConflict
	case errors.Is(err, errBadRequest), errors.Is(err, store.ErrInvalid), errors.Is(err, funnel.ErrReasonRequired):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		zap.L().Error("api: request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
		writeErrorMessage(w, status, "internal error")
		return
	}
	writeErrorMessage(w, status, err.Error())
}

func decodeBody(r *http.Request, v any) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	if err := json.NewDecoder(r.Body).Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return errors.Join(errBadRequest, err)
	}
	return nil
}
