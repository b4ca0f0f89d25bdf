package responses

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"

	pkgerrors "github.com/tillpoint/terminal-core/pkg/errors"
	"github.com/tillpoint/terminal-core/pkg/logger"
)

type successEnvelope struct {
	Data any `json:"data"`
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

type errorEnvelope struct {
	Error apiError `json:"error"`
}

func WriteSuccess(w http.ResponseWriter, data any) {
	WriteSuccessStatus(w, http.StatusOK, data)
}

func WriteSuccessStatus(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, successEnvelope{Data: data})
}

func WriteError(ctx context.Context, logg *logger.Logger, w http.ResponseWriter, err error) {
	if err == nil {
		err = errors.New("unknown error")
	}

	typed := pkgerrors.As(err)
	if typed == nil {
		typed = pkgerrors.Wrap(pkgerrors.CodeInternal, err, "unexpected error")
	}

	meta := pkgerrors.MetadataFor(typed.Code())

	msg := meta.PublicMessage
	switch typed.Code() {
	case pkgerrors.CodeValidation,
		pkgerrors.CodeNotFound,
		pkgerrors.CodeDeclined,
		pkgerrors.CodeStateConflict,
		pkgerrors.CodeReaderDegraded:
		if m := typed.Message(); m != "" {
			msg = m
		}
	}

	payload := errorEnvelope{
		Error: apiError{
			Code:    string(typed.Code()),
			Message: msg,
		},
	}
	if details := typed.Details(); details != nil {
		payload.Error.Details = details
	}

	if logg != nil {
		ctx = logg.WithFields(ctx, map[string]any{
			"error":      err.Error(),
			"error_code": string(typed.Code()),
		})
		logg.Error(ctx, "request.error", err)
	}

	writeJSON(w, httpStatus(typed.Code()), payload)
}

// httpStatus maps the error taxonomy onto wire statuses for the local ops
// surface.
func httpStatus(code pkgerrors.Code) int {
	switch code {
	case pkgerrors.CodeValidation:
		return http.StatusBadRequest
	case pkgerrors.CodeNotFound:
		return http.StatusNotFound
	case pkgerrors.CodeDeclined:
		return http.StatusPaymentRequired
	case pkgerrors.CodeReaderDegraded, pkgerrors.CodeStateConflict, pkgerrors.CodeSyncConflict:
		return http.StatusConflict
	case pkgerrors.CodeNetwork:
		return http.StatusServiceUnavailable
	case pkgerrors.CodeDevice:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf(`{"level":"error","msg":"failed to encode response","err":"%v"}`, err)
	}
}
