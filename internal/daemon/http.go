package daemon

import (
	"encoding/json"
	"errors"
	"net/http"
)

type apiErrorBody struct {
	Error apiError `json:"error"`
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code ServiceErrorKind, message string) {
	writeJSON(w, status, apiErrorBody{Error: apiError{Code: string(code), Message: message}})
}

func writeServiceError(w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	status := http.StatusInternalServerError
	code := ServiceErrorUnavailable
	message := err.Error()
	var svcErr *ServiceError
	if errors.As(err, &svcErr) {
		code = svcErr.Kind
		switch svcErr.Kind {
		case ServiceErrorInvalidInput:
			status = http.StatusBadRequest
		case ServiceErrorUnauthorized:
			status = http.StatusUnauthorized
		case ServiceErrorNotFound:
			status = http.StatusNotFound
		case ServiceErrorInvalidState:
			status = http.StatusUnprocessableEntity
		case ServiceErrorConflict:
			status = http.StatusConflict
		default:
			status = http.StatusInternalServerError
		}
		if svcErr.Message != "" {
			message = svcErr.Message
		}
	}
	writeError(w, status, code, message)
}
