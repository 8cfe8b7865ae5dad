package common

import (
	"encoding/json"
	"net/http"

	apperrors "membank-backend/pkg/errors"
)

// APIResponse is the envelope for all HTTP responses
type APIResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   *APIError   `json:"error,omitempty"`
}

// APIError carries the stable error-kind discriminator to clients
type APIError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// RespondJSON writes a success response
func RespondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(APIResponse{Success: true, Data: data})
}

// RespondError writes an error response, mapping AppError to its HTTP status
func RespondError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	apiErr := &APIError{Type: string(apperrors.ErrorTypeInternal), Message: "internal server error"}

	if appErr := apperrors.GetAppError(err); appErr != nil {
		if appErr.HTTPStatus != 0 {
			status = appErr.HTTPStatus
		}
		apiErr = &APIError{Type: string(appErr.Type), Message: appErr.Message, Code: appErr.Code}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(APIResponse{Success: false, Error: apiErr})
}
