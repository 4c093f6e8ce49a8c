package document

import (
	"errors"
	"net/http"

	"github.com/alimasry/docupdater/lock"
	"github.com/alimasry/docupdater/model"
)

// HTTPStatus maps a manager error to the status a host should answer with.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, model.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, model.ErrVersionMismatch):
		return http.StatusConflict
	case errors.Is(err, model.ErrFileTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, model.ErrNoLines):
		return http.StatusBadRequest
	case errors.Is(err, lock.ErrLockTimeout):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
