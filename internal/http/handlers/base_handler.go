// README: Base handler utilities (JSON helpers, error mapping).
package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"hemohive/internal/modules/assistant"
	"hemohive/internal/modules/credit"
	"hemohive/internal/modules/dispatch"
	"hemohive/internal/modules/driver"
	"hemohive/internal/modules/inventory"
	"hemohive/internal/modules/request"
)

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(c *gin.Context, status int, v any) {
	c.JSON(status, v)
}

func writeError(c *gin.Context, status int, msg string) {
	writeJSON(c, status, errorResponse{Error: msg})
}

// writeServiceError maps module sentinel errors onto HTTP statuses. Unknown
// errors become opaque 500s.
func writeServiceError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, dispatch.ErrBadRequest),
		errors.Is(err, request.ErrBadRequest),
		errors.Is(err, credit.ErrBadRequest),
		errors.Is(err, inventory.ErrBadRequest),
		errors.Is(err, driver.ErrBadRequest),
		errors.Is(err, assistant.ErrBadRequest):
		writeError(c, http.StatusBadRequest, err.Error())
	case errors.Is(err, request.ErrForbidden),
		errors.Is(err, credit.ErrForbidden),
		errors.Is(err, inventory.ErrForbidden):
		writeError(c, http.StatusForbidden, err.Error())
	case errors.Is(err, dispatch.ErrNotFound),
		errors.Is(err, request.ErrNotFound),
		errors.Is(err, credit.ErrNotFound),
		errors.Is(err, inventory.ErrNotFound),
		errors.Is(err, driver.ErrNotFound):
		writeError(c, http.StatusNotFound, err.Error())
	case errors.Is(err, dispatch.ErrInvalidState),
		errors.Is(err, dispatch.ErrConflict),
		errors.Is(err, dispatch.ErrOfferExpired),
		errors.Is(err, dispatch.ErrInvalidCode),
		errors.Is(err, dispatch.ErrDriverUnavailable),
		errors.Is(err, request.ErrInvalidState),
		errors.Is(err, request.ErrInsufficientStock),
		errors.Is(err, credit.ErrInvalidState),
		errors.Is(err, credit.ErrDuplicateRequest),
		errors.Is(err, credit.ErrConflict),
		errors.Is(err, inventory.ErrDuplicateBag),
		errors.Is(err, inventory.ErrInsufficientStock),
		errors.Is(err, inventory.ErrInvalidState),
		errors.Is(err, driver.ErrInvalidState):
		writeError(c, http.StatusConflict, err.Error())
	case errors.Is(err, assistant.ErrUpstreamUnavailable):
		writeError(c, http.StatusBadGateway, err.Error())
	default:
		writeError(c, http.StatusInternalServerError, "internal error")
	}
}
