package httpapi

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// envelope is the JSend response shape shared by every API route.
type envelope struct {
	Status  string `json:"status"`
	Data    any    `json:"data,omitempty"`
	Message string `json:"message,omitempty"`
	Code    int    `json:"code,omitempty"`
}

func success(c echo.Context, data any) error {
	return successWithStatus(c, http.StatusOK, data)
}

func successWithStatus(c echo.Context, code int, data any) error {
	return c.JSON(code, envelope{Status: "success", Data: data})
}

func fail(c echo.Context, code int, message string, data any) error {
	return c.JSON(code, envelope{Status: "fail", Message: message, Data: data})
}

func failValidation(c echo.Context, fieldErrors map[string]string) error {
	return fail(c, http.StatusBadRequest, "Validation failed", map[string]any{
		"validation_errors": fieldErrors,
	})
}

func failNotFound(c echo.Context, message string) error {
	return fail(c, http.StatusNotFound, message, nil)
}

func failConflict(c echo.Context, message string, data any) error {
	return fail(c, http.StatusConflict, message, data)
}

// errorWithStatus reports a server-side failure; code is echoed in the body.
func errorWithStatus(c echo.Context, code int, message string) error {
	return c.JSON(code, envelope{Status: "error", Message: message, Code: code})
}

func internalError(c echo.Context, message string) error {
	return errorWithStatus(c, http.StatusInternalServerError, message)
}
