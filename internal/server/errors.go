package server

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"beatstore/internal/apperr"
	"beatstore/internal/dto"

	"github.com/labstack/echo/v4"
)

// errorHandler renders every error as {"error": code, "message": msg}.
// Details of 5xx errors stay in the log.
func errorHandler(log *slog.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		var (
			status  int
			code    string
			message string
		)
		var he *echo.HTTPError
		if errors.As(err, &he) {
			status = he.Code
			code = strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
			message = fmt.Sprint(he.Message)
		} else {
			status = apperr.HTTPStatus(err)
			code = apperr.Code(err)
			message = err.Error()
		}

		if status >= http.StatusInternalServerError {
			log.Error("request failed", "method", c.Request().Method, "path", c.Path(), "error", err)
			message = http.StatusText(status)
		}

		if c.Request().Method == http.MethodHead {
			err = c.NoContent(status)
		} else {
			err = c.JSON(status, &dto.ErrorResponse{Error: code, Message: message})
		}
		if err != nil {
			log.Error("write error response", "error", err)
		}
	}
}
