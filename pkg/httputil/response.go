package httputil

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	apperrors "github.com/jwalitptl/hms-api/pkg/errors"
	"github.com/jwalitptl/hms-api/pkg/validator"
)

// Response wraps all API responses
type Response struct {
	Status  string      `json:"status"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

func RespondWithSuccess(c *gin.Context, code int, data interface{}) {
	c.JSON(code, Response{Status: "success", Data: data})
}

// RespondWithError maps application errors to their HTTP status. Anything
// that is not an AppError is reported as a 500 without leaking its text.
func RespondWithError(c *gin.Context, err error) {
	statusCode := http.StatusInternalServerError
	message := "internal server error"

	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		statusCode = appErr.StatusCode()
		message = appErr.Message
	}

	if statusCode >= http.StatusInternalServerError {
		log.Error().Err(err).
			Str("path", c.Request.URL.Path).
			Str("request_id", c.GetString("request_id")).
			Msg("request failed")
	}
	c.AbortWithStatusJSON(statusCode, Response{Status: "error", Message: message})
}

// RespondWithBindError reports a request body or query that failed to bind.
func RespondWithBindError(c *gin.Context, err error) {
	RespondWithError(c, apperrors.Validation(validator.FormatError(err), err))
}

// ParseUUIDParam reads a path parameter as a UUID, writing a 400 on failure.
func ParseUUIDParam(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		RespondWithError(c, apperrors.Validationf("invalid %s", name))
		return uuid.Nil, false
	}
	return id, true
}
