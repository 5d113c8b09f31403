package handler

import (
	"errors"
	"net/http"

	"pettycash/internal/middleware"
	"pettycash/internal/model"
	"pettycash/internal/service"
	"pettycash/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// statusFor maps the service error taxonomy onto HTTP.
func statusFor(err error) int {
	switch {
	case errors.Is(err, service.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, service.ErrInvalidTransition), errors.Is(err, service.ErrInsufficientBalance):
		return http.StatusConflict
	case errors.Is(err, service.ErrInvalidCategory),
		errors.Is(err, service.ErrFieldValidation),
		errors.Is(err, service.ErrInvalidAmount),
		errors.Is(err, service.ErrAttachmentRequired):
		return http.StatusUnprocessableEntity
	case errors.Is(err, service.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, service.ErrStorageUnavailable):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func respondError(c *gin.Context, err error) {
	status := statusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError || status == http.StatusServiceUnavailable {
		_ = c.Error(err)
		msg = http.StatusText(status)
	}
	resp := response.ErrorWithCode(status, service.ErrorCode(err), msg)
	var fieldErr *service.FieldValidationError
	if errors.As(err, &fieldErr) {
		resp.Data = gin.H{"field": fieldErr.Field, "reason": fieldErr.Reason}
	}
	c.JSON(status, resp)
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, response.ErrorWithCode(http.StatusBadRequest, "BAD_REQUEST", msg))
}

// uuidParam parses a path parameter, writing a 400 on failure.
func uuidParam(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		badRequest(c, "Invalid "+name+": must be a UUID")
		return uuid.Nil, false
	}
	return id, true
}

// currentActor returns the authenticated caller, writing a 401 when absent.
func currentActor(c *gin.Context) (model.Actor, bool) {
	actor, ok := middleware.ActorFrom(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, response.Error(http.StatusUnauthorized, "Authorization is missing"))
		return model.Actor{}, false
	}
	return actor, true
}
