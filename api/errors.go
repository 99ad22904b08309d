package api

import (
	"errors"
	"fmt"
	"net/http"

	"memorybox/db"
	"memorybox/mailer"
	"memorybox/reset"
	"memorybox/utils"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// statusFor maps a core error to its HTTP status and public message.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, db.ErrInvalidUsername):
		return http.StatusBadRequest, "Username may only contain letters, numbers and underscores."
	case errors.Is(err, db.ErrInvalidInput):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, db.ErrDuplicateEmail):
		return http.StatusConflict, "An account with this email already exists."
	case errors.Is(err, db.ErrDuplicateUsername):
		return http.StatusConflict, "This username is already taken."
	case errors.Is(err, db.ErrNotFound):
		return http.StatusNotFound, "Not found."
	case errors.Is(err, db.ErrBadPassword):
		return http.StatusUnauthorized, "Invalid password."
	case errors.Is(err, reset.ErrNoEntry):
		return http.StatusNotFound, "No pending reset for this account. Request a new code."
	case errors.Is(err, reset.ErrExpired):
		return http.StatusGone, "The reset code has expired. Request a new code."
	case errors.Is(err, reset.ErrMismatch):
		return http.StatusBadRequest, "The reset code is incorrect."
	case errors.Is(err, reset.ErrNotVerified):
		return http.StatusForbidden, "The reset code has not been verified."
	case errors.Is(err, db.ErrStoreUnavailable):
		return http.StatusServiceUnavailable, "Storage is temporarily unavailable. Please retry."
	case errors.Is(err, mailer.ErrSendFailure):
		return http.StatusBadGateway, "Could not send the reset code. Please retry."
	default:
		return http.StatusInternalServerError, "Internal server error."
	}
}

// respondError writes the mapped error and records it on the context for
// the request logger.
func respondError(c *gin.Context, deps *Deps, err error) {
	status, message := statusFor(err)
	_ = c.Error(err)
	if status >= http.StatusInternalServerError {
		utils.LoggerFrom(c, deps.Logger).Error("request error", zap.Error(err))
	}
	utils.GinError(c, status, message)
}

// bindError reports a body that could not be read or decoded.
func bindError(c *gin.Context, err error) {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		utils.GinError(c, http.StatusRequestEntityTooLarge,
			fmt.Sprintf("Request body exceeds %d bytes.", tooLarge.Limit))
		return
	}
	utils.GinBadRequest(c, fmt.Sprintf("Invalid request body: %v", err))
}
