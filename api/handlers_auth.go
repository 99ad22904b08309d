package api

import (
	"net/http"
	"strings"

	"memorybox/db"
	"memorybox/mailer"
	"memorybox/models"
	"memorybox/utils"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// --- Signup ---

// SignupRequest is the body of POST /api/auth/signup.
type SignupRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
	Name     string `json:"name"`
	Username string `json:"username" binding:"required"`
}

// AuthResponse wraps the account returned by signup and login.
type AuthResponse struct {
	Success bool               `json:"success"`
	User    models.AccountView `json:"user"`
}

// SignupHandler creates a new account with an empty photo box.
// @Summary      Create an account
// @Description  Registers a new account keyed by email. The username is case-insensitively unique and stored lower-cased.
// @Description  An empty photo collection is created together with the account.
// @Tags         Auth
// @Accept       json
// @Produce      json
// @Param        account body SignupRequest true "Email, password (at least 6 characters), display name and username."
// @Success      200  {object}  AuthResponse   "The account was created."
// @Failure      400  {object}  utils.APIError "Bad Request: missing fields, short password or malformed username."
// @Failure      409  {object}  utils.APIError "Conflict: the email or the username is already registered."
// @Failure      503  {object}  utils.APIError "Service Unavailable: the document could not be saved."
// @Router       /api/auth/signup [post]
func SignupHandler(c *gin.Context, deps *Deps) {
	var req SignupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}

	account, err := deps.DB.CreateAccount(c.Request.Context(), req.Email, req.Name, req.Username, req.Password)
	if err != nil {
		respondError(c, deps, err)
		return
	}
	c.JSON(http.StatusOK, AuthResponse{Success: true, User: account})
}

// --- Login ---

// LoginRequest is the body of POST /api/auth/login. Identifier may be an
// email or a username; Email is accepted for older clients.
type LoginRequest struct {
	Identifier string `json:"identifier"`
	Email      string `json:"email"`
	Password   string `json:"password" binding:"required"`
}

// LoginHandler checks a password against the account found by email or username.
// @Summary      Log in
// @Description  Resolves the identifier as an exact email first, then as a case-insensitive username, and checks the password.
// @Description  No session or token is issued; clients keep the returned account id.
// @Tags         Auth
// @Accept       json
// @Produce      json
// @Param        credentials body LoginRequest true "Identifier (email or username) and password."
// @Success      200  {object}  AuthResponse   "The credentials are valid."
// @Failure      400  {object}  utils.APIError "Bad Request: the identifier or password is missing."
// @Failure      401  {object}  utils.APIError "Unauthorized: no such account or wrong password."
// @Router       /api/auth/login [post]
func LoginHandler(c *gin.Context, deps *Deps) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}
	identifier := strings.TrimSpace(req.Identifier)
	if identifier == "" {
		identifier = strings.TrimSpace(req.Email)
	}
	if identifier == "" {
		utils.GinBadRequest(c, "Email or username is required.")
		return
	}

	account, err := deps.DB.Authenticate(identifier, req.Password)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, AuthResponse{Success: true, User: account})
	case isNotFound(err):
		utils.GinUnauthorized(c, "User not found.")
	default:
		respondError(c, deps, err)
	}
}

// --- Password Reset ---

// ForgotPasswordRequest starts a reset for the account behind Identifier.
type ForgotPasswordRequest struct {
	Identifier string `json:"identifier"`
	Email      string `json:"email"`
}

// ResendCodeRequest asks for a fresh code for an account email.
type ResendCodeRequest struct {
	Email string `json:"email" binding:"required"`
}

// CodeSentResponse confirms a delivered code. Email is the account key the
// next steps must use.
type CodeSentResponse struct {
	Success          bool   `json:"success"`
	Email            string `json:"email"`
	MaskedEmail      string `json:"maskedEmail"`
	ExpiresInSeconds int64  `json:"expiresInSeconds"`
}

// VerifyCodeRequest is the body of POST /api/auth/verify-code.
type VerifyCodeRequest struct {
	Email string `json:"email" binding:"required"`
	Code  string `json:"code" binding:"required"`
}

// ResetPasswordRequest is the body of POST /api/auth/reset-password.
type ResetPasswordRequest struct {
	Email       string `json:"email" binding:"required"`
	Code        string `json:"code" binding:"required"`
	NewPassword string `json:"newPassword" binding:"required"`
}

// SuccessResponse is returned by operations without a payload.
type SuccessResponse struct {
	Success bool `json:"success"`
}

// ForgotPasswordHandler issues a reset code and mails it to the account email.
// @Summary      Request a password reset code
// @Description  Finds the account by email or username, issues a 6-digit code and sends it by email.
// @Description  Any earlier code for the account stops working. When the email cannot be sent the new code is discarded so the request can simply be retried.
// @Tags         Auth
// @Accept       json
// @Produce      json
// @Param        request body ForgotPasswordRequest true "Email or username of the account."
// @Success      200  {object}  CodeSentResponse "The code was sent."
// @Failure      400  {object}  utils.APIError   "Bad Request: no identifier given."
// @Failure      404  {object}  utils.APIError   "Not Found: no account matches the identifier."
// @Failure      502  {object}  utils.APIError   "Bad Gateway: the email could not be sent."
// @Router       /api/auth/forgot-password [post]
func ForgotPasswordHandler(c *gin.Context, deps *Deps) {
	var req ForgotPasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}
	identifier := strings.TrimSpace(req.Identifier)
	if identifier == "" {
		identifier = strings.TrimSpace(req.Email)
	}
	if identifier == "" {
		utils.GinBadRequest(c, "Email or username is required.")
		return
	}

	account, err := deps.DB.Resolve(identifier)
	if err != nil {
		respondError(c, deps, err)
		return
	}
	sendCode(c, deps, account)
}

// ResendCodeHandler replaces the pending code of an account with a new one.
// @Summary      Resend the reset code
// @Description  Issues and sends a fresh code for the account email. The previous code, verified or not, is discarded.
// @Tags         Auth
// @Accept       json
// @Produce      json
// @Param        request body ResendCodeRequest true "Account email."
// @Success      200  {object}  CodeSentResponse "A new code was sent."
// @Failure      404  {object}  utils.APIError   "Not Found: no account with this email."
// @Failure      502  {object}  utils.APIError   "Bad Gateway: the email could not be sent."
// @Router       /api/auth/resend-code [post]
func ResendCodeHandler(c *gin.Context, deps *Deps) {
	var req ResendCodeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}
	account, err := deps.DB.GetAccount(strings.TrimSpace(req.Email))
	if err != nil {
		respondError(c, deps, err)
		return
	}
	sendCode(c, deps, account)
}

// sendCode issues a code for account and delivers it. A failed delivery
// drops the new entry so no unusable code stays pending.
func sendCode(c *gin.Context, deps *Deps, account models.AccountView) {
	ctx := c.Request.Context()
	logger := utils.LoggerFrom(c, deps.Logger)

	entry, err := deps.Resets.Issue(ctx, account.Email)
	if err != nil {
		respondError(c, deps, err)
		return
	}
	_, err = deps.Mailer.Send(ctx, mailer.Message{
		To:          account.Email,
		Code:        entry.Code,
		DisplayName: account.Name,
		TTL:         deps.Resets.TTL(),
	})
	if err != nil {
		if invErr := deps.Resets.Invalidate(ctx, account.Email); invErr != nil {
			logger.Error("failed to drop undelivered reset code", zap.Error(invErr))
		}
		respondError(c, deps, err)
		return
	}

	c.JSON(http.StatusOK, CodeSentResponse{
		Success:          true,
		Email:            account.Email,
		MaskedEmail:      utils.MaskEmail(account.Email),
		ExpiresInSeconds: int64(deps.Resets.TTL().Seconds()),
	})
}

// VerifyCodeHandler checks a reset code without consuming it.
// @Summary      Verify a reset code
// @Description  Marks the pending code as verified when it matches and has not expired. The same code must then be sent with the new password.
// @Tags         Auth
// @Accept       json
// @Produce      json
// @Param        request body VerifyCodeRequest true "Account email and the code from the email."
// @Success      200  {object}  SuccessResponse "The code is valid."
// @Failure      400  {object}  utils.APIError  "Bad Request: the code is wrong."
// @Failure      404  {object}  utils.APIError  "Not Found: no reset is pending for this email."
// @Failure      410  {object}  utils.APIError  "Gone: the code expired."
// @Router       /api/auth/verify-code [post]
func VerifyCodeHandler(c *gin.Context, deps *Deps) {
	var req VerifyCodeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}
	if err := deps.Resets.Verify(c.Request.Context(), strings.TrimSpace(req.Email), strings.TrimSpace(req.Code)); err != nil {
		respondError(c, deps, err)
		return
	}
	c.JSON(http.StatusOK, SuccessResponse{Success: true})
}

// ResetPasswordHandler consumes a verified code and stores the new password.
// @Summary      Reset the password
// @Description  Requires a code that was verified through /api/auth/verify-code. The code is consumed and cannot be used again.
// @Tags         Auth
// @Accept       json
// @Produce      json
// @Param        request body ResetPasswordRequest true "Account email, verified code and the new password (at least 6 characters)."
// @Success      200  {object}  SuccessResponse "The password was changed."
// @Failure      400  {object}  utils.APIError  "Bad Request: the new password is too short or the code is wrong."
// @Failure      403  {object}  utils.APIError  "Forbidden: the code was not verified first."
// @Failure      404  {object}  utils.APIError  "Not Found: no reset is pending for this email."
// @Failure      410  {object}  utils.APIError  "Gone: the code expired."
// @Failure      503  {object}  utils.APIError  "Service Unavailable: the new password could not be saved."
// @Router       /api/auth/reset-password [post]
func ResetPasswordHandler(c *gin.Context, deps *Deps) {
	var req ResetPasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}
	// Rejecting a bad password here keeps the code usable for another try.
	if err := db.ValidatePassword(req.NewPassword); err != nil {
		respondError(c, deps, err)
		return
	}

	ctx := c.Request.Context()
	email := strings.TrimSpace(req.Email)
	if err := deps.Resets.Consume(ctx, email, strings.TrimSpace(req.Code)); err != nil {
		respondError(c, deps, err)
		return
	}
	if err := deps.DB.SetPassword(ctx, email, req.NewPassword); err != nil {
		respondError(c, deps, err)
		return
	}
	c.JSON(http.StatusOK, SuccessResponse{Success: true})
}
