package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"memorybox/db"
	"memorybox/utils"

	"github.com/gin-gonic/gin"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"
)

func isNotFound(err error) bool {
	return errors.Is(err, db.ErrNotFound)
}

// userKey returns the decoded :userId path parameter (an account email).
func userKey(c *gin.Context) string {
	return strings.TrimSpace(c.Param("userId"))
}

// readObject reads the request body and checks that it is one JSON object.
func readObject(c *gin.Context) ([]byte, bool) {
	body, err := c.GetRawData()
	if err != nil {
		bindError(c, err)
		return nil, false
	}
	if !gjson.ValidBytes(body) || !gjson.ParseBytes(body).IsObject() {
		utils.GinBadRequest(c, "Request body must be a JSON object.")
		return nil, false
	}
	return body, true
}

// stringField reads an optional string member. present reports whether the
// key exists; isNull whether it holds null.
func stringField(body []byte, key string) (value string, present, isNull bool, err error) {
	r := gjson.GetBytes(body, key)
	switch {
	case !r.Exists():
		return "", false, false, nil
	case r.Type == gjson.Null:
		return "", true, true, nil
	case r.Type == gjson.String:
		return r.String(), true, false, nil
	default:
		return "", true, false, fmt.Errorf("field '%s' must be a string or null", key)
	}
}

// --- List Users ---

// ListUsersHandler lists every account for browsing boxes.
// @Summary      List accounts
// @Description  Returns a summary of every account ordered by creation time, including how many photos each box holds.
// @Tags         Users
// @Produce      json
// @Success      200  {array}   models.AccountSummary "All accounts."
// @Router       /api/users [get]
func ListUsersHandler(c *gin.Context, deps *Deps) {
	c.JSON(http.StatusOK, deps.DB.ListAccounts())
}

// --- Get User ---

// GetUserHandler returns the public view of one account.
// @Summary      Get an account
// @Tags         Users
// @Produce      json
// @Param        userId path string true "Account email (percent-encoded)."
// @Success      200  {object}  models.AccountView "The account, without its password."
// @Failure      404  {object}  utils.APIError    "Not Found: no account with this email."
// @Router       /api/users/{userId} [get]
func GetUserHandler(c *gin.Context, deps *Deps) {
	account, err := deps.DB.GetAccount(userKey(c))
	if err != nil {
		if isNotFound(err) {
			utils.GinNotFound(c, "User not found.")
			return
		}
		respondError(c, deps, err)
		return
	}
	c.JSON(http.StatusOK, account)
}

// --- Update User ---

// UpdateUserRequest documents the PATCH body. Omitted fields are left
// unchanged; profilePhoto may be null to remove the photo.
type UpdateUserRequest struct {
	Name         *string `json:"name"`
	Username     *string `json:"username"`
	ProfilePhoto *string `json:"profilePhoto"`
}

// UpdateUserHandler applies a partial profile update.
// @Summary      Update an account profile
// @Description  Changes only the fields present in the body. A new username is validated and must not belong to another account.
// @Description  Send `"profilePhoto": null` to remove the profile photo.
// @Tags         Users
// @Accept       json
// @Produce      json
// @Param        userId path string true "Account email (percent-encoded)."
// @Param        profile body UpdateUserRequest true "Fields to change."
// @Success      200  {object}  models.AccountView "The updated account."
// @Failure      400  {object}  utils.APIError    "Bad Request: malformed body or username."
// @Failure      404  {object}  utils.APIError    "Not Found: no account with this email."
// @Failure      409  {object}  utils.APIError    "Conflict: the username is already taken."
// @Failure      503  {object}  utils.APIError    "Service Unavailable: the document could not be saved."
// @Router       /api/users/{userId} [patch]
func UpdateUserHandler(c *gin.Context, deps *Deps) {
	body, ok := readObject(c)
	if !ok {
		return
	}

	var update db.ProfileUpdate
	for _, key := range []string{"name", "username"} {
		value, present, isNull, err := stringField(body, key)
		if err == nil && present && isNull {
			err = fmt.Errorf("field '%s' cannot be null", key)
		}
		if err != nil {
			utils.GinBadRequest(c, err.Error())
			return
		}
		if !present {
			continue
		}
		v := value
		if key == "name" {
			update.Name = &v
		} else {
			update.Username = &v
		}
	}

	photo, present, isNull, err := stringField(body, "profilePhoto")
	if err != nil {
		utils.GinBadRequest(c, err.Error())
		return
	}
	if present {
		update.ProfilePhoto.Set = true
		if !isNull {
			update.ProfilePhoto.Value = &photo
		}
	}

	account, err := deps.DB.UpdateProfile(c.Request.Context(), userKey(c), update)
	if err != nil {
		respondError(c, deps, err)
		return
	}
	c.JSON(http.StatusOK, account)
}

// --- Delete User ---

// DeleteUserRequest confirms the deletion with the current password.
type DeleteUserRequest struct {
	Password string `json:"password" binding:"required"`
}

// DeleteUserHandler removes an account and its whole photo box.
// @Summary      Delete an account
// @Description  **This cannot be undone.** Removes the account together with every photo in its box. The current password is required.
// @Tags         Users
// @Accept       json
// @Produce      json
// @Param        userId path string true "Account email (percent-encoded)."
// @Param        confirmation body DeleteUserRequest true "Current password."
// @Success      200  {object}  SuccessResponse "The account was deleted."
// @Failure      400  {object}  utils.APIError  "Bad Request: the password is missing."
// @Failure      401  {object}  utils.APIError  "Unauthorized: the password is wrong."
// @Failure      404  {object}  utils.APIError  "Not Found: no account with this email."
// @Failure      503  {object}  utils.APIError  "Service Unavailable: the document could not be saved."
// @Router       /api/users/{userId} [delete]
func DeleteUserHandler(c *gin.Context, deps *Deps) {
	var req DeleteUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}

	email := userKey(c)
	account, err := deps.DB.GetAccount(email)
	if err != nil {
		respondError(c, deps, err)
		return
	}
	if _, err := deps.DB.Authenticate(account.Email, req.Password); err != nil {
		respondError(c, deps, err)
		return
	}
	if err := deps.DB.DeleteAccount(c.Request.Context(), account.Email); err != nil {
		respondError(c, deps, err)
		return
	}
	if err := deps.Resets.Invalidate(c.Request.Context(), account.Email); err != nil {
		utils.LoggerFrom(c, deps.Logger).Warn("failed to drop reset entry of deleted account", zap.Error(err))
	}
	c.JSON(http.StatusOK, SuccessResponse{Success: true})
}
