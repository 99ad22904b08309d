package api

import (
	"net/http"
	"strings"

	"memorybox/db"
	"memorybox/utils"

	"github.com/gin-gonic/gin"
)

// --- List Photos ---

// ListPhotosHandler returns the photos of one box in insertion order.
// @Summary      List photos
// @Description  Returns every photo of the box in the order they were added. An unknown box yields an empty list.
// @Tags         Photos
// @Produce      json
// @Param        userId path string true "Account email (percent-encoded)."
// @Success      200  {array}   models.Photo "The photos of the box."
// @Router       /api/photos/{userId} [get]
func ListPhotosHandler(c *gin.Context, deps *Deps) {
	c.JSON(http.StatusOK, deps.DB.ListPhotos(userKey(c)))
}

// --- Add Photo ---

// AddPhotoRequest is the body of POST /api/photos/{userId}.
type AddPhotoRequest struct {
	ImageData string  `json:"imageData" binding:"required"`
	Caption   *string `json:"caption"`
	Angle     float64 `json:"angle"`
	Radius    float64 `json:"radius"`
	Group     *string `json:"group"`
}

// AddPhotoHandler appends a photo to a box.
// @Summary      Add a photo
// @Description  Appends a photo to the box, creating the box when it does not exist yet. The server assigns the id and timestamp.
// @Description  `imageData` is stored as given (typically a data URL). An empty `group` is stored as null.
// @Tags         Photos
// @Accept       json
// @Produce      json
// @Param        userId path string true "Account email (percent-encoded)."
// @Param        photo body AddPhotoRequest true "Image data and optional caption, placement and group."
// @Success      200  {object}  models.Photo   "The stored photo."
// @Failure      400  {object}  utils.APIError "Bad Request: imageData is missing or the body is malformed."
// @Failure      413  {object}  utils.APIError "Request Entity Too Large: the body exceeds the configured limit."
// @Failure      503  {object}  utils.APIError "Service Unavailable: the document could not be saved."
// @Router       /api/photos/{userId} [post]
func AddPhotoHandler(c *gin.Context, deps *Deps) {
	key := userKey(c)
	if key == "" {
		utils.GinBadRequest(c, "User id is required.")
		return
	}
	var req AddPhotoRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}

	photo, err := deps.DB.AppendPhoto(c.Request.Context(), key, db.NewPhoto{
		ImageData: req.ImageData,
		Caption:   req.Caption,
		Angle:     req.Angle,
		Radius:    req.Radius,
		Group:     req.Group,
	})
	if err != nil {
		respondError(c, deps, err)
		return
	}
	c.JSON(http.StatusOK, photo)
}

// --- Update Photo ---

// UpdatePhotoRequest documents the PATCH body. group may be null to remove
// the photo from its group.
type UpdatePhotoRequest struct {
	Caption *string `json:"caption"`
	Group   *string `json:"group"`
}

// UpdatePhotoHandler changes the caption and/or group of a photo.
// @Summary      Update a photo
// @Description  Changes only the fields present in the body. `"group": null` removes the photo from its group.
// @Tags         Photos
// @Accept       json
// @Produce      json
// @Param        userId  path string true "Account email (percent-encoded)."
// @Param        photoId path string true "Photo id."
// @Param        photo body UpdatePhotoRequest true "Fields to change."
// @Success      200  {object}  models.Photo   "The updated photo."
// @Failure      400  {object}  utils.APIError "Bad Request: malformed body."
// @Failure      404  {object}  utils.APIError "Not Found: the photo does not exist in this box."
// @Failure      503  {object}  utils.APIError "Service Unavailable: the document could not be saved."
// @Router       /api/photos/{userId}/{photoId} [patch]
func UpdatePhotoHandler(c *gin.Context, deps *Deps) {
	body, ok := readObject(c)
	if !ok {
		return
	}

	var patch db.PhotoPatch
	caption, present, isNull, err := stringField(body, "caption")
	if err != nil {
		utils.GinBadRequest(c, err.Error())
		return
	}
	if isNull {
		utils.GinBadRequest(c, "field 'caption' cannot be null")
		return
	}
	if present {
		patch.Caption = &caption
	}

	group, present, isNull, err := stringField(body, "group")
	if err != nil {
		utils.GinBadRequest(c, err.Error())
		return
	}
	if present {
		patch.Group.Set = true
		if !isNull {
			patch.Group.Value = &group
		}
	}

	photo, err := deps.DB.PatchPhoto(c.Request.Context(), userKey(c), strings.TrimSpace(c.Param("photoId")), patch)
	if err != nil {
		if isNotFound(err) {
			utils.GinNotFound(c, "Photo not found.")
			return
		}
		respondError(c, deps, err)
		return
	}
	c.JSON(http.StatusOK, photo)
}

// --- Delete Photo ---

// DeletePhotoHandler removes one photo. Unknown ids succeed.
// @Summary      Delete a photo
// @Tags         Photos
// @Produce      json
// @Param        userId  path string true "Account email (percent-encoded)."
// @Param        photoId path string true "Photo id."
// @Success      200  {object}  SuccessResponse "The photo is gone."
// @Failure      503  {object}  utils.APIError  "Service Unavailable: the document could not be saved."
// @Router       /api/photos/{userId}/{photoId} [delete]
func DeletePhotoHandler(c *gin.Context, deps *Deps) {
	if err := deps.DB.RemovePhoto(c.Request.Context(), userKey(c), strings.TrimSpace(c.Param("photoId"))); err != nil {
		respondError(c, deps, err)
		return
	}
	c.JSON(http.StatusOK, SuccessResponse{Success: true})
}

// --- Clear Photos ---

// ClearPhotosHandler empties a box.
// @Summary      Clear a box
// @Description  Removes every photo of the box. The account itself is kept.
// @Tags         Photos
// @Produce      json
// @Param        userId path string true "Account email (percent-encoded)."
// @Success      200  {object}  SuccessResponse "The box is empty."
// @Failure      400  {object}  utils.APIError  "Bad Request: the user id is empty."
// @Failure      503  {object}  utils.APIError  "Service Unavailable: the document could not be saved."
// @Router       /api/photos/{userId} [delete]
func ClearPhotosHandler(c *gin.Context, deps *Deps) {
	key := userKey(c)
	if key == "" {
		utils.GinBadRequest(c, "User id is required.")
		return
	}
	if err := deps.DB.ClearPhotos(c.Request.Context(), key); err != nil {
		respondError(c, deps, err)
		return
	}
	c.JSON(http.StatusOK, SuccessResponse{Success: true})
}
