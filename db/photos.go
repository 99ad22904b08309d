package db

import (
	"context"
	"fmt"
	"strconv"

	"memorybox/models"
)

// NewPhoto holds the fields supplied when appending to a collection.
type NewPhoto struct {
	ImageData string
	Caption   *string // Defaults to ""
	Angle     float64
	Radius    float64
	Group     *string // Empty or nil means no group
}

// PhotoPatch changes caption and/or group of an existing photo. Group.Set
// with a nil Value clears the group.
type PhotoPatch struct {
	Caption *string
	Group   models.Optional[string]
}

func normalizeGroup(group *string) *string {
	if group == nil || *group == "" {
		return nil
	}
	g := *group
	return &g
}

// nextPhotoIDLocked derives an id from the current time. Ids never repeat
// within a process and never collide inside photos. The caller holds mu.
func (db *Database) nextPhotoIDLocked(photos []models.Photo, now int64) string {
	candidate := now
	if candidate <= db.lastID {
		candidate = db.lastID + 1
	}
	taken := make(map[string]struct{}, len(photos))
	for _, p := range photos {
		taken[p.ID] = struct{}{}
	}
	for {
		if _, dup := taken[strconv.FormatInt(candidate, 10)]; !dup {
			break
		}
		candidate++
	}
	db.lastID = candidate
	return strconv.FormatInt(candidate, 10)
}

// --- Collection Operations ---

// ListPhotos returns a copy of the collection in insertion order. Unknown
// accounts yield an empty list.
func (db *Database) ListPhotos(email string) []models.Photo {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return models.ClonePhotos(db.doc.Photos[email])
}

// AppendPhoto adds a photo with a fresh id, creating the collection when
// the key is missing.
func (db *Database) AppendPhoto(ctx context.Context, email string, in NewPhoto) (models.Photo, error) {
	var created models.Photo
	err := db.mutate(ctx, func(doc *models.Document) (bool, error) {
		photos := doc.Photos[email]
		if photos == nil {
			photos = []models.Photo{}
		}
		now := db.nowMillis()
		created = models.Photo{
			ID:        db.nextPhotoIDLocked(photos, now),
			ImageData: in.ImageData,
			Angle:     in.Angle,
			Radius:    in.Radius,
			Group:     normalizeGroup(in.Group),
			CreatedAt: now,
		}
		if in.Caption != nil {
			created.Caption = *in.Caption
		}
		doc.Photos[email] = append(photos, created)
		return true, nil
	})
	if err != nil {
		return models.Photo{}, err
	}
	return created, nil
}

// PatchPhoto updates the provided fields of one photo.
func (db *Database) PatchPhoto(ctx context.Context, email, photoID string, patch PhotoPatch) (models.Photo, error) {
	var patched models.Photo
	err := db.mutate(ctx, func(doc *models.Document) (bool, error) {
		photos := doc.Photos[email]
		for i := range photos {
			if photos[i].ID != photoID {
				continue
			}
			if patch.Caption != nil {
				photos[i].Caption = *patch.Caption
			}
			if patch.Group.Set {
				photos[i].Group = normalizeGroup(patch.Group.Value)
			}
			patched = photos[i]
			return patch.Caption != nil || patch.Group.Set, nil
		}
		return false, fmt.Errorf("photo '%s': %w", photoID, ErrNotFound)
	})
	if err != nil {
		return models.Photo{}, err
	}
	return patched, nil
}

// RemovePhoto deletes one photo. Removing an unknown id is not an error.
func (db *Database) RemovePhoto(ctx context.Context, email, photoID string) error {
	return db.mutate(ctx, func(doc *models.Document) (bool, error) {
		photos, ok := doc.Photos[email]
		if !ok {
			return false, nil
		}
		kept := make([]models.Photo, 0, len(photos))
		for _, p := range photos {
			if p.ID != photoID {
				kept = append(kept, p)
			}
		}
		if len(kept) == len(photos) {
			return false, nil
		}
		doc.Photos[email] = kept
		return true, nil
	})
}

// ClearPhotos empties the collection, creating the key when absent.
func (db *Database) ClearPhotos(ctx context.Context, email string) error {
	return db.mutate(ctx, func(doc *models.Document) (bool, error) {
		if photos, ok := doc.Photos[email]; ok && len(photos) == 0 {
			return false, nil
		}
		doc.Photos[email] = []models.Photo{}
		return true, nil
	})
}
