package models

// Account represents a user identity. The email is the map key in Document.Users
// and is therefore not repeated inside the record.
type Account struct {
	Name         string  `json:"name"`
	Username     string  `json:"username"`               // Stored lower-cased
	Password     string  `json:"password"`               // Stored credential, format depends on the verifier
	ProfilePhoto *string `json:"profilePhoto,omitempty"` // Opaque blob reference (data URL, path, ...)
	CreatedAt    int64   `json:"createdAt"`              // Unix milliseconds
}

// Photo is a single entry of an account's collection.
type Photo struct {
	ID        string  `json:"id"`
	ImageData string  `json:"imageData"`
	Caption   string  `json:"caption"`
	Angle     float64 `json:"angle"`
	Radius    float64 `json:"radius"`
	Group     *string `json:"group"` // Persisted as null when absent
	CreatedAt int64   `json:"createdAt"`
}

// Document is the single persisted object holding every account and collection.
type Document struct {
	Users  map[string]Account `json:"users"`  // Keyed by email
	Photos map[string][]Photo `json:"photos"` // Keyed by email, insertion ordered
}

// NewDocument returns an empty document with initialized maps.
func NewDocument() *Document {
	return &Document{
		Users:  make(map[string]Account),
		Photos: make(map[string][]Photo),
	}
}

// Clone returns a deep copy. Strings are immutable so only maps, slices and
// pointer fields need copying.
func (d *Document) Clone() *Document {
	out := &Document{
		Users:  make(map[string]Account, len(d.Users)),
		Photos: make(map[string][]Photo, len(d.Photos)),
	}
	for email, acc := range d.Users {
		acc.ProfilePhoto = cloneString(acc.ProfilePhoto)
		out.Users[email] = acc
	}
	for email, photos := range d.Photos {
		out.Photos[email] = ClonePhotos(photos)
	}
	return out
}

// ClonePhotos copies a collection, never returning nil.
func ClonePhotos(photos []Photo) []Photo {
	out := make([]Photo, len(photos))
	for i, p := range photos {
		p.Group = cloneString(p.Group)
		out[i] = p
	}
	return out
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

// AccountView is the public representation of an account. It never carries
// the stored credential.
type AccountView struct {
	ID           string  `json:"id"` // The account email
	Email        string  `json:"email"`
	Name         string  `json:"name"`
	Username     string  `json:"username"`
	ProfilePhoto *string `json:"profilePhoto,omitempty"`
	CreatedAt    int64   `json:"createdAt"`
}

// AccountSummary is used for browsing all boxes.
type AccountSummary struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Username   string `json:"username"`
	PhotoCount int    `json:"photoCount"`
}

// View builds the public representation of acc keyed by email.
func (acc Account) View(email string) AccountView {
	return AccountView{
		ID:           email,
		Email:        email,
		Name:         acc.Name,
		Username:     acc.Username,
		ProfilePhoto: cloneString(acc.ProfilePhoto),
		CreatedAt:    acc.CreatedAt,
	}
}

// Optional distinguishes a field that was not provided from one explicitly
// set to null. Set reports presence; Value is nil for an explicit null.
type Optional[T any] struct {
	Set   bool
	Value *T
}

// Some returns a present, non-null Optional.
func Some[T any](v T) Optional[T] {
	return Optional[T]{Set: true, Value: &v}
}

// Null returns a present Optional holding null.
func Null[T any]() Optional[T] {
	return Optional[T]{Set: true}
}
