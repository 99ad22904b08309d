package db

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"memorybox/models"
	"memorybox/utils"

	"go.uber.org/zap"
)

// MinPasswordLength is the shortest password accepted on signup and reset.
const MinPasswordLength = 6

var usernamePattern = regexp.MustCompile(`^[A-Za-z0-9_]+$`)

// ProfileUpdate is a partial profile change. Nil pointers leave a field
// untouched; ProfilePhoto distinguishes "not provided" from "clear".
type ProfileUpdate struct {
	Name         *string
	Username     *string
	ProfilePhoto models.Optional[string]
}

// normalizeUsername validates a username as given and returns its stored
// form. Surrounding whitespace is malformed input, not trimmed.
func normalizeUsername(username string) (string, error) {
	if !usernamePattern.MatchString(username) {
		return "", ErrInvalidUsername
	}
	return strings.ToLower(username), nil
}

// ValidatePassword enforces MinPasswordLength.
func ValidatePassword(password string) error {
	if len(password) < MinPasswordLength {
		return fmt.Errorf("%w: password must be at least %d characters", ErrInvalidInput, MinPasswordLength)
	}
	return nil
}

// usernameTaken scans for another account holding name (already lower-cased).
func usernameTaken(doc *models.Document, name, exceptEmail string) bool {
	for email, acc := range doc.Users {
		if email != exceptEmail && strings.EqualFold(acc.Username, name) {
			return true
		}
	}
	return false
}

// --- Directory Operations ---

// CreateAccount registers a new account and its empty photo collection in
// one mutation.
func (db *Database) CreateAccount(ctx context.Context, email, name, username, password string) (models.AccountView, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		return models.AccountView{}, fmt.Errorf("%w: email is required", ErrInvalidInput)
	}
	if err := ValidatePassword(password); err != nil {
		return models.AccountView{}, err
	}
	stored, err := normalizeUsername(username)
	if err != nil {
		return models.AccountView{}, err
	}
	credential, err := db.verifier.Hash(password)
	if err != nil {
		return models.AccountView{}, err
	}

	var created models.Account
	err = db.mutate(ctx, func(doc *models.Document) (bool, error) {
		if _, exists := doc.Users[email]; exists {
			return false, ErrDuplicateEmail
		}
		if usernameTaken(doc, stored, email) {
			return false, ErrDuplicateUsername
		}
		created = models.Account{
			Name:      name,
			Username:  stored,
			Password:  credential,
			CreatedAt: db.nowMillis(),
		}
		doc.Users[email] = created
		doc.Photos[email] = []models.Photo{}
		return true, nil
	})
	if err != nil {
		return models.AccountView{}, err
	}

	db.logger.Info("created account", zap.String("email", utils.MaskEmail(email)), zap.String("username", stored))
	return created.View(email), nil
}

// resolveLocked finds an account by exact email, then by case-insensitive
// username. The caller holds mu.
func (db *Database) resolveLocked(identifier string) (string, models.Account, bool) {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return "", models.Account{}, false
	}
	if acc, ok := db.doc.Users[identifier]; ok {
		return identifier, acc, true
	}
	if email, ok := db.usernames[strings.ToLower(identifier)]; ok {
		return email, db.doc.Users[email], true
	}
	return "", models.Account{}, false
}

// Resolve maps a login identifier (email or username) to its account.
func (db *Database) Resolve(identifier string) (models.AccountView, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	email, acc, ok := db.resolveLocked(identifier)
	if !ok {
		return models.AccountView{}, fmt.Errorf("account '%s': %w", identifier, ErrNotFound)
	}
	return acc.View(email), nil
}

// Authenticate resolves identifier and checks password with the configured
// credential verifier.
func (db *Database) Authenticate(identifier, password string) (models.AccountView, error) {
	db.mu.RLock()
	email, acc, ok := db.resolveLocked(identifier)
	db.mu.RUnlock()

	if !ok {
		return models.AccountView{}, fmt.Errorf("account '%s': %w", identifier, ErrNotFound)
	}
	if !db.verifier.Verify(password, acc.Password) {
		return models.AccountView{}, ErrBadPassword
	}
	return acc.View(email), nil
}

// GetAccount returns the account stored under email.
func (db *Database) GetAccount(email string) (models.AccountView, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	acc, ok := db.doc.Users[email]
	if !ok {
		return models.AccountView{}, fmt.Errorf("account '%s': %w", email, ErrNotFound)
	}
	return acc.View(email), nil
}

// ListAccounts summarizes every account in deterministic order.
func (db *Database) ListAccounts() []models.AccountSummary {
	db.mu.RLock()
	defer db.mu.RUnlock()

	emails := orderedEmails(db.doc)
	out := make([]models.AccountSummary, 0, len(emails))
	for _, email := range emails {
		acc := db.doc.Users[email]
		out = append(out, models.AccountSummary{
			ID:         email,
			Name:       acc.Name,
			Username:   acc.Username,
			PhotoCount: len(db.doc.Photos[email]),
		})
	}
	return out
}

// UpdateProfile applies a partial update. A new username is validated and
// checked against every other account.
func (db *Database) UpdateProfile(ctx context.Context, email string, update ProfileUpdate) (models.AccountView, error) {
	var stored string
	if update.Username != nil {
		var err error
		if stored, err = normalizeUsername(*update.Username); err != nil {
			return models.AccountView{}, err
		}
	}

	var updated models.Account
	err := db.mutate(ctx, func(doc *models.Document) (bool, error) {
		acc, ok := doc.Users[email]
		if !ok {
			return false, fmt.Errorf("account '%s': %w", email, ErrNotFound)
		}
		if update.Name != nil {
			acc.Name = *update.Name
		}
		if update.Username != nil {
			if usernameTaken(doc, stored, email) {
				return false, ErrDuplicateUsername
			}
			acc.Username = stored
		}
		if update.ProfilePhoto.Set {
			acc.ProfilePhoto = update.ProfilePhoto.Value
		}
		updated = acc
		doc.Users[email] = acc
		return update.Name != nil || update.Username != nil || update.ProfilePhoto.Set, nil
	})
	if err != nil {
		return models.AccountView{}, err
	}
	return updated.View(email), nil
}

// SetPassword replaces the stored credential of an account.
func (db *Database) SetPassword(ctx context.Context, email, password string) error {
	if err := ValidatePassword(password); err != nil {
		return err
	}
	credential, err := db.verifier.Hash(password)
	if err != nil {
		return err
	}
	err = db.mutate(ctx, func(doc *models.Document) (bool, error) {
		acc, ok := doc.Users[email]
		if !ok {
			return false, fmt.Errorf("account '%s': %w", email, ErrNotFound)
		}
		acc.Password = credential
		doc.Users[email] = acc
		return true, nil
	})
	if err != nil {
		return err
	}
	db.logger.Info("updated password", zap.String("email", utils.MaskEmail(email)))
	return nil
}

// DeleteAccount removes an account together with its whole collection.
func (db *Database) DeleteAccount(ctx context.Context, email string) error {
	var removed int
	err := db.mutate(ctx, func(doc *models.Document) (bool, error) {
		if _, ok := doc.Users[email]; !ok {
			return false, fmt.Errorf("account '%s': %w", email, ErrNotFound)
		}
		removed = len(doc.Photos[email])
		delete(doc.Users, email)
		delete(doc.Photos, email)
		return true, nil
	})
	if err != nil {
		return err
	}
	db.logger.Info("deleted account", zap.String("email", utils.MaskEmail(email)), zap.Int("photos", removed))
	return nil
}
