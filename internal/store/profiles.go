package store

import (
	"context"
	"database/sql"
	"fmt"

	"gardenx/internal/models"
)

// CreateAccount creates a new authentication account
func (s *Store) CreateAccount(ctx context.Context, account *models.Account) error {
	query := `
		INSERT INTO accounts (id, email, password_hash)
		VALUES ($1, $2, $3)
		RETURNING created_at`

	return s.db.GetContext(ctx, &account.CreatedAt, query,
		account.ID, account.Email, account.PasswordHash)
}

// GetAccountByEmail retrieves an account by email. Returns nil, nil when
// no account exists.
func (s *Store) GetAccountByEmail(ctx context.Context, email string) (*models.Account, error) {
	var account models.Account
	err := s.db.GetContext(ctx, &account, "SELECT * FROM accounts WHERE email = $1", email)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &account, nil
}

// UpdatePassword replaces an account's password hash
func (s *Store) UpdatePassword(ctx context.Context, id, passwordHash string) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE accounts SET password_hash = $1 WHERE id = $2", passwordHash, id)
	if err != nil {
		return err
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("account not found: %s", id)
	}
	return nil
}

// DeleteAccount removes an authentication account. Used as compensation
// when profile creation fails after the account was created.
func (s *Store) DeleteAccount(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM accounts WHERE id = $1", id)
	return err
}

// CreateProfile creates a user profile
func (s *Store) CreateProfile(ctx context.Context, profile *models.UserProfile) error {
	query := `
		INSERT INTO user_profiles (id, first_name, last_name, email, phone, role, details)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at, updated_at`

	return s.db.GetContext(ctx, profile, query,
		profile.ID, profile.FirstName, profile.LastName, profile.Email,
		profile.Phone, profile.Role, profile.Details)
}

// GetProfile retrieves the profile for a user. Returns nil, nil when the
// user has not completed a profile.
func (s *Store) GetProfile(ctx context.Context, userID string) (*models.UserProfile, error) {
	var profile models.UserProfile
	err := s.db.GetContext(ctx, &profile, "SELECT * FROM user_profiles WHERE id = $1", userID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &profile, nil
}

// UpdateProfile updates the mutable profile fields
func (s *Store) UpdateProfile(ctx context.Context, profile *models.UserProfile) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE user_profiles
		SET first_name = $1, last_name = $2, phone = $3, role = $4, details = $5, updated_at = NOW()
		WHERE id = $6`,
		profile.FirstName, profile.LastName, profile.Phone, profile.Role,
		profile.Details, profile.ID)
	if err != nil {
		return err
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("profile not found: %s", profile.ID)
	}
	return nil
}

// GemsIDExists checks whether a GEMS id is already claimed by another
// profile. Best-effort pre-check for form errors; the unique index on
// (details->>gems id) is what actually guarantees uniqueness.
func (s *Store) GemsIDExists(ctx context.Context, gemsID, excludeUserID string) (bool, error) {
	var exists bool
	err := s.db.GetContext(ctx, &exists, `
		SELECT EXISTS(
			SELECT 1 FROM user_profiles
			WHERE COALESCE(details->'parent'->>'student_gems_id',
			               details->'staff'->>'staff_gems_id') = $1
			  AND id <> $2
		)`, gemsID, excludeUserID)
	return exists, err
}
