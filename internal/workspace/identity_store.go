package workspace

import (
	"context"
	"database/sql"
	"errors"
)

// IdentityStore owns user rows: lookups, credential verification and the
// refresh-token nonce. It never opens transactions; tx-scoped writes take
// the orchestrator's DBTX.
type IdentityStore struct {
	db      DBTX
	compare CredentialComparator
}

func NewIdentityStore(db DBTX) *IdentityStore {
	return &IdentityStore{db: db, compare: VerifyPassword}
}

const userColumns = `id, name, email, coalesce(avatar_url, ''), created_at`

// ByEmail looks up a user by email with no side effects.
func (s *IdentityStore) ByEmail(ctx context.Context, email string) (*User, error) {
	row := s.db.QueryRowContext(ctx, `
		select `+userColumns+`
		from users
		where email = $1
	`, email)
	var u User
	if err := row.Scan(&u.ID, &u.Name, &u.Email, &u.AvatarURL, &u.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &u, nil
}

// Login returns the user together with its current nonce only when the
// secret matches. Unknown email and wrong password are indistinguishable
// to the caller.
func (s *IdentityStore) Login(ctx context.Context, email, password string) (*UserWithNonce, error) {
	row := s.db.QueryRowContext(ctx, `
		select id, name, email, coalesce(avatar_url, ''), coalesce(password_hash, ''), token_nonce, created_at
		from users
		where email = $1
	`, email)
	var (
		u    UserWithNonce
		hash string
	)
	if err := row.Scan(&u.ID, &u.Name, &u.Email, &u.AvatarURL, &hash, &u.TokenNonce, &u.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrBadCredentials
		}
		return nil, err
	}
	if err := s.compare(hash, password); err != nil {
		return nil, ErrBadCredentials
	}
	return &u, nil
}

// Refresh returns the user and its nonce iff the presented nonce equals the
// stored one. Rotating the stored nonce invalidates every token minted
// against the previous value at once.
func (s *IdentityStore) Refresh(ctx context.Context, userID int64, nonce int16) (*UserWithNonce, error) {
	row := s.db.QueryRowContext(ctx, `
		select id, name, email, coalesce(avatar_url, ''), token_nonce, created_at
		from users
		where id = $1 and token_nonce = $2
	`, userID, nonce)
	var u UserWithNonce
	if err := row.Scan(&u.ID, &u.Name, &u.Email, &u.AvatarURL, &u.TokenNonce, &u.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &u, nil
}

// RefreshValid is the boolean form of Refresh.
func (s *IdentityStore) RefreshValid(ctx context.Context, userID int64, nonce int16) (bool, error) {
	var ok bool
	err := s.db.QueryRowContext(ctx, `
		select true
		from users
		where id = $1 and token_nonce = $2
	`, userID, nonce).Scan(&ok)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return ok, nil
}

// Create inserts a user inside the caller's transaction. An email collision
// yields ErrAlreadyExists instead of a storage failure so registration can
// treat it as an expected outcome.
func (s *IdentityStore) Create(ctx context.Context, tx DBTX, nu NewUser, passwordHash string) (*User, error) {
	row := tx.QueryRowContext(ctx, `
		insert into users (name, password_hash, email, avatar_url)
		values ($1, $2, $3, nullif($4, ''))
		on conflict (email) do nothing
		returning `+userColumns+`
	`, nu.Name, passwordHash, nu.Email, nu.AvatarURL)
	var u User
	if err := row.Scan(&u.ID, &u.Name, &u.Email, &u.AvatarURL, &u.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrAlreadyExists
		}
		return nil, constraintErr(err)
	}
	return &u, nil
}

// RotateNonce bumps the refresh-token nonce, invalidating all outstanding
// refresh tokens for the user, and returns the new value.
func (s *IdentityStore) RotateNonce(ctx context.Context, userID int64) (int16, error) {
	var nonce int16
	err := s.db.QueryRowContext(ctx, `
		update users
		set token_nonce = token_nonce + 1
		where id = $1
		returning token_nonce
	`, userID).Scan(&nonce)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, err
	}
	return nonce, nil
}
