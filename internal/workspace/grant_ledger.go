package workspace

import (
	"context"
	"database/sql"
	"errors"
)

// GrantLedger owns permission rows and enforces the identity and ownership
// invariants: at most one grant per (workspace, user) and per
// (workspace, email), and Owner grants that survive the identity-based
// revoke path.
type GrantLedger struct {
	db    DBTX
	users *IdentityStore
}

func NewGrantLedger(db DBTX, users *IdentityStore) *GrantLedger {
	return &GrantLedger{db: db, users: users}
}

const grantColumns = `id, workspace_id, user_id, coalesce(user_email, ''), role, accepted, created_at`

func scanGrant(row *sql.Row) (*Grant, error) {
	var (
		g      Grant
		userID sql.NullInt64
	)
	if err := row.Scan(&g.ID, &g.WorkspaceID, &userID, &g.UserEmail, &g.Role, &g.Accepted, &g.CreatedAt); err != nil {
		return nil, err
	}
	if userID.Valid {
		g.UserID = &userID.Int64
	}
	return &g, nil
}

// RoleOf returns the user's role in a workspace, or ErrNotFound when no
// grant exists.
func (l *GrantLedger) RoleOf(ctx context.Context, userID, workspaceID int64) (Role, error) {
	var role Role
	err := l.db.QueryRowContext(ctx, `
		select role
		from permissions
		where user_id = $1 and workspace_id = $2
	`, userID, workspaceID).Scan(&role)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, err
	}
	return role, nil
}

// RoleByGrant resolves the grant's workspace first and then looks up the
// caller's own role there, so actions on a grant can be authorized by
// grant id alone.
func (l *GrantLedger) RoleByGrant(ctx context.Context, userID, grantID int64) (Role, error) {
	var role Role
	err := l.db.QueryRowContext(ctx, `
		select role
		from permissions
		where user_id = $1
		  and workspace_id = (select workspace_id from permissions where id = $2)
	`, userID, grantID).Scan(&role)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, err
	}
	return role, nil
}

// CanRead is the sole authorization predicate for read-class operations:
// any grant on the workspace, accepted or not, or a public visibility flag.
func (l *GrantLedger) CanRead(ctx context.Context, userID, workspaceID int64) (bool, error) {
	var ok bool
	err := l.db.QueryRowContext(ctx, `
		select exists(
			select 1 from permissions where user_id = $1 and workspace_id = $2
		) or exists(
			select 1 from workspaces where id = $2 and public = true
		)
	`, userID, workspaceID).Scan(&ok)
	if err != nil {
		return false, err
	}
	return ok, nil
}

// GrantByID fetches a single grant. Callers use it to pre-check Owner
// protection before the unconditional Revoke.
func (l *GrantLedger) GrantByID(ctx context.Context, grantID int64) (*Grant, error) {
	g, err := scanGrant(l.db.QueryRowContext(ctx, `
		select `+grantColumns+`
		from permissions
		where id = $1
	`, grantID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return g, nil
}

// Invite records a grant for an email on a Normal workspace. A registered
// email is keyed by user id, an unknown one by the bare address. Duplicate
// invites are absorbed as ErrAlreadyExists; Private and missing workspaces
// yield ErrNotFound. Owner cannot be granted through invites.
func (l *GrantLedger) Invite(ctx context.Context, email string, workspaceID int64, role Role) (*Invitation, error) {
	if role >= RoleOwner {
		return nil, ErrInvalidInput
	}

	user, err := l.users.ByEmail(ctx, email)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	var (
		invitee  Identity
		userArg  any
		emailArg any
	)
	if user != nil {
		invitee = Registered(user)
		userArg = user.ID
	} else {
		invitee = Unregistered(email)
		emailArg = email
	}

	// The kind gate and the conflict skip live in the statement itself so
	// the storage engine stays the final arbiter under concurrent inserts.
	var grantID int64
	err = l.db.QueryRowContext(ctx, `
		insert into permissions (workspace_id, user_id, user_email, role)
		select $1, $2, $3, $4
		from workspaces
		where workspaces.id = $1 and workspaces.kind = $5
		on conflict do nothing
		returning id
	`, workspaceID, userArg, emailArg, int16(role), int16(KindNormal)).Scan(&grantID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, l.inviteMiss(ctx, workspaceID)
	}
	if err != nil {
		return nil, err
	}
	return &Invitation{GrantID: grantID, Invitee: invitee}, nil
}

// inviteMiss disambiguates an absorbed insert: no shareable workspace vs. a
// duplicate grant.
func (l *GrantLedger) inviteMiss(ctx context.Context, workspaceID int64) error {
	var kind Kind
	err := l.db.QueryRowContext(ctx, `
		select kind from workspaces where id = $1
	`, workspaceID).Scan(&kind)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	if kind != KindNormal {
		return ErrNotFound
	}
	return ErrAlreadyExists
}

// Accept flips the acceptance flag and returns the updated grant.
func (l *GrantLedger) Accept(ctx context.Context, grantID int64) (*Grant, error) {
	g, err := scanGrant(l.db.QueryRowContext(ctx, `
		update permissions
		set accepted = true
		where id = $1
		returning `+grantColumns+`
	`, grantID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return g, nil
}

// Revoke deletes a grant unconditionally by id. Owner protection, where
// required, is the caller's pre-check (see Orchestrator and GrantByID).
func (l *GrantLedger) Revoke(ctx context.Context, grantID int64) (bool, error) {
	res, err := l.db.ExecContext(ctx, `
		delete from permissions where id = $1
	`, grantID)
	if err != nil {
		return false, err
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return aff != 0, nil
}

// RevokeByIdentity deletes the user's grant in a workspace except when it
// is the Owner grant, which is structurally unrevokable through this path.
func (l *GrantLedger) RevokeByIdentity(ctx context.Context, userID, workspaceID int64) (bool, error) {
	res, err := l.db.ExecContext(ctx, `
		delete from permissions
		where user_id = $1 and workspace_id = $2 and role <> $3
	`, userID, workspaceID, int16(RoleOwner))
	if err != nil {
		return false, err
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return aff != 0, nil
}

// Reconcile rewrites every grant keyed by the email to be keyed by the new
// user id, clearing the email. It runs inside the registration transaction,
// after the user insert and before commit, so claiming pending invites is
// all-or-nothing with user creation.
func (l *GrantLedger) Reconcile(ctx context.Context, tx DBTX, userID int64, email string) error {
	_, err := tx.ExecContext(ctx, `
		update permissions
		set user_id = $1, user_email = null
		where user_email = $2
	`, userID, email)
	return constraintErr(err)
}
