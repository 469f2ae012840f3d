package workspace

import (
	"context"
	"database/sql"
	"errors"
)

// WorkspaceStore owns workspace rows and the queries that resolve their
// detail and membership views.
type WorkspaceStore struct {
	db DBTX
}

func NewWorkspaceStore(db DBTX) *WorkspaceStore {
	return &WorkspaceStore{db: db}
}

const workspaceColumns = `id, public, kind, created_at`

// CreateWithOwner inserts a workspace row and its accepted Owner grant as
// one unit inside the caller's transaction. It must never open a
// transaction of its own.
func (s *WorkspaceStore) CreateWithOwner(ctx context.Context, tx DBTX, userID int64, kind Kind) (Workspace, error) {
	var ws Workspace
	row := tx.QueryRowContext(ctx, `
		insert into workspaces (public, kind)
		values (false, $1)
		returning `+workspaceColumns+`
	`, int16(kind))
	if err := row.Scan(&ws.ID, &ws.Public, &ws.Kind, &ws.CreatedAt); err != nil {
		return Workspace{}, err
	}
	if _, err := tx.ExecContext(ctx, `
		insert into permissions (workspace_id, user_id, role, accepted)
		values ($1, $2, $3, true)
	`, ws.ID, userID, int16(RoleOwner)); err != nil {
		return Workspace{}, constraintErr(err)
	}
	return ws, nil
}

// Detail resolves a workspace together with its owner and accepted member
// count. Private workspaces are opaque to introspection: the detail record
// discloses neither owner nor members.
func (s *WorkspaceStore) Detail(ctx context.Context, id int64) (*WorkspaceDetail, error) {
	var ws Workspace
	err := s.db.QueryRowContext(ctx, `
		select `+workspaceColumns+`
		from workspaces
		where id = $1
	`, id).Scan(&ws.ID, &ws.Public, &ws.Kind, &ws.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if ws.Kind == KindPrivate {
		return &WorkspaceDetail{Workspace: ws}, nil
	}

	var owner User
	err = s.db.QueryRowContext(ctx, `
		select u.id, u.name, u.email, coalesce(u.avatar_url, ''), u.created_at
		from permissions p
		join users u on u.id = p.user_id
		where p.workspace_id = $1 and p.role = $2
	`, id, int16(RoleOwner)).Scan(&owner.ID, &owner.Name, &owner.Email, &owner.AvatarURL, &owner.CreatedAt)
	if err != nil {
		return nil, err
	}

	var count int64
	err = s.db.QueryRowContext(ctx, `
		select count(id)
		from permissions
		where workspace_id = $1 and accepted = true
	`, id).Scan(&count)
	if err != nil {
		return nil, err
	}

	return &WorkspaceDetail{Workspace: ws, Owner: &owner, MemberCount: count}, nil
}

// Update sets the visibility flag. Missing ids and Private workspaces are
// treated identically: there is no such mutable workspace.
func (s *WorkspaceStore) Update(ctx context.Context, id int64, public bool) (*Workspace, error) {
	var ws Workspace
	err := s.db.QueryRowContext(ctx, `
		update workspaces
		set public = $1
		where id = $2 and kind = $3
		returning `+workspaceColumns+`
	`, public, id, int16(KindNormal)).Scan(&ws.ID, &ws.Public, &ws.Kind, &ws.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &ws, nil
}

// Delete removes a Normal workspace; grants go with it via cascade. The
// bool is an idempotency signal, not an error.
func (s *WorkspaceStore) Delete(ctx context.Context, id int64) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		delete from workspaces
		where id = $1 and kind = $2
	`, id, int16(KindNormal))
	if err != nil {
		return false, err
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return aff != 0, nil
}

// ListForUser returns every workspace the user holds any grant in,
// regardless of acceptance state, with the user's role.
func (s *WorkspaceStore) ListForUser(ctx context.Context, userID int64) ([]Membership, error) {
	rows, err := s.db.QueryContext(ctx, `
		select w.id, w.public, w.kind, w.created_at, p.role
		from permissions p
		join workspaces w on w.id = p.workspace_id
		where p.user_id = $1
		order by w.created_at
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Membership
	for rows.Next() {
		var m Membership
		if err := rows.Scan(&m.ID, &m.Public, &m.Kind, &m.CreatedAt, &m.Role); err != nil {
			return nil, err
		}
		result = append(result, m)
	}
	return result, rows.Err()
}

// Members lists every grant in a workspace joined with the registered user
// it points to; pending email invites come back with a nil user.
func (s *WorkspaceStore) Members(ctx context.Context, workspaceID int64) ([]Member, error) {
	rows, err := s.db.QueryContext(ctx, `
		select p.id, p.workspace_id, p.user_id, coalesce(p.user_email, ''), p.role, p.accepted, p.created_at,
		       u.id, u.name, u.email, coalesce(u.avatar_url, ''), u.created_at
		from permissions p
		left join users u on u.id = p.user_id
		where p.workspace_id = $1
		order by p.created_at
	`, workspaceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Member
	for rows.Next() {
		var (
			m        Member
			userID   sql.NullInt64
			uID      sql.NullInt64
			uName    sql.NullString
			uEmail   sql.NullString
			uAvatar  sql.NullString
			uCreated sql.NullTime
		)
		if err := rows.Scan(&m.Grant.ID, &m.WorkspaceID, &userID, &m.UserEmail, &m.Role, &m.Accepted, &m.Grant.CreatedAt,
			&uID, &uName, &uEmail, &uAvatar, &uCreated); err != nil {
			return nil, err
		}
		if userID.Valid {
			m.Grant.UserID = &userID.Int64
		}
		if uID.Valid {
			m.User = &User{
				ID:        uID.Int64,
				Name:      uName.String,
				Email:     uEmail.String,
				AvatarURL: uAvatar.String,
				CreatedAt: uCreated.Time,
			}
		}
		result = append(result, m)
	}
	return result, rows.Err()
}

// MemberByEmail resolves an email to a registered or unregistered identity
// and reports whether it already holds a grant in the workspace. Callers
// use it to decide between "add member" and "send invite" flows.
func (s *WorkspaceStore) MemberByEmail(ctx context.Context, users *IdentityStore, workspaceID int64, email string) (UserInWorkspace, error) {
	user, err := users.ByEmail(ctx, email)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return UserInWorkspace{}, err
	}

	var (
		invitee Identity
		query   string
		arg     any
	)
	if user != nil {
		invitee = Registered(user)
		query = `select true from permissions where workspace_id = $1 and user_id = $2`
		arg = user.ID
	} else {
		invitee = Unregistered(email)
		query = `select true from permissions where workspace_id = $1 and user_email = $2`
		arg = email
	}

	var in bool
	err = s.db.QueryRowContext(ctx, query, workspaceID, arg).Scan(&in)
	if errors.Is(err, sql.ErrNoRows) {
		return UserInWorkspace{Invitee: invitee}, nil
	}
	if err != nil {
		return UserInWorkspace{}, err
	}
	return UserInWorkspace{Invitee: invitee, InWorkspace: in}, nil
}
