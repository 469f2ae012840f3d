package workspace

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// Orchestrator composes the identity store, workspace store and grant
// ledger on one PostgreSQL handle. It is the only writer that spans
// entities: every compound operation runs inside a single transaction and
// either commits all of its steps or leaves no trace.
type Orchestrator struct {
	db         *sql.DB
	users      *IdentityStore
	workspaces *WorkspaceStore
	grants     *GrantLedger
	hash       func(password string) (string, error)
}

var _ Service = (*Orchestrator)(nil)

// Option configures the orchestrator.
type Option func(*Orchestrator)

// WithCredentialComparator replaces the bcrypt comparator used by Login.
func WithCredentialComparator(fn CredentialComparator) Option {
	return func(o *Orchestrator) {
		if fn != nil {
			o.users.compare = fn
		}
	}
}

// WithPasswordHasher replaces the bcrypt hasher used at registration.
func WithPasswordHasher(fn func(string) (string, error)) Option {
	return func(o *Orchestrator) {
		if fn != nil {
			o.hash = fn
		}
	}
}

func NewOrchestrator(db *sql.DB, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		db:   db,
		hash: HashPassword,
	}
	o.users = NewIdentityStore(db)
	o.workspaces = NewWorkspaceStore(db)
	o.grants = NewGrantLedger(db, o.users)
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// RegisterUser runs the registration sequence: insert user, provision the
// private workspace with its Owner grant, claim pending email invites,
// commit. Each step sees the previous ones through the shared transaction;
// any failure rolls everything back. An email collision surfaces as
// ErrAlreadyExists with zero persisted side effects.
func (o *Orchestrator) RegisterUser(ctx context.Context, nu NewUser) (*User, error) {
	nu.Name = strings.TrimSpace(nu.Name)
	nu.Email = strings.TrimSpace(strings.ToLower(nu.Email))
	if nu.Name == "" {
		return nil, fmt.Errorf("%w: name is required", ErrInvalidInput)
	}
	if nu.Email == "" || !strings.Contains(nu.Email, "@") {
		return nil, fmt.Errorf("%w: valid email is required", ErrInvalidInput)
	}
	if nu.Password == "" {
		return nil, fmt.Errorf("%w: password is required", ErrInvalidInput)
	}
	hash, err := o.hash(nu.Password)
	if err != nil {
		return nil, err
	}

	tx, err := o.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	user, err := o.users.Create(ctx, tx, nu, hash)
	if err != nil {
		return nil, err
	}
	if _, err := o.workspaces.CreateWithOwner(ctx, tx, user.ID, KindPrivate); err != nil {
		return nil, err
	}
	if err := o.grants.Reconcile(ctx, tx, user.ID, user.Email); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return user, nil
}

// CreateWorkspace provisions a Normal workspace with its Owner grant in one
// transaction.
func (o *Orchestrator) CreateWorkspace(ctx context.Context, userID int64) (Workspace, error) {
	tx, err := o.db.BeginTx(ctx, nil)
	if err != nil {
		return Workspace{}, err
	}
	defer func() { _ = tx.Rollback() }()

	ws, err := o.workspaces.CreateWithOwner(ctx, tx, userID, KindNormal)
	if err != nil {
		return Workspace{}, err
	}
	if err := tx.Commit(); err != nil {
		return Workspace{}, err
	}
	return ws, nil
}

// RevokeMember removes a member's grant, guaranteeing Owner grants survive.
func (o *Orchestrator) RevokeMember(ctx context.Context, userID, workspaceID int64) (bool, error) {
	return o.grants.RevokeByIdentity(ctx, userID, workspaceID)
}

// Identity pass-throughs.

func (o *Orchestrator) Login(ctx context.Context, email, password string) (*UserWithNonce, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" || password == "" {
		return nil, ErrBadCredentials
	}
	return o.users.Login(ctx, email, password)
}

func (o *Orchestrator) Refresh(ctx context.Context, userID int64, nonce int16) (*UserWithNonce, error) {
	return o.users.Refresh(ctx, userID, nonce)
}

func (o *Orchestrator) RefreshValid(ctx context.Context, userID int64, nonce int16) (bool, error) {
	return o.users.RefreshValid(ctx, userID, nonce)
}

func (o *Orchestrator) RotateNonce(ctx context.Context, userID int64) (int16, error) {
	return o.users.RotateNonce(ctx, userID)
}

func (o *Orchestrator) UserByEmail(ctx context.Context, email string) (*User, error) {
	return o.users.ByEmail(ctx, strings.TrimSpace(strings.ToLower(email)))
}

// Workspace pass-throughs.

func (o *Orchestrator) WorkspaceDetail(ctx context.Context, id int64) (*WorkspaceDetail, error) {
	return o.workspaces.Detail(ctx, id)
}

func (o *Orchestrator) UpdateWorkspace(ctx context.Context, id int64, public bool) (*Workspace, error) {
	return o.workspaces.Update(ctx, id, public)
}

func (o *Orchestrator) DeleteWorkspace(ctx context.Context, id int64) (bool, error) {
	return o.workspaces.Delete(ctx, id)
}

func (o *Orchestrator) Workspaces(ctx context.Context, userID int64) ([]Membership, error) {
	return o.workspaces.ListForUser(ctx, userID)
}

func (o *Orchestrator) Members(ctx context.Context, workspaceID int64) ([]Member, error) {
	return o.workspaces.Members(ctx, workspaceID)
}

func (o *Orchestrator) MemberByEmail(ctx context.Context, workspaceID int64, email string) (UserInWorkspace, error) {
	return o.workspaces.MemberByEmail(ctx, o.users, workspaceID, strings.TrimSpace(strings.ToLower(email)))
}

// Grant pass-throughs.

func (o *Orchestrator) RoleOf(ctx context.Context, userID, workspaceID int64) (Role, error) {
	return o.grants.RoleOf(ctx, userID, workspaceID)
}

func (o *Orchestrator) RoleByGrant(ctx context.Context, userID, grantID int64) (Role, error) {
	return o.grants.RoleByGrant(ctx, userID, grantID)
}

func (o *Orchestrator) CanRead(ctx context.Context, userID, workspaceID int64) (bool, error) {
	return o.grants.CanRead(ctx, userID, workspaceID)
}

func (o *Orchestrator) GrantByID(ctx context.Context, grantID int64) (*Grant, error) {
	return o.grants.GrantByID(ctx, grantID)
}

func (o *Orchestrator) Invite(ctx context.Context, email string, workspaceID int64, role Role) (*Invitation, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" || !strings.Contains(email, "@") {
		return nil, fmt.Errorf("%w: valid email is required", ErrInvalidInput)
	}
	return o.grants.Invite(ctx, email, workspaceID, role)
}

func (o *Orchestrator) AcceptGrant(ctx context.Context, grantID int64) (*Grant, error) {
	return o.grants.Accept(ctx, grantID)
}

func (o *Orchestrator) RevokeGrant(ctx context.Context, grantID int64) (bool, error) {
	return o.grants.Revoke(ctx, grantID)
}
