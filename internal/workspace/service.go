package workspace

import (
	"context"
	"database/sql"
)

// DBTX is the unit of work handed to store methods that must share a
// transaction with other stores. *sql.DB and *sql.Tx both satisfy it; only
// the orchestrator ever opens or commits a transaction.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Service enumerates the membership and authorization operations exposed to
// transports. Orchestrator implements it against PostgreSQL; InMemory
// implements it for tests and demo mode.
type Service interface {
	// Identity.
	RegisterUser(ctx context.Context, nu NewUser) (*User, error)
	Login(ctx context.Context, email, password string) (*UserWithNonce, error)
	Refresh(ctx context.Context, userID int64, nonce int16) (*UserWithNonce, error)
	RefreshValid(ctx context.Context, userID int64, nonce int16) (bool, error)
	RotateNonce(ctx context.Context, userID int64) (int16, error)
	UserByEmail(ctx context.Context, email string) (*User, error)

	// Workspaces.
	CreateWorkspace(ctx context.Context, userID int64) (Workspace, error)
	WorkspaceDetail(ctx context.Context, id int64) (*WorkspaceDetail, error)
	UpdateWorkspace(ctx context.Context, id int64, public bool) (*Workspace, error)
	DeleteWorkspace(ctx context.Context, id int64) (bool, error)
	Workspaces(ctx context.Context, userID int64) ([]Membership, error)
	Members(ctx context.Context, workspaceID int64) ([]Member, error)
	MemberByEmail(ctx context.Context, workspaceID int64, email string) (UserInWorkspace, error)

	// Grants.
	RoleOf(ctx context.Context, userID, workspaceID int64) (Role, error)
	RoleByGrant(ctx context.Context, userID, grantID int64) (Role, error)
	CanRead(ctx context.Context, userID, workspaceID int64) (bool, error)
	GrantByID(ctx context.Context, grantID int64) (*Grant, error)
	Invite(ctx context.Context, email string, workspaceID int64, role Role) (*Invitation, error)
	AcceptGrant(ctx context.Context, grantID int64) (*Grant, error)
	RevokeGrant(ctx context.Context, grantID int64) (bool, error)
	RevokeMember(ctx context.Context, userID, workspaceID int64) (bool, error)
}
