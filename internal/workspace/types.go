package workspace

import (
	"encoding/json"
	"time"
)

// Kind separates auto-provisioned personal workspaces from shareable ones.
type Kind int16

const (
	// KindPrivate is created once per user at registration and is never
	// listable, shareable or mutable through the public workspace operations.
	KindPrivate Kind = iota
	// KindNormal is user-created and subject to visibility and membership
	// management.
	KindNormal
)

// Role orders grant privileges from weakest to strongest. The numeric
// order is meaningful: write-class checks compare with >=.
type Role int16

const (
	RoleRead Role = iota
	RoleWrite
	RoleAdmin
	RoleOwner
)

func (r Role) String() string {
	switch r {
	case RoleRead:
		return "read"
	case RoleWrite:
		return "write"
	case RoleAdmin:
		return "admin"
	case RoleOwner:
		return "owner"
	default:
		return "unknown"
	}
}

// CanWrite reports whether the role allows mutating workspace content.
func (r Role) CanWrite() bool { return r >= RoleWrite }

// CanManage reports whether the role allows membership management.
func (r Role) CanManage() bool { return r >= RoleAdmin }

// User is a registered account.
type User struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	AvatarURL string    `json:"avatar_url,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// UserWithNonce carries the refresh-token revocation counter alongside the
// user. A refresh token is valid only while its embedded nonce equals the
// stored one.
type UserWithNonce struct {
	User
	TokenNonce int16 `json:"token_nonce"`
}

// NewUser is the registration payload. Password arrives in plaintext and is
// hashed by the orchestrator before it reaches storage.
type NewUser struct {
	Name      string
	Email     string
	Password  string
	AvatarURL string
}

// Workspace is a collaboration space.
type Workspace struct {
	ID        int64     `json:"id"`
	Public    bool      `json:"public"`
	Kind      Kind      `json:"kind"`
	CreatedAt time.Time `json:"created_at"`
}

// WorkspaceDetail augments a workspace with its owner and accepted member
// count. Private workspaces stay opaque: nil owner, zero count.
type WorkspaceDetail struct {
	Workspace
	Owner       *User `json:"owner,omitempty"`
	MemberCount int64 `json:"member_count"`
}

// Membership pairs a workspace with the caller's role in it.
type Membership struct {
	Workspace
	Role Role `json:"role"`
}

// Grant binds an identity to a workspace with a role. Exactly one of
// UserID and UserEmail is set: email-keyed rows are pending invites for
// addresses that have not registered yet.
type Grant struct {
	ID          int64     `json:"id"`
	WorkspaceID int64     `json:"workspace_id"`
	UserID      *int64    `json:"user_id,omitempty"`
	UserEmail   string    `json:"user_email,omitempty"`
	Role        Role      `json:"role"`
	Accepted    bool      `json:"accepted"`
	CreatedAt   time.Time `json:"created_at"`
}

// Member is a grant joined with the registered user it points to, if any.
type Member struct {
	Grant
	User *User `json:"user,omitempty"`
}

// Identity is the tagged invitee reference: either a registered user or a
// bare email that has no account yet.
type Identity struct {
	user  *User
	email string
}

// Registered wraps an existing user as an invitee identity.
func Registered(u *User) Identity { return Identity{user: u} }

// Unregistered wraps a bare email as an invitee identity.
func Unregistered(email string) Identity { return Identity{email: email} }

// IsRegistered reports whether the identity resolves to an account.
func (id Identity) IsRegistered() bool { return id.user != nil }

// User returns the resolved account, or nil for unregistered identities.
func (id Identity) User() *User { return id.user }

// Email returns the invitee's address regardless of registration state.
func (id Identity) Email() string {
	if id.user != nil {
		return id.user.Email
	}
	return id.email
}

func (id Identity) MarshalJSON() ([]byte, error) {
	if id.user != nil {
		return json.Marshal(struct {
			Registered bool  `json:"registered"`
			User       *User `json:"user"`
		}{true, id.user})
	}
	return json.Marshal(struct {
		Registered bool   `json:"registered"`
		Email      string `json:"email"`
	}{false, id.email})
}

// Invitation is the outcome of a successful invite: the created grant and
// the resolved invitee, so callers can choose how to notify them.
type Invitation struct {
	GrantID int64    `json:"grant_id"`
	Invitee Identity `json:"invitee"`
}

// UserInWorkspace reports whether an email already holds a grant in a
// workspace, resolving the email to an account when one exists.
type UserInWorkspace struct {
	Invitee     Identity `json:"invitee"`
	InWorkspace bool     `json:"in_workspace"`
}
