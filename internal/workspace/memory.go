package workspace

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// InMemory implements Service on plain maps under one mutex. It honors the
// same invariants as the PostgreSQL orchestrator and backs both the test
// suite and demo mode.
type InMemory struct {
	mu sync.Mutex

	users      map[int64]*memUser
	workspaces map[int64]*Workspace
	grants     map[int64]*Grant

	nextUserID      int64
	nextWorkspaceID int64
	nextGrantID     int64

	compare CredentialComparator
	hash    func(password string) (string, error)
	now     func() time.Time
}

type memUser struct {
	User
	passwordHash string
	tokenNonce   int16
}

var _ Service = (*InMemory)(nil)

// MemoryOption configures the in-memory service.
type MemoryOption func(*InMemory)

// WithMemoryClock substitutes the timestamp source.
func WithMemoryClock(now func() time.Time) MemoryOption {
	return func(m *InMemory) {
		if now != nil {
			m.now = now
		}
	}
}

// WithMemoryHasher substitutes the password hasher and comparator. Tests use
// it to avoid bcrypt cost in hot loops.
func WithMemoryHasher(hash func(string) (string, error), compare CredentialComparator) MemoryOption {
	return func(m *InMemory) {
		if hash != nil {
			m.hash = hash
		}
		if compare != nil {
			m.compare = compare
		}
	}
}

func NewInMemory(opts ...MemoryOption) *InMemory {
	m := &InMemory{
		users:      make(map[int64]*memUser),
		workspaces: make(map[int64]*Workspace),
		grants:     make(map[int64]*Grant),
		compare:    VerifyPassword,
		hash:       HashPassword,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *InMemory) RegisterUser(_ context.Context, nu NewUser) (*User, error) {
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
	hash, err := m.hash(nu.Password)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for _, u := range m.users {
		if u.Email == nu.Email {
			return nil, ErrAlreadyExists
		}
	}

	m.nextUserID++
	u := &memUser{
		User: User{
			ID:        m.nextUserID,
			Name:      nu.Name,
			Email:     nu.Email,
			AvatarURL: nu.AvatarURL,
			CreatedAt: m.now().UTC(),
		},
		passwordHash: hash,
	}
	m.users[u.ID] = u

	m.createWorkspaceLocked(u.ID, KindPrivate)

	// Claim grants that were keyed to the email before the account existed.
	for _, g := range m.grants {
		if g.UserID == nil && g.UserEmail == nu.Email {
			id := u.ID
			g.UserID = &id
			g.UserEmail = ""
		}
	}

	out := u.User
	return &out, nil
}

func (m *InMemory) Login(_ context.Context, email, password string) (*UserWithNonce, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" || password == "" {
		return nil, ErrBadCredentials
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for _, u := range m.users {
		if u.Email != email {
			continue
		}
		if err := m.compare(u.passwordHash, password); err != nil {
			return nil, ErrBadCredentials
		}
		return &UserWithNonce{User: u.User, TokenNonce: u.tokenNonce}, nil
	}
	return nil, ErrBadCredentials
}

func (m *InMemory) Refresh(_ context.Context, userID int64, nonce int16) (*UserWithNonce, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.users[userID]
	if !ok || u.tokenNonce != nonce {
		return nil, ErrNotFound
	}
	return &UserWithNonce{User: u.User, TokenNonce: u.tokenNonce}, nil
}

func (m *InMemory) RefreshValid(_ context.Context, userID int64, nonce int16) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.users[userID]
	return ok && u.tokenNonce == nonce, nil
}

func (m *InMemory) RotateNonce(_ context.Context, userID int64) (int16, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.users[userID]
	if !ok {
		return 0, ErrNotFound
	}
	u.tokenNonce++
	return u.tokenNonce, nil
}

func (m *InMemory) UserByEmail(_ context.Context, email string) (*User, error) {
	email = strings.TrimSpace(strings.ToLower(email))

	m.mu.Lock()
	defer m.mu.Unlock()

	u := m.userByEmailLocked(email)
	if u == nil {
		return nil, ErrNotFound
	}
	out := u.User
	return &out, nil
}

func (m *InMemory) userByEmailLocked(email string) *memUser {
	for _, u := range m.users {
		if u.Email == email {
			return u
		}
	}
	return nil
}

func (m *InMemory) createWorkspaceLocked(userID int64, kind Kind) Workspace {
	m.nextWorkspaceID++
	ws := &Workspace{
		ID:        m.nextWorkspaceID,
		Public:    false,
		Kind:      kind,
		CreatedAt: m.now().UTC(),
	}
	m.workspaces[ws.ID] = ws

	m.nextGrantID++
	id := userID
	m.grants[m.nextGrantID] = &Grant{
		ID:          m.nextGrantID,
		WorkspaceID: ws.ID,
		UserID:      &id,
		Role:        RoleOwner,
		Accepted:    true,
		CreatedAt:   m.now().UTC(),
	}
	return *ws
}

func (m *InMemory) CreateWorkspace(_ context.Context, userID int64) (Workspace, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.users[userID]; !ok {
		return Workspace{}, ErrNotFound
	}
	return m.createWorkspaceLocked(userID, KindNormal), nil
}

func (m *InMemory) WorkspaceDetail(_ context.Context, id int64) (*WorkspaceDetail, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ws, ok := m.workspaces[id]
	if !ok {
		return nil, ErrNotFound
	}
	if ws.Kind == KindPrivate {
		return &WorkspaceDetail{Workspace: *ws}, nil
	}

	detail := &WorkspaceDetail{Workspace: *ws}
	for _, g := range m.grants {
		if g.WorkspaceID != id {
			continue
		}
		if g.Accepted {
			detail.MemberCount++
		}
		if g.Role == RoleOwner && g.UserID != nil {
			if u, ok := m.users[*g.UserID]; ok {
				owner := u.User
				detail.Owner = &owner
			}
		}
	}
	return detail, nil
}

func (m *InMemory) UpdateWorkspace(_ context.Context, id int64, public bool) (*Workspace, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ws, ok := m.workspaces[id]
	if !ok || ws.Kind != KindNormal {
		return nil, ErrNotFound
	}
	ws.Public = public
	out := *ws
	return &out, nil
}

func (m *InMemory) DeleteWorkspace(_ context.Context, id int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ws, ok := m.workspaces[id]
	if !ok || ws.Kind != KindNormal {
		return false, nil
	}
	delete(m.workspaces, id)
	for gid, g := range m.grants {
		if g.WorkspaceID == id {
			delete(m.grants, gid)
		}
	}
	return true, nil
}

func (m *InMemory) Workspaces(_ context.Context, userID int64) ([]Membership, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var result []Membership
	for _, g := range m.grants {
		if g.UserID == nil || *g.UserID != userID {
			continue
		}
		if ws, ok := m.workspaces[g.WorkspaceID]; ok {
			result = append(result, Membership{Workspace: *ws, Role: g.Role})
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

func (m *InMemory) Members(_ context.Context, workspaceID int64) ([]Member, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var result []Member
	for _, g := range m.grants {
		if g.WorkspaceID != workspaceID {
			continue
		}
		member := Member{Grant: *g}
		if g.UserID != nil {
			if u, ok := m.users[*g.UserID]; ok {
				user := u.User
				member.User = &user
			}
		}
		result = append(result, member)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Grant.ID < result[j].Grant.ID })
	return result, nil
}

func (m *InMemory) MemberByEmail(_ context.Context, workspaceID int64, email string) (UserInWorkspace, error) {
	email = strings.TrimSpace(strings.ToLower(email))

	m.mu.Lock()
	defer m.mu.Unlock()

	var invitee Identity
	u := m.userByEmailLocked(email)
	if u != nil {
		user := u.User
		invitee = Registered(&user)
	} else {
		invitee = Unregistered(email)
	}

	for _, g := range m.grants {
		if g.WorkspaceID != workspaceID {
			continue
		}
		if u != nil && g.UserID != nil && *g.UserID == u.ID {
			return UserInWorkspace{Invitee: invitee, InWorkspace: true}, nil
		}
		if u == nil && g.UserEmail == email {
			return UserInWorkspace{Invitee: invitee, InWorkspace: true}, nil
		}
	}
	return UserInWorkspace{Invitee: invitee}, nil
}

func (m *InMemory) RoleOf(_ context.Context, userID, workspaceID int64) (Role, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.roleOfLocked(userID, workspaceID)
}

func (m *InMemory) roleOfLocked(userID, workspaceID int64) (Role, error) {
	for _, g := range m.grants {
		if g.WorkspaceID == workspaceID && g.UserID != nil && *g.UserID == userID {
			return g.Role, nil
		}
	}
	return 0, ErrNotFound
}

func (m *InMemory) RoleByGrant(_ context.Context, userID, grantID int64) (Role, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	g, ok := m.grants[grantID]
	if !ok {
		return 0, ErrNotFound
	}
	return m.roleOfLocked(userID, g.WorkspaceID)
}

func (m *InMemory) CanRead(_ context.Context, userID, workspaceID int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, err := m.roleOfLocked(userID, workspaceID); err == nil {
		return true, nil
	}
	if ws, ok := m.workspaces[workspaceID]; ok && ws.Public {
		return true, nil
	}
	return false, nil
}

func (m *InMemory) GrantByID(_ context.Context, grantID int64) (*Grant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	g, ok := m.grants[grantID]
	if !ok {
		return nil, ErrNotFound
	}
	out := *g
	return &out, nil
}

func (m *InMemory) Invite(_ context.Context, email string, workspaceID int64, role Role) (*Invitation, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" || !strings.Contains(email, "@") {
		return nil, fmt.Errorf("%w: valid email is required", ErrInvalidInput)
	}
	if role >= RoleOwner {
		return nil, ErrInvalidInput
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	ws, ok := m.workspaces[workspaceID]
	if !ok || ws.Kind != KindNormal {
		return nil, ErrNotFound
	}

	var invitee Identity
	u := m.userByEmailLocked(email)
	if u != nil {
		user := u.User
		invitee = Registered(&user)
	} else {
		invitee = Unregistered(email)
	}

	for _, g := range m.grants {
		if g.WorkspaceID != workspaceID {
			continue
		}
		if u != nil && g.UserID != nil && *g.UserID == u.ID {
			return nil, ErrAlreadyExists
		}
		if u == nil && g.UserEmail == email {
			return nil, ErrAlreadyExists
		}
	}

	m.nextGrantID++
	g := &Grant{
		ID:          m.nextGrantID,
		WorkspaceID: workspaceID,
		Role:        role,
		CreatedAt:   m.now().UTC(),
	}
	if u != nil {
		id := u.ID
		g.UserID = &id
	} else {
		g.UserEmail = email
	}
	m.grants[g.ID] = g

	return &Invitation{GrantID: g.ID, Invitee: invitee}, nil
}

func (m *InMemory) AcceptGrant(_ context.Context, grantID int64) (*Grant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	g, ok := m.grants[grantID]
	if !ok {
		return nil, ErrNotFound
	}
	g.Accepted = true
	out := *g
	return &out, nil
}

func (m *InMemory) RevokeGrant(_ context.Context, grantID int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.grants[grantID]; !ok {
		return false, nil
	}
	delete(m.grants, grantID)
	return true, nil
}

func (m *InMemory) RevokeMember(_ context.Context, userID, workspaceID int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for gid, g := range m.grants {
		if g.WorkspaceID == workspaceID && g.UserID != nil && *g.UserID == userID && g.Role != RoleOwner {
			delete(m.grants, gid)
			return true, nil
		}
	}
	return false, nil
}
