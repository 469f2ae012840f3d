package workspace

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
)

func newMockOrchestrator(t *testing.T) (*Orchestrator, sqlmock.Sqlmock, func()) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	o := NewOrchestrator(db,
		WithPasswordHasher(func(p string) (string, error) { return "hash:" + p, nil }),
		WithCredentialComparator(func(hash, p string) error {
			if hash != "hash:"+p {
				return ErrBadCredentials
			}
			return nil
		}),
	)
	return o, mock, func() { db.Close() }
}

func userRows(id int64, name, email string) *sqlmock.Rows {
	return sqlmock.NewRows([]string{"id", "name", "email", "avatar_url", "created_at"}).
		AddRow(id, name, email, "", time.Now())
}

func workspaceRows(id int64, kind Kind) *sqlmock.Rows {
	return sqlmock.NewRows([]string{"id", "public", "kind", "created_at"}).
		AddRow(id, false, int16(kind), time.Now())
}

func TestRegisterUserTransactionSequence(t *testing.T) {
	o, mock, done := newMockOrchestrator(t)
	defer done()

	mock.ExpectBegin()
	mock.ExpectQuery("insert into users").
		WithArgs("alice", "hash:secret", "alice@example.com", "").
		WillReturnRows(userRows(1, "alice", "alice@example.com"))
	mock.ExpectQuery("insert into workspaces").
		WithArgs(int16(KindPrivate)).
		WillReturnRows(workspaceRows(10, KindPrivate))
	mock.ExpectExec("insert into permissions").
		WithArgs(int64(10), int64(1), int16(RoleOwner)).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("update permissions").
		WithArgs(int64(1), "alice@example.com").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	u, err := o.RegisterUser(context.Background(), NewUser{Name: "alice", Email: "Alice@Example.com", Password: "secret"})
	if err != nil {
		t.Fatalf("RegisterUser: %v", err)
	}
	if u.ID != 1 || u.Email != "alice@example.com" {
		t.Fatalf("unexpected user: %+v", u)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestRegisterUserDuplicateRollsBack(t *testing.T) {
	o, mock, done := newMockOrchestrator(t)
	defer done()

	mock.ExpectBegin()
	mock.ExpectQuery("insert into users").
		WithArgs("alice", "hash:secret", "alice@example.com", "").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectRollback()

	_, err := o.RegisterUser(context.Background(), NewUser{Name: "alice", Email: "alice@example.com", Password: "secret"})
	if !errors.Is(err, ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestCreateWorkspaceTransaction(t *testing.T) {
	o, mock, done := newMockOrchestrator(t)
	defer done()

	mock.ExpectBegin()
	mock.ExpectQuery("insert into workspaces").
		WithArgs(int16(KindNormal)).
		WillReturnRows(workspaceRows(7, KindNormal))
	mock.ExpectExec("insert into permissions").
		WithArgs(int64(7), int64(1), int16(RoleOwner)).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	ws, err := o.CreateWorkspace(context.Background(), 1)
	if err != nil {
		t.Fatalf("CreateWorkspace: %v", err)
	}
	if ws.ID != 7 || ws.Kind != KindNormal {
		t.Fatalf("unexpected workspace: %+v", ws)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestLoginVerifiesHash(t *testing.T) {
	o, mock, done := newMockOrchestrator(t)
	defer done()

	rows := sqlmock.NewRows([]string{"id", "name", "email", "avatar_url", "password_hash", "token_nonce", "created_at"}).
		AddRow(1, "alice", "alice@example.com", "", "hash:secret", int16(3), time.Now())
	mock.ExpectQuery("select id, name, email").
		WithArgs("alice@example.com").
		WillReturnRows(rows)

	u, err := o.Login(context.Background(), "alice@example.com", "secret")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if u.TokenNonce != 3 {
		t.Fatalf("unexpected nonce: %d", u.TokenNonce)
	}

	rows = sqlmock.NewRows([]string{"id", "name", "email", "avatar_url", "password_hash", "token_nonce", "created_at"}).
		AddRow(1, "alice", "alice@example.com", "", "hash:secret", int16(3), time.Now())
	mock.ExpectQuery("select id, name, email").
		WithArgs("alice@example.com").
		WillReturnRows(rows)

	if _, err := o.Login(context.Background(), "alice@example.com", "wrong"); !errors.Is(err, ErrBadCredentials) {
		t.Fatalf("expected ErrBadCredentials, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestInviteUnregisteredEmail(t *testing.T) {
	o, mock, done := newMockOrchestrator(t)
	defer done()

	mock.ExpectQuery("select id, name, email").
		WithArgs("bob@example.com").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectQuery("insert into permissions").
		WithArgs(int64(5), nil, "bob@example.com", int16(RoleWrite), int16(KindNormal)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(42))

	inv, err := o.Invite(context.Background(), "bob@example.com", 5, RoleWrite)
	if err != nil {
		t.Fatalf("Invite: %v", err)
	}
	if inv.GrantID != 42 || inv.Invitee.IsRegistered() {
		t.Fatalf("unexpected invitation: %+v", inv)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestInviteMissDisambiguation(t *testing.T) {
	o, mock, done := newMockOrchestrator(t)
	defer done()

	// Absorbed insert on an existing Normal workspace means a duplicate.
	mock.ExpectQuery("select id, name, email").
		WithArgs("bob@example.com").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectQuery("insert into permissions").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectQuery("select kind from workspaces").
		WithArgs(int64(5)).
		WillReturnRows(sqlmock.NewRows([]string{"kind"}).AddRow(int16(KindNormal)))

	if _, err := o.Invite(context.Background(), "bob@example.com", 5, RoleRead); !errors.Is(err, ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}

	// Absorbed insert on a Private workspace means no shareable target.
	mock.ExpectQuery("select id, name, email").
		WithArgs("bob@example.com").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectQuery("insert into permissions").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectQuery("select kind from workspaces").
		WithArgs(int64(6)).
		WillReturnRows(sqlmock.NewRows([]string{"kind"}).AddRow(int16(KindPrivate)))

	if _, err := o.Invite(context.Background(), "bob@example.com", 6, RoleRead); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestRevokeMemberSparesOwner(t *testing.T) {
	o, mock, done := newMockOrchestrator(t)
	defer done()

	mock.ExpectExec("delete from permissions").
		WithArgs(int64(1), int64(5), int16(RoleOwner)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	ok, err := o.RevokeMember(context.Background(), 1, 5)
	if err != nil {
		t.Fatalf("RevokeMember: %v", err)
	}
	if ok {
		t.Fatal("owner grant must not be reported revoked")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestWorkspaceDetailPrivateIsOpaque(t *testing.T) {
	o, mock, done := newMockOrchestrator(t)
	defer done()

	mock.ExpectQuery("select id, public, kind, created_at").
		WithArgs(int64(3)).
		WillReturnRows(workspaceRows(3, KindPrivate))

	detail, err := o.WorkspaceDetail(context.Background(), 3)
	if err != nil {
		t.Fatalf("WorkspaceDetail: %v", err)
	}
	if detail.Owner != nil || detail.MemberCount != 0 {
		t.Fatalf("private detail must be opaque: %+v", detail)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
