package services

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/yungbote/courseport-backend/internal/data/repos"
	"github.com/yungbote/courseport-backend/internal/data/repos/testutil"
	"github.com/yungbote/courseport-backend/internal/domain"
	"github.com/yungbote/courseport-backend/internal/platform/ctxutil"
)

func newAuthService(t *testing.T) AuthService {
	t.Helper()
	gdb := testutil.DB(t)
	log := testutil.Logger(t)
	return NewAuthService(log, repos.NewUserRepo(gdb, log), "test-secret", time.Hour)
}

func uniqueUser(staff bool) *domain.User {
	suffix := uuid.NewString()[:8]
	return &domain.User{
		Username: "user-" + suffix,
		Email:    "User-" + suffix + "@Example.com",
		Password: "hunter22",
		IsStaff:  staff,
	}
}

func TestRegisterAndLogin(t *testing.T) {
	svc := newAuthService(t)
	ctx := context.Background()
	user := uniqueUser(false)
	plaintext := user.Password

	if err := svc.RegisterUser(ctx, user); err != nil {
		t.Fatalf("RegisterUser: %v", err)
	}
	if user.Password == plaintext {
		t.Fatal("password stored in the clear")
	}
	if user.Email != strings.ToLower(user.Email) {
		t.Fatalf("email not normalized: %q", user.Email)
	}

	token, err := svc.LoginUser(ctx, user.Username, plaintext)
	if err != nil {
		t.Fatalf("LoginUser: %v", err)
	}
	if token == "" {
		t.Fatal("empty token")
	}

	if _, err := svc.LoginUser(ctx, user.Username, "wrong"); err == nil {
		t.Fatal("wrong password accepted")
	}
	if _, err := svc.LoginUser(ctx, "nobody-"+uuid.NewString()[:8], plaintext); err == nil {
		t.Fatal("unknown username accepted")
	}
}

func TestRegisterDuplicateUsername(t *testing.T) {
	svc := newAuthService(t)
	ctx := context.Background()
	user := uniqueUser(false)
	if err := svc.RegisterUser(ctx, user); err != nil {
		t.Fatalf("RegisterUser: %v", err)
	}

	dup := uniqueUser(false)
	dup.Username = user.Username
	if err := svc.RegisterUser(ctx, dup); err == nil {
		t.Fatal("duplicate username accepted")
	}
}

func TestSetContextFromToken(t *testing.T) {
	svc := newAuthService(t)
	ctx := context.Background()
	user := uniqueUser(true)
	plaintext := user.Password
	if err := svc.RegisterUser(ctx, user); err != nil {
		t.Fatalf("RegisterUser: %v", err)
	}
	token, err := svc.LoginUser(ctx, user.Username, plaintext)
	if err != nil {
		t.Fatalf("LoginUser: %v", err)
	}

	authed, err := svc.SetContextFromToken(ctx, token)
	if err != nil {
		t.Fatalf("SetContextFromToken: %v", err)
	}
	rd := ctxutil.GetRequestData(authed)
	if rd == nil {
		t.Fatal("missing request data")
	}
	if rd.UserID != user.ID || rd.Username != user.Username || !rd.IsStaff {
		t.Fatalf("identity mismatch: %+v", rd)
	}

	if _, err := svc.SetContextFromToken(ctx, token+"tampered"); err == nil {
		t.Fatal("tampered token accepted")
	}

	other := NewAuthService(testutil.Logger(t), repos.NewUserRepo(testutil.DB(t), testutil.Logger(t)), "other-secret", time.Hour)
	if _, err := other.SetContextFromToken(ctx, token); err == nil {
		t.Fatal("token signed with a different secret accepted")
	}
}
