package app

import (
	"context"
	"errors"
	"testing"
	"time"

	"wellness-sessions/internal/pkg/jwtutil"
	"wellness-sessions/internal/storage/memory"
)

func TestAuthRegisterAndLogin(t *testing.T) {
	ctx := context.Background()
	svc := NewAuthService(memory.NewUserStore(), "secret", time.Hour)

	res, err := svc.Register(ctx, RegisterInput{Username: "dana", Email: "Dana@Example.com", Password: "password123"})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if res.User.ID == 0 || res.User.Email != "dana@example.com" {
		t.Fatalf("user = %+v", res.User)
	}
	if res.User.PasswordHash == "password123" {
		t.Fatal("password stored in clear")
	}
	claims, err := jwtutil.ParseToken("secret", res.Token)
	if err != nil || claims.UserID != res.User.ID {
		t.Fatalf("claims = %+v, %v", claims, err)
	}

	login, err := svc.Login(ctx, LoginInput{Username: "dana", Password: "password123"})
	if err != nil || login.User.ID != res.User.ID {
		t.Fatalf("login = %+v, %v", login, err)
	}

	me, err := svc.GetUserByID(ctx, res.User.ID)
	if err != nil || me == nil || me.Username != "dana" {
		t.Fatalf("me = %+v, %v", me, err)
	}
}

func TestAuthErrors(t *testing.T) {
	ctx := context.Background()
	svc := NewAuthService(memory.NewUserStore(), "secret", time.Hour)
	if _, err := svc.Register(ctx, RegisterInput{Username: "erin", Email: "erin@example.com", Password: "password123"}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	tests := []struct {
		name string
		run  func() error
		want error
	}{
		{
			name: "short password",
			run: func() error {
				_, err := svc.Register(ctx, RegisterInput{Username: "x1", Email: "x1@example.com", Password: "short"})
				return err
			},
			want: ErrInvalidInput,
		},
		{
			name: "duplicate username",
			run: func() error {
				_, err := svc.Register(ctx, RegisterInput{Username: "erin", Email: "other@example.com", Password: "password123"})
				return err
			},
			want: ErrUsernameExists,
		},
		{
			name: "duplicate email",
			run: func() error {
				_, err := svc.Register(ctx, RegisterInput{Username: "erin2", Email: "ERIN@example.com", Password: "password123"})
				return err
			},
			want: ErrEmailExists,
		},
		{
			name: "wrong password",
			run: func() error {
				_, err := svc.Login(ctx, LoginInput{Username: "erin", Password: "password124"})
				return err
			},
			want: ErrInvalidCredential,
		},
		{
			name: "unknown user",
			run: func() error {
				_, err := svc.Login(ctx, LoginInput{Username: "nobody", Password: "password123"})
				return err
			},
			want: ErrInvalidCredential,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.run(); !errors.Is(err, tt.want) {
				t.Fatalf("err = %v, want %v", err, tt.want)
			}
		})
	}
}
