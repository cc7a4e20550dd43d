package users

import (
	"context"
	"errors"
	"testing"

	"serotonyl.ru/stars-bot/internal/common"
)

type fakeStore struct {
	users   map[int64]*User
	langErr error
}

func (f *fakeStore) Upsert(_ context.Context, u *User) error {
	if existing, ok := f.users[u.UserID]; ok {
		existing.Username = u.Username
		existing.FirstName = u.FirstName
		return nil
	}
	cp := *u
	f.users[u.UserID] = &cp
	return nil
}

func (f *fakeStore) GetLang(_ context.Context, userID int64) (string, error) {
	if f.langErr != nil {
		return "", f.langErr
	}
	u, ok := f.users[userID]
	if !ok {
		return "", common.ErrUserNotFound
	}
	return u.Lang, nil
}

func TestEnsureUserNormalizesLanguage(t *testing.T) {
	store := &fakeStore{users: map[int64]*User{}}
	svc := NewService(store)
	ctx := context.Background()

	if err := svc.EnsureUser(ctx, Profile{UserID: 1, FirstName: "A", LanguageCode: "en-GB"}); err != nil {
		t.Fatalf("EnsureUser: %v", err)
	}
	if got := svc.Lang(ctx, 1); got != "en" {
		t.Fatalf("Lang = %q, want en", got)
	}

	// повторный контакт с другим клиентом не меняет язык
	if err := svc.EnsureUser(ctx, Profile{UserID: 1, FirstName: "B", LanguageCode: "zh"}); err != nil {
		t.Fatalf("EnsureUser: %v", err)
	}
	if got := svc.Lang(ctx, 1); got != "en" {
		t.Fatalf("Lang after second contact = %q, want en", got)
	}
	if store.users[1].FirstName != "B" {
		t.Fatalf("first name not updated")
	}
}

func TestEnsureUserRejectsZeroID(t *testing.T) {
	svc := NewService(&fakeStore{users: map[int64]*User{}})
	if err := svc.EnsureUser(context.Background(), Profile{}); err == nil {
		t.Fatal("expected error")
	}
}

func TestLangDefaults(t *testing.T) {
	ctx := context.Background()

	svc := NewService(&fakeStore{users: map[int64]*User{}})
	if got := svc.Lang(ctx, 42); got != "ru" {
		t.Fatalf("unknown user: %q", got)
	}

	svc = NewService(&fakeStore{users: map[int64]*User{}, langErr: errors.New("db down")})
	if got := svc.Lang(ctx, 42); got != "ru" {
		t.Fatalf("db error: %q", got)
	}

	svc = NewService(&fakeStore{users: map[int64]*User{7: {UserID: 7, Lang: "de"}}})
	if got := svc.Lang(ctx, 7); got != "ru" {
		t.Fatalf("unsupported stored lang: %q", got)
	}
}
