package app

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/nfinance/finance-service/internal/domain"
	"github.com/nfinance/finance-service/internal/store"
	"golang.org/x/crypto/bcrypt"
)

func newUserService() *UserService {
	return NewUserService(store.NewMemoryStore(), bcrypt.MinCost, discardLogger())
}

func TestUserService_Register(t *testing.T) {
	s := newUserService()
	ctx := context.Background()

	user, err := s.Register(ctx, Registration{Email: " Ada@Example.com ", Password: "correct horse", FirstName: " Ada "})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if user.Email != "ada@example.com" || user.FirstName != "Ada" {
		t.Fatalf("expected normalized user, got %+v", user)
	}
	if user.PasswordHash == "correct horse" {
		t.Fatalf("expected password to be hashed")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte("correct horse")); err != nil {
		t.Fatalf("stored hash does not match password: %v", err)
	}

	if _, err := s.Register(ctx, Registration{Email: "ADA@example.com", Password: "another password"}); !errors.Is(err, domain.ErrEmailTaken) {
		t.Fatalf("expected duplicate email to be rejected, got %v", err)
	}
}

func TestUserService_RegisterValidation(t *testing.T) {
	s := newUserService()
	tests := []struct {
		name      string
		reg       Registration
		wantField string
	}{
		{name: "missing email", reg: Registration{Password: "longenough"}, wantField: "email"},
		{name: "malformed email", reg: Registration{Email: "not-an-email", Password: "longenough"}, wantField: "email"},
		{name: "short password", reg: Registration{Email: "a@example.com", Password: "short"}, wantField: "password"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := s.Register(context.Background(), tc.reg)
			var verr *domain.ValidationError
			if !errors.As(err, &verr) || verr.Field != tc.wantField {
				t.Fatalf("expected validation error on %q, got %v", tc.wantField, err)
			}
		})
	}
}

func TestUserService_UpdateProfile(t *testing.T) {
	s := newUserService()
	ctx := context.Background()

	alice, err := s.Register(ctx, Registration{Email: "alice@example.com", Password: "password1"})
	if err != nil {
		t.Fatalf("register alice: %v", err)
	}
	bob, err := s.Register(ctx, Registration{Email: "bob@example.com", Password: "password2"})
	if err != nil {
		t.Fatalf("register bob: %v", err)
	}

	phone := "+15550123"
	last := "Liddell"
	dob := time.Date(1990, 4, 1, 0, 0, 0, 0, time.UTC)
	updated, err := s.UpdateProfile(ctx, alice.ID, domain.ProfileUpdate{PhoneNumber: &phone, LastName: &last, DateOfBirth: &dob})
	if err != nil {
		t.Fatalf("update alice: %v", err)
	}
	if updated.PhoneNumber == nil || *updated.PhoneNumber != phone || updated.LastName != last || updated.DateOfBirth == nil {
		t.Fatalf("unexpected profile: %+v", updated)
	}

	if _, err := s.UpdateProfile(ctx, bob.ID, domain.ProfileUpdate{PhoneNumber: &phone}); !errors.Is(err, domain.ErrPhoneTaken) {
		t.Fatalf("expected phone collision, got %v", err)
	}

	// Setting your own number again is not a collision.
	if _, err := s.UpdateProfile(ctx, alice.ID, domain.ProfileUpdate{PhoneNumber: &phone}); err != nil {
		t.Fatalf("expected re-setting own phone to pass, got %v", err)
	}

	empty := ""
	cleared, err := s.UpdateProfile(ctx, alice.ID, domain.ProfileUpdate{PhoneNumber: &empty})
	if err != nil || cleared.PhoneNumber != nil {
		t.Fatalf("expected phone to be cleared, got %+v (%v)", cleared.PhoneNumber, err)
	}

	future := time.Now().Add(48 * time.Hour)
	if _, err := s.UpdateProfile(ctx, alice.ID, domain.ProfileUpdate{DateOfBirth: &future}); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected future birth date to be rejected, got %v", err)
	}
	if _, err := s.Profile(ctx, uuid.New()); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected unknown user to be NotFound, got %v", err)
	}
}
