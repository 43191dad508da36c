package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/nfinance/finance-service/internal/domain"
	"github.com/nfinance/finance-service/internal/store"
	"golang.org/x/crypto/bcrypt"
)

const minPasswordLength = 8

// UserService handles registration and profile maintenance. Token issuance
// lives with the identity provider, not here.
type UserService struct {
	store      store.Store
	bcryptCost int
	logger     *slog.Logger
}

// NewUserService creates a UserService. A cost outside bcrypt's accepted
// range falls back to bcrypt.DefaultCost.
func NewUserService(st store.Store, bcryptCost int, logger *slog.Logger) *UserService {
	if bcryptCost < bcrypt.MinCost || bcryptCost > bcrypt.MaxCost {
		bcryptCost = bcrypt.DefaultCost
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &UserService{store: st, bcryptCost: bcryptCost, logger: logger}
}

// Registration is the input to Register.
type Registration struct {
	Email     string
	Password  string
	FirstName string
	LastName  string
}

// Register creates a user with a bcrypt-hashed password.
func (s *UserService) Register(ctx context.Context, reg Registration) (domain.User, error) {
	email := strings.ToLower(strings.TrimSpace(reg.Email))
	if email == "" {
		return domain.User{}, domain.Invalid("email", "is required")
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return domain.User{}, domain.Invalid("email", "is not a valid address")
	}
	if len(reg.Password) < minPasswordLength {
		return domain.User{}, domain.Invalid("password", "must be at least %d characters", minPasswordLength)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(reg.Password), s.bcryptCost)
	if err != nil {
		return domain.User{}, fmt.Errorf("hash password: %w", err)
	}

	user := domain.User{
		ID:           uuid.New(),
		Email:        email,
		PasswordHash: string(hash),
		FirstName:    strings.TrimSpace(reg.FirstName),
		LastName:     strings.TrimSpace(reg.LastName),
	}
	var created domain.User
	err = s.store.WithinTx(ctx, func(tx store.Tx) error {
		var err error
		created, err = tx.Users().Create(ctx, user)
		return err
	})
	if err != nil {
		return domain.User{}, err
	}
	s.logger.Info("user registered", "user_id", created.ID)
	return created, nil
}

// Profile returns the user's profile.
func (s *UserService) Profile(ctx context.Context, userID uuid.UUID) (domain.User, error) {
	var user domain.User
	err := s.store.ReadOnly(ctx, func(tx store.Tx) error {
		var err error
		user, err = tx.Users().GetByID(ctx, userID)
		return err
	})
	return user, err
}

// UpdateProfile applies the non-nil fields of upd.
func (s *UserService) UpdateProfile(ctx context.Context, userID uuid.UUID, upd domain.ProfileUpdate) (domain.User, error) {
	if upd.DateOfBirth != nil && upd.DateOfBirth.After(time.Now()) {
		return domain.User{}, domain.Invalid("dateOfBirth", "must be in the past")
	}

	var updated domain.User
	err := s.store.WithinTx(ctx, func(tx store.Tx) error {
		users := tx.Users()
		user, err := users.GetByID(ctx, userID)
		if err != nil {
			return err
		}
		if upd.FirstName != nil {
			user.FirstName = strings.TrimSpace(*upd.FirstName)
		}
		if upd.LastName != nil {
			user.LastName = strings.TrimSpace(*upd.LastName)
		}
		if upd.DateOfBirth != nil {
			dob := upd.DateOfBirth.UTC()
			user.DateOfBirth = &dob
		}
		if upd.PhoneNumber != nil {
			phone := strings.TrimSpace(*upd.PhoneNumber)
			if phone == "" {
				user.PhoneNumber = nil
			} else {
				inUse, err := users.PhoneInUse(ctx, phone, userID)
				if err != nil {
					return err
				}
				if inUse {
					return domain.ErrPhoneTaken
				}
				user.PhoneNumber = &phone
			}
		}
		updated, err = users.Update(ctx, user)
		return err
	})
	return updated, err
}
