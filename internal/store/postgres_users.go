package store

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/nfinance/finance-service/internal/domain"
)

const userColumns = `id, email, password_hash, first_name, last_name, date_of_birth, phone_number, created_at, updated_at`

type pgUsers struct {
	q dbtx
}

func (r *pgUsers) one(ctx context.Context, id uuid.UUID, op, query string, args ...any) (domain.User, error) {
	var u domain.User
	err := r.q.QueryRow(ctx, query, args...).Scan(
		&u.ID, &u.Email, &u.PasswordHash, &u.FirstName, &u.LastName,
		&u.DateOfBirth, &u.PhoneNumber, &u.CreatedAt, &u.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.User{}, domain.NotFound("user", id)
		}
		return domain.User{}, classify(op, err)
	}
	return u, nil
}

func (r *pgUsers) Create(ctx context.Context, u domain.User) (domain.User, error) {
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	query := `
		INSERT INTO users (id, email, password_hash, first_name, last_name, date_of_birth, phone_number)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING ` + userColumns
	return r.one(ctx, u.ID, "create user", query,
		u.ID, u.Email, u.PasswordHash, u.FirstName, u.LastName, u.DateOfBirth, u.PhoneNumber)
}

func (r *pgUsers) GetByID(ctx context.Context, id uuid.UUID) (domain.User, error) {
	return r.one(ctx, id, "get user", `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
}

func (r *pgUsers) Update(ctx context.Context, u domain.User) (domain.User, error) {
	query := `
		UPDATE users SET first_name = $2, last_name = $3, date_of_birth = $4, phone_number = $5, updated_at = now()
		WHERE id = $1
		RETURNING ` + userColumns
	return r.one(ctx, u.ID, "update user", query,
		u.ID, u.FirstName, u.LastName, u.DateOfBirth, u.PhoneNumber)
}

func (r *pgUsers) PhoneInUse(ctx context.Context, phone string, excludeID uuid.UUID) (bool, error) {
	var exists bool
	err := r.q.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM users WHERE phone_number = $1 AND id <> $2)`,
		phone, excludeID,
	).Scan(&exists)
	if err != nil {
		return false, classify("check phone", err)
	}
	return exists, nil
}
