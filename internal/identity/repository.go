package identity

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	uniqueViolation = "23505"
	phoneConstraint = "identities_phone_key"
	emailConstraint = "identities_email_key"
	identityColumns = `id, phone, full_name, email, pin_hash, is_first_time, created_at, updated_at`
)

// Repository persists identities. Create must reject a duplicate phone or
// email atomically.
type Repository interface {
	Create(ctx context.Context, identity Identity) error
	FindByPhone(ctx context.Context, phone string) (Identity, error)
	FindByID(ctx context.Context, id string) (Identity, error)
	Update(ctx context.Context, id string, patch Patch) (Identity, error)
}

// PostgresRepository implements Repository using PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository builds a Postgres-backed identity repository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Create inserts a new identity.
func (r *PostgresRepository) Create(ctx context.Context, identity Identity) error {
	id, err := uuid.Parse(identity.ID)
	if err != nil {
		return err
	}
	_, err = r.db.Exec(ctx, `INSERT INTO identities (`+identityColumns+`)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		id, identity.ContactPhone, identity.FullName, identity.Email, identity.PINHash,
		identity.IsFirstTime, identity.CreatedAt.UTC(), identity.UpdatedAt.UTC())
	return mapPgError(err)
}

// FindByPhone fetches an identity by its contact phone.
func (r *PostgresRepository) FindByPhone(ctx context.Context, phone string) (Identity, error) {
	row := r.db.QueryRow(ctx, `SELECT `+identityColumns+` FROM identities WHERE phone = $1`, phone)
	return scanIdentity(row)
}

// FindByID fetches an identity by identifier.
func (r *PostgresRepository) FindByID(ctx context.Context, id string) (Identity, error) {
	identityID, err := uuid.Parse(id)
	if err != nil {
		return Identity{}, ErrNotFound
	}
	row := r.db.QueryRow(ctx, `SELECT `+identityColumns+` FROM identities WHERE id = $1`, identityID)
	return scanIdentity(row)
}

// Update applies patch and returns the stored identity.
func (r *PostgresRepository) Update(ctx context.Context, id string, patch Patch) (Identity, error) {
	identityID, err := uuid.Parse(id)
	if err != nil {
		return Identity{}, ErrNotFound
	}
	row := r.db.QueryRow(ctx, `UPDATE identities SET
            full_name = COALESCE($2, full_name),
            email = COALESCE($3, email),
            is_first_time = COALESCE($4, is_first_time),
            updated_at = $5
        WHERE id = $1
        RETURNING `+identityColumns,
		identityID, patch.FullName, patch.Email, patch.IsFirstTime, time.Now().UTC())
	return scanIdentity(row)
}

func scanIdentity(row pgx.Row) (Identity, error) {
	var (
		id                   uuid.UUID
		createdAt, updatedAt time.Time
		identity             Identity
	)
	err := row.Scan(&id, &identity.ContactPhone, &identity.FullName, &identity.Email,
		&identity.PINHash, &identity.IsFirstTime, &createdAt, &updatedAt)
	if err != nil {
		return Identity{}, mapPgError(err)
	}
	identity.ID = id.String()
	identity.CreatedAt = createdAt.UTC()
	identity.UpdatedAt = updatedAt.UTC()
	return identity, nil
}

func mapPgError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		if pgErr.Code == uniqueViolation {
			switch pgErr.ConstraintName {
			case phoneConstraint:
				return ErrDuplicatePhone
			case emailConstraint:
				return ErrDuplicateEmail
			}
		}
		return err
	}
	return fmt.Errorf("%w: %v", ErrUnavailable, err)
}
