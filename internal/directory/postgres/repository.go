// Package postgres provides the PostgreSQL implementation of the directory
// repository.
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sirenhq/sos-dispatch/internal/domain"
)

// Repository implements directory.Repository using PostgreSQL.
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository creates a new PostgreSQL repository.
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

// PersonalContacts returns the user's personal emergency contacts, oldest
// first.
func (r *Repository) PersonalContacts(ctx context.Context, userID string) ([]domain.PersonalContact, error) {
	query := `
		SELECT name, channel, address
		FROM emergency_contacts
		WHERE user_id = $1
		ORDER BY created_at
	`
	rows, err := r.db.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("list personal contacts: %w", err)
	}
	defer rows.Close()

	contacts := make([]domain.PersonalContact, 0)
	for rows.Next() {
		var c domain.PersonalContact
		if err := rows.Scan(&c.Name, &c.Channel, &c.Address); err != nil {
			return nil, fmt.Errorf("scan personal contact: %w", err)
		}
		contacts = append(contacts, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate personal contacts: %w", err)
	}
	return contacts, nil
}
