package identity

import (
	"context"
	"database/sql"
	"fmt"
)

// PostgresDirectory resolves identity existence against the users reference
// table. The table itself is owned by the identity service; this core only
// reads it.
type PostgresDirectory struct {
	db *sql.DB
}

// NewPostgresDirectory creates a directory backed by the given handle.
func NewPostgresDirectory(db *sql.DB) *PostgresDirectory {
	return &PostgresDirectory{db: db}
}

// Exists reports whether the identity resolves to a real party.
func (d *PostgresDirectory) Exists(ctx context.Context, id ID) (bool, error) {
	var exists bool
	err := d.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM users WHERE id = $1)`, string(id),
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("identity: exists %s: %w", id, err)
	}
	return exists, nil
}

// ListingDirectory resolves listing existence against the listings reference
// table (the listing collaborator's data). Only the existence check is
// consumed here, for flagging.
type ListingDirectory struct {
	db *sql.DB
}

// NewListingDirectory creates a listing existence checker.
func NewListingDirectory(db *sql.DB) *ListingDirectory {
	return &ListingDirectory{db: db}
}

// Exists reports whether a listing with the given id exists.
func (d *ListingDirectory) Exists(ctx context.Context, listingID string) (bool, error) {
	var exists bool
	err := d.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM listings WHERE id = $1)`, listingID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("identity: listing exists %s: %w", listingID, err)
	}
	return exists, nil
}
