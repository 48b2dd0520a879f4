package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/soyeahso/chatpulse/internal/domain"
)

const tableContacts = "contacts"

// ContactStore persists contacts.
type ContactStore struct {
	db *DB
	w  *Writer
}

// NewContactStore creates a contact store using the given database and writer.
func NewContactStore(db *DB, w *Writer) *ContactStore {
	return &ContactStore{db: db, w: w}
}

// Get returns a contact by internal id, or nil if not found.
func (s *ContactStore) Get(ctx context.Context, id string) (*domain.Contact, error) {
	return s.getBy(ctx, "id", id)
}

// GetByExternalID returns a contact by platform id, or nil if not found.
func (s *ContactStore) GetByExternalID(ctx context.Context, externalID string) (*domain.Contact, error) {
	return s.getBy(ctx, "external_id", externalID)
}

// GetByPhone returns a contact by normalized phone, or nil if not found.
func (s *ContactStore) GetByPhone(ctx context.Context, phone string) (*domain.Contact, error) {
	return s.getBy(ctx, "phone", phone)
}

func (s *ContactStore) getBy(ctx context.Context, column, value string) (*domain.Contact, error) {
	c, err := scanContact(s.db.queryRow(ctx,
		`SELECT `+contactColumns+` FROM contacts WHERE `+column+` = ?`, value))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get contact by %s: %w", column, err)
	}
	return c, nil
}

// Insert stores a new contact.
func (s *ContactStore) Insert(ctx context.Context, c *domain.Contact) error {
	row := contactRow(c)
	row["id"] = c.ID
	row["created_at"] = c.CreatedAt
	_, err := s.w.InsertWithRetry(ctx, tableContacts, row)
	return err
}

// Update overwrites the mutable fields of an existing contact.
func (s *ContactStore) Update(ctx context.Context, c *domain.Contact) error {
	_, err := s.w.UpdateWithRetry(ctx, tableContacts, contactRow(c), Row{"id": c.ID})
	return err
}

// Count returns the number of stored contacts.
func (s *ContactStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.queryRow(ctx, `SELECT COUNT(*) FROM contacts`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count contacts: %w", err)
	}
	return n, nil
}

func contactRow(c *domain.Contact) Row {
	return Row{
		"external_id":         nullable(c.ExternalID),
		"phone":               c.Phone,
		"name":                nullable(c.Name),
		"email":               nullable(c.Email),
		"status":              c.Status,
		"tags":                c.Tags,
		"metadata":            c.Metadata,
		"last_interaction_at": c.LastInteractionAt,
		"updated_at":          c.UpdatedAt,
	}
}

const contactColumns = `id, external_id, phone, name, email, status, tags, metadata,
	last_interaction_at, created_at, updated_at`

func scanContact(sc scanner) (*domain.Contact, error) {
	var (
		c                                 domain.Contact
		externalID, name, email           sql.NullString
		status, tags, metadata            string
		lastInteraction, created, updated string
	)
	if err := sc.Scan(&c.ID, &externalID, &c.Phone, &name, &email, &status, &tags, &metadata,
		&lastInteraction, &created, &updated); err != nil {
		return nil, err
	}

	c.ExternalID = externalID.String
	c.Name = name.String
	c.Email = email.String
	c.Status = domain.ContactStatus(status)

	var err error
	if c.Tags, err = domain.UnmarshalTagSet(tags); err != nil {
		return nil, fmt.Errorf("decoding contact tags: %w", err)
	}
	if c.Metadata, err = domain.UnmarshalMetadata(metadata); err != nil {
		return nil, fmt.Errorf("decoding contact metadata: %w", err)
	}

	c.LastInteractionAt = parseTime(lastInteraction)
	c.CreatedAt = parseTime(created)
	c.UpdatedAt = parseTime(updated)
	return &c, nil
}
