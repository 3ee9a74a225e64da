package device

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// maxGroupNameLength bounds operator-supplied group names.
const maxGroupNameLength = 100

// GroupMeta is the server-owned name and description of a bridge group.
type GroupMeta struct {
	ID          int       `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	LabID       string    `json:"lab_id,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// GroupMetaRepository persists group metadata.
type GroupMetaRepository interface {
	// Get returns ErrGroupMetaNotFound when no row exists.
	Get(ctx context.Context, id int) (*GroupMeta, error)
	List(ctx context.Context) ([]GroupMeta, error)
	// Upsert inserts or replaces the row for meta.ID.
	Upsert(ctx context.Context, meta *GroupMeta) error
	Delete(ctx context.Context, id int) error
}

// SQLiteGroupMetaRepository implements GroupMetaRepository using SQLite.
type SQLiteGroupMetaRepository struct {
	db *sql.DB
}

// NewSQLiteGroupMetaRepository creates a repository over the group_meta table.
//
// Security: Uses parameterised SQL queries to prevent injection.
func NewSQLiteGroupMetaRepository(db *sql.DB) *SQLiteGroupMetaRepository {
	return &SQLiteGroupMetaRepository{db: db}
}

// Get retrieves metadata for one group.
func (r *SQLiteGroupMetaRepository) Get(ctx context.Context, id int) (*GroupMeta, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, name, description, lab_id, created_at, updated_at
		FROM group_meta
		WHERE id = ?`, id)

	meta, err := scanGroupMeta(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrGroupMetaNotFound
		}
		return nil, fmt.Errorf("querying group meta: %w", err)
	}
	return meta, nil
}

// List retrieves all metadata rows ordered by ID.
func (r *SQLiteGroupMetaRepository) List(ctx context.Context) ([]GroupMeta, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, name, description, lab_id, created_at, updated_at
		FROM group_meta
		ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("querying group meta: %w", err)
	}
	defer rows.Close()

	var metas []GroupMeta
	for rows.Next() {
		meta, err := scanGroupMeta(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning group meta: %w", err)
		}
		metas = append(metas, *meta)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating group meta: %w", err)
	}
	return metas, nil
}

// Upsert inserts a row or updates name, description and lab of an existing one.
// CreatedAt is preserved on update.
func (r *SQLiteGroupMetaRepository) Upsert(ctx context.Context, meta *GroupMeta) error {
	now := time.Now().UTC()
	if meta.CreatedAt.IsZero() {
		meta.CreatedAt = now
	}
	meta.UpdatedAt = now

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO group_meta (id, name, description, lab_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			lab_id = excluded.lab_id,
			updated_at = excluded.updated_at`,
		meta.ID,
		meta.Name,
		nullableString(meta.Description),
		nullableString(meta.LabID),
		meta.CreatedAt.Format(time.RFC3339),
		meta.UpdatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("upserting group meta: %w", err)
	}
	return nil
}

// Delete removes the metadata row for a group.
func (r *SQLiteGroupMetaRepository) Delete(ctx context.Context, id int) error {
	result, err := r.db.ExecContext(ctx, "DELETE FROM group_meta WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting group meta: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if affected == 0 {
		return ErrGroupMetaNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanGroupMeta(row rowScanner) (*GroupMeta, error) {
	var (
		meta                 GroupMeta
		description, labID   sql.NullString
		createdAt, updatedAt string
	)
	if err := row.Scan(&meta.ID, &meta.Name, &description, &labID, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	meta.Description = description.String
	meta.LabID = labID.String

	var err error
	if meta.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	if meta.UpdatedAt, err = time.Parse(time.RFC3339, updatedAt); err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}
	return &meta, nil
}

// nullableString maps empty strings to NULL for optional TEXT columns.
func nullableString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// GroupMetaPatch is an operator edit; nil fields are left unchanged.
type GroupMetaPatch struct {
	Name        *string `json:"name,omitempty"`
	Description *string `json:"description,omitempty"`
}

// Validate checks a patch before it touches storage.
func (p GroupMetaPatch) Validate() error {
	if p.Name == nil && p.Description == nil {
		return fmt.Errorf("%w: nothing to update", ErrInvalidGroupMeta)
	}
	if p.Name != nil {
		name := strings.TrimSpace(*p.Name)
		if name == "" {
			return fmt.Errorf("%w: name is required", ErrInvalidGroupMeta)
		}
		if len(name) > maxGroupNameLength {
			return fmt.Errorf("%w: name exceeds %d characters", ErrInvalidGroupMeta, maxGroupNameLength)
		}
	}
	return nil
}

// GroupDirectory reconciles bridge groups with persisted metadata: the
// bridge owns membership, the server owns name and description.
type GroupDirectory struct {
	repo   GroupMetaRepository
	cache  *Cache
	logger Logger
}

// NewGroupDirectory creates a directory over repo that writes into cache.
func NewGroupDirectory(repo GroupMetaRepository, cache *Cache) *GroupDirectory {
	return &GroupDirectory{repo: repo, cache: cache, logger: noopLogger{}}
}

// SetLogger sets the logger for the directory.
func (d *GroupDirectory) SetLogger(logger Logger) {
	d.logger = logger
}

// Reconcile applies stored metadata to a bridge group snapshot, seeds
// metadata for groups seen for the first time, and swaps the result into
// the cache. Metadata for groups missing from the snapshot is kept.
func (d *GroupDirectory) Reconcile(ctx context.Context, groups []Group) error {
	metas, err := d.repo.List(ctx)
	if err != nil {
		return fmt.Errorf("loading group meta: %w", err)
	}
	byID := make(map[int]GroupMeta, len(metas))
	for _, m := range metas {
		byID[m.ID] = m
	}

	reconciled := make([]Group, 0, len(groups))
	for _, g := range groups {
		g := *g.DeepCopy()
		if meta, ok := byID[g.ID]; ok {
			g.FriendlyName = meta.Name
			g.Description = meta.Description
		} else {
			seed := &GroupMeta{ID: g.ID, Name: g.FriendlyName, Description: g.Description}
			if err := d.repo.Upsert(ctx, seed); err != nil {
				// Serve the bridge's name this round; the next snapshot retries.
				d.logger.Warn("seeding group meta failed", "group_id", g.ID, "error", err)
			} else {
				d.logger.Info("group meta seeded", "group_id", g.ID, "name", g.FriendlyName)
			}
		}
		reconciled = append(reconciled, g)
	}

	d.cache.ReplaceGroups(reconciled)
	return nil
}

// Update applies an operator edit to a group's metadata and patches the cache.
func (d *GroupDirectory) Update(ctx context.Context, id int, patch GroupMetaPatch) (*Group, error) {
	if err := patch.Validate(); err != nil {
		return nil, err
	}

	group, err := d.cache.Group(id)
	if err != nil {
		return nil, err
	}

	meta, err := d.repo.Get(ctx, id)
	if errors.Is(err, ErrGroupMetaNotFound) {
		meta = &GroupMeta{ID: id, Name: group.FriendlyName, Description: group.Description}
	} else if err != nil {
		return nil, err
	}

	if patch.Name != nil {
		meta.Name = strings.TrimSpace(*patch.Name)
	}
	if patch.Description != nil {
		meta.Description = strings.TrimSpace(*patch.Description)
	}
	if err := d.repo.Upsert(ctx, meta); err != nil {
		return nil, err
	}

	if err := d.cache.PatchGroup(id, meta.Name, meta.Description); err != nil {
		return nil, err
	}
	return d.cache.Group(id)
}
