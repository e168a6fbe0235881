package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/auth-platform/savecache-service/internal/save"
)

type metadataRow struct {
	SaveID    string         `db:"save_id"`
	Owner     string         `db:"owner"`
	Nickname  sql.NullString `db:"nickname"`
	CreatedAt int64          `db:"created_at"`
	UpdatedAt int64          `db:"updated_at"`
}

func (r metadataRow) toDomain() save.Metadata {
	created := time.UnixMilli(r.CreatedAt).UTC()
	updated := time.UnixMilli(r.UpdatedAt).UTC()
	m := save.Metadata{
		SaveID:    r.SaveID,
		Owner:     r.Owner,
		CreatedAt: &created,
		UpdatedAt: &updated,
	}
	if r.Nickname.Valid {
		m.Nickname = save.String(r.Nickname.String)
	}
	return m
}

func fromMetadata(m save.Metadata) metadataRow {
	row := metadataRow{
		SaveID:    m.SaveID,
		Owner:     m.Owner,
		CreatedAt: m.CreatedAt.UnixMilli(),
		UpdatedAt: m.UpdatedAt.UnixMilli(),
	}
	if m.Nickname != nil {
		row.Nickname = sql.NullString{String: *m.Nickname, Valid: true}
	}
	return row
}

// MetadataSQL stores save metadata. Deleting a row cascades to the
// aggregate tables.
type MetadataSQL struct {
	db  *sqlx.DB
	now func() time.Time
}

// NewMetadataSQL creates the metadata repository.
func NewMetadataSQL(db *sqlx.DB) *MetadataSQL {
	return &MetadataSQL{db: db, now: time.Now}
}

func (r *MetadataSQL) FindByID(ctx context.Context, saveID string) (save.Metadata, error) {
	var row metadataRow
	q := r.db.Rebind(`SELECT save_id, owner, nickname, created_at, updated_at FROM save_metadata WHERE save_id = ?`)
	if err := r.db.GetContext(ctx, &row, q, saveID); err != nil {
		return save.Metadata{}, mapError(err, "find save_metadata")
	}
	return row.toDomain(), nil
}

func (r *MetadataSQL) Create(ctx context.Context, saveID string, value save.Metadata) (save.Metadata, error) {
	value.SaveID = saveID
	value = value.Complete()
	if value.Owner == "" {
		return save.Metadata{}, save.NewError(save.CodeInvalidArgument, "metadata owner is required")
	}
	_, err := r.db.NamedExecContext(ctx,
		`INSERT INTO save_metadata (save_id, owner, nickname, created_at, updated_at)
		 VALUES (:save_id, :owner, :nickname, :created_at, :updated_at)`,
		fromMetadata(value))
	if err != nil {
		return save.Metadata{}, mapError(err, "create save_metadata")
	}
	return r.FindByID(ctx, saveID)
}

// Update writes the nickname and stamps updated_at. Owner and created_at
// are immutable.
func (r *MetadataSQL) Update(ctx context.Context, saveID string, value save.Metadata) error {
	row := metadataRow{SaveID: saveID, UpdatedAt: r.now().UnixMilli()}
	if value.Nickname != nil {
		row.Nickname = sql.NullString{String: *value.Nickname, Valid: true}
	}
	res, err := r.db.NamedExecContext(ctx,
		`UPDATE save_metadata SET nickname = :nickname, updated_at = :updated_at WHERE save_id = :save_id`,
		row)
	if err != nil {
		return mapError(err, "update save_metadata")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return mapError(err, "update save_metadata")
	}
	if n == 0 {
		return save.Errorf(save.CodeNotFound, "save %s not found", saveID)
	}
	return nil
}

func (r *MetadataSQL) ExistsByID(ctx context.Context, saveID string) (bool, error) {
	var n int64
	q := r.db.Rebind(`SELECT COUNT(1) FROM save_metadata WHERE save_id = ?`)
	if err := r.db.GetContext(ctx, &n, q, saveID); err != nil {
		return false, mapError(err, "exists save_metadata")
	}
	return n > 0, nil
}

func (r *MetadataSQL) ExistsByNickname(ctx context.Context, nickname string) (bool, error) {
	var n int64
	q := r.db.Rebind(`SELECT COUNT(1) FROM save_metadata WHERE nickname = ?`)
	if err := r.db.GetContext(ctx, &n, q, nickname); err != nil {
		return false, mapError(err, "exists nickname")
	}
	return n > 0, nil
}

func (r *MetadataSQL) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := r.db.GetContext(ctx, &n, `SELECT COUNT(1) FROM save_metadata`); err != nil {
		return 0, mapError(err, "count save_metadata")
	}
	return n, nil
}

func (r *MetadataSQL) DeleteByID(ctx context.Context, saveID string) error {
	q := r.db.Rebind(`DELETE FROM save_metadata WHERE save_id = ?`)
	if _, err := r.db.ExecContext(ctx, q, saveID); err != nil {
		return mapError(err, "delete save_metadata")
	}
	return nil
}

// AccountsSQL answers account lookups from the accounts table.
type AccountsSQL struct {
	db *sqlx.DB
}

// NewAccountsSQL creates the account directory.
func NewAccountsSQL(db *sqlx.DB) *AccountsSQL {
	return &AccountsSQL{db: db}
}

func (a *AccountsSQL) ExistsByUsername(ctx context.Context, identity string) (bool, error) {
	var n int64
	q := a.db.Rebind(`SELECT COUNT(1) FROM accounts WHERE username = ?`)
	if err := a.db.GetContext(ctx, &n, q, identity); err != nil {
		return false, mapError(err, "exists account")
	}
	return n > 0, nil
}

var (
	_ save.MetadataRepository = (*MetadataSQL)(nil)
	_ save.AccountDirectory   = (*AccountsSQL)(nil)
)
