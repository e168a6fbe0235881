package repository

import (
	"context"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"

	"github.com/auth-platform/savecache-service/internal/save"
)

// Table maps one aggregate kind onto its SQL table. Columns are listed in
// the order Values returns them and match the db tags of T.
type Table[T save.Aggregate[T]] struct {
	Name    string
	Columns []string
	Values  func(T) []any
}

// CharacteristicsTable is the save_characteristics mapping.
var CharacteristicsTable = Table[save.Characteristics]{
	Name:    "save_characteristics",
	Columns: []string{"attack", "crit_chance", "crit_damage", "health", "resistance"},
	Values: func(c save.Characteristics) []any {
		return []any{c.Attack, c.CritChance, c.CritDamage, c.Health, c.Resistance}
	},
}

// CurrencyTable is the save_currency mapping.
var CurrencyTable = Table[save.Currency]{
	Name:    "save_currency",
	Columns: []string{"gold", "diamond", "emerald", "amethyst"},
	Values: func(c save.Currency) []any {
		return []any{c.Gold, c.Diamond, c.Emerald, c.Amethyst}
	},
}

// StageTable is the save_stage mapping.
var StageTable = Table[save.Stage]{
	Name:    "save_stage",
	Columns: []string{"current_stage", "max_stage", "wave"},
	Values: func(s save.Stage) []any {
		return []any{s.CurrentStage, s.MaxStage, s.Wave}
	},
}

// SQL stores one numeric aggregate kind in its own table, keyed by save_id.
type SQL[T save.Aggregate[T]] struct {
	db    *sqlx.DB
	table Table[T]

	selectQ string
	insertQ string
	updateQ string
	existsQ string
	countQ  string
	deleteQ string
}

// NewSQL creates a repository over table.
func NewSQL[T save.Aggregate[T]](db *sqlx.DB, table Table[T]) *SQL[T] {
	cols := strings.Join(table.Columns, ", ")
	sets := make([]string, len(table.Columns))
	marks := make([]string, len(table.Columns)+1)
	marks[0] = "?"
	for i, c := range table.Columns {
		sets[i] = c + " = ?"
		marks[i+1] = "?"
	}
	return &SQL[T]{
		db:      db,
		table:   table,
		selectQ: db.Rebind(fmt.Sprintf("SELECT %s FROM %s WHERE save_id = ?", cols, table.Name)),
		insertQ: db.Rebind(fmt.Sprintf("INSERT INTO %s (save_id, %s) VALUES (%s)", table.Name, cols, strings.Join(marks, ", "))),
		updateQ: db.Rebind(fmt.Sprintf("UPDATE %s SET %s WHERE save_id = ?", table.Name, strings.Join(sets, ", "))),
		existsQ: db.Rebind(fmt.Sprintf("SELECT COUNT(1) FROM %s WHERE save_id = ?", table.Name)),
		countQ:  fmt.Sprintf("SELECT COUNT(1) FROM %s", table.Name),
		deleteQ: db.Rebind(fmt.Sprintf("DELETE FROM %s WHERE save_id = ?", table.Name)),
	}
}

func (r *SQL[T]) FindByID(ctx context.Context, saveID string) (T, error) {
	var row T
	if err := r.db.GetContext(ctx, &row, r.selectQ, saveID); err != nil {
		var zero T
		return zero, mapError(err, "find "+r.table.Name)
	}
	return row, nil
}

func (r *SQL[T]) Create(ctx context.Context, saveID string, value T) (T, error) {
	value = value.Complete()
	args := append([]any{saveID}, r.table.Values(value)...)
	if _, err := r.db.ExecContext(ctx, r.insertQ, args...); err != nil {
		var zero T
		return zero, mapError(err, "create "+r.table.Name)
	}
	return value, nil
}

func (r *SQL[T]) Update(ctx context.Context, saveID string, value T) error {
	if !value.IsComplete() {
		return save.Errorf(save.CodeInvalidArgument, "%s update needs every field", r.table.Name)
	}
	args := append(r.table.Values(value), saveID)
	res, err := r.db.ExecContext(ctx, r.updateQ, args...)
	if err != nil {
		return mapError(err, "update "+r.table.Name)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return mapError(err, "update "+r.table.Name)
	}
	if n == 0 {
		return save.Errorf(save.CodeNotFound, "%s row for save %s not found", r.table.Name, saveID)
	}
	return nil
}

func (r *SQL[T]) ExistsByID(ctx context.Context, saveID string) (bool, error) {
	var n int64
	if err := r.db.GetContext(ctx, &n, r.existsQ, saveID); err != nil {
		return false, mapError(err, "exists "+r.table.Name)
	}
	return n > 0, nil
}

func (r *SQL[T]) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := r.db.GetContext(ctx, &n, r.countQ); err != nil {
		return 0, mapError(err, "count "+r.table.Name)
	}
	return n, nil
}

func (r *SQL[T]) DeleteByID(ctx context.Context, saveID string) error {
	if _, err := r.db.ExecContext(ctx, r.deleteQ, saveID); err != nil {
		return mapError(err, "delete "+r.table.Name)
	}
	return nil
}

var _ save.Repository[save.Currency] = (*SQL[save.Currency])(nil)
