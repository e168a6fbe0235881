package save

import (
	"context"
	"strings"
)

// Repository is the durable store of one aggregate kind, keyed by save id.
// Rows returned by FindByID and Create are always complete.
type Repository[T any] interface {
	// FindByID returns the row or an error coded CodeNotFound.
	FindByID(ctx context.Context, saveID string) (T, error)

	// Create inserts a complete row and returns it.
	Create(ctx context.Context, saveID string, value T) (T, error)

	// Update overwrites the row; CodeNotFound when it does not exist.
	Update(ctx context.Context, saveID string, value T) error

	// ExistsByID reports whether a row exists.
	ExistsByID(ctx context.Context, saveID string) (bool, error)

	// Count returns the number of rows.
	Count(ctx context.Context) (int64, error)

	// DeleteByID removes the row if present.
	DeleteByID(ctx context.Context, saveID string) error
}

// MetadataRepository adds nickname uniqueness lookups to the metadata store.
type MetadataRepository interface {
	Repository[Metadata]

	// ExistsByNickname reports whether any save uses nickname.
	ExistsByNickname(ctx context.Context, nickname string) (bool, error)
}

// AccountDirectory answers whether an account identity exists.
type AccountDirectory interface {
	ExistsByUsername(ctx context.Context, identity string) (bool, error)
}

// ValidateID rejects blank save identifiers.
func ValidateID(saveID string) error {
	if strings.TrimSpace(saveID) == "" {
		return ErrEmptySaveID
	}
	return nil
}
