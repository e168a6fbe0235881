// Package composition assembles and manages whole game saves across the
// four aggregate kinds.
package composition

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/auth-platform/savecache-service/internal/observability"
	"github.com/auth-platform/savecache-service/internal/save"
	"github.com/auth-platform/savecache-service/internal/service"
)

// CreateSaveRequest describes a new save. Nil aggregates start at their
// defaults; an empty SaveID gets a generated UUID and an empty Nickname
// leaves the save unnamed.
type CreateSaveRequest struct {
	SaveID          string                `json:"saveId,omitempty" validate:"omitempty,max=64"`
	Owner           string                `json:"owner" validate:"required,max=255"`
	Nickname        string                `json:"nickname,omitempty" validate:"omitempty,max=64"`
	Characteristics *save.Characteristics `json:"characteristics,omitempty"`
	Currency        *save.Currency        `json:"currency,omitempty"`
	Stage           *save.Stage           `json:"stage,omitempty"`
}

// Kind bundles the read and write services of one aggregate kind with its
// repository.
type Kind[T save.Aggregate[T]] struct {
	Query   *service.QueryService[T]
	Command *service.CommandService[T]
	Repo    save.Repository[T]
}

// Deps are the collaborators of Service.
type Deps struct {
	Metadata        Kind[save.Metadata]
	MetadataRepo    save.MetadataRepository
	Characteristics Kind[save.Characteristics]
	Currency        Kind[save.Currency]
	Stage           Kind[save.Stage]
	Accounts        save.AccountDirectory
	Logger          *slog.Logger
	NewID           func() string
}

// Service composes, creates and deletes whole saves.
type Service struct {
	deps     Deps
	validate *validator.Validate
	logger   *slog.Logger
}

// New creates a composition service.
func New(deps Deps) *Service {
	if deps.Logger == nil {
		deps.Logger = observability.NopLogger()
	}
	if deps.NewID == nil {
		deps.NewID = uuid.NewString
	}
	return &Service{
		deps:     deps,
		validate: validator.New(),
		logger:   deps.Logger,
	}
}

// GetFullSave reads the four aggregates of saveID concurrently, each with
// its pending cached fields applied.
func (s *Service) GetFullSave(ctx context.Context, saveID string) (save.Save, error) {
	if err := save.ValidateID(saveID); err != nil {
		return save.Save{}, err
	}

	var out save.Save
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		v, err := s.deps.Metadata.Query.Retrieve(gctx, saveID)
		out.Metadata = v
		return err
	})
	g.Go(func() error {
		v, err := s.deps.Characteristics.Query.Retrieve(gctx, saveID)
		out.Characteristics = v
		return err
	})
	g.Go(func() error {
		v, err := s.deps.Currency.Query.Retrieve(gctx, saveID)
		out.Currency = v
		return err
	})
	g.Go(func() error {
		v, err := s.deps.Stage.Query.Retrieve(gctx, saveID)
		out.Stage = v
		return err
	})
	if err := g.Wait(); err != nil {
		return save.Save{}, err
	}
	return out, nil
}

// CreateSave validates req, creates the metadata row and initializes the
// three game-state aggregates. A partially created save is removed again.
func (s *Service) CreateSave(ctx context.Context, req CreateSaveRequest) (save.Save, error) {
	req.Owner = strings.TrimSpace(req.Owner)
	req.Nickname = strings.TrimSpace(req.Nickname)
	if err := s.validate.Struct(req); err != nil {
		return save.Save{}, save.WrapError(save.ErrInvalidArgument, "invalid create request", err)
	}

	if req.SaveID != "" {
		if err := save.ValidateID(req.SaveID); err != nil {
			return save.Save{}, err
		}
		exists, err := s.deps.MetadataRepo.ExistsByID(ctx, req.SaveID)
		if err != nil {
			return save.Save{}, err
		}
		if exists {
			return save.Save{}, save.Errorf(save.CodeAlreadyExists, "save %s already exists", req.SaveID)
		}
	}

	var nickname *string
	if req.Nickname != "" {
		taken, err := s.deps.MetadataRepo.ExistsByNickname(ctx, req.Nickname)
		if err != nil {
			return save.Save{}, err
		}
		if taken {
			return save.Save{}, save.Errorf(save.CodeAlreadyExists, "nickname %q already in use", req.Nickname)
		}
		nickname = save.String(req.Nickname)
	}

	known, err := s.deps.Accounts.ExistsByUsername(ctx, req.Owner)
	if err != nil {
		return save.Save{}, err
	}
	if !known {
		return save.Save{}, save.Errorf(save.CodeNotFound, "account %s not found", req.Owner)
	}

	saveID := req.SaveID
	if saveID == "" {
		saveID = s.deps.NewID()
	}

	var out save.Save
	out.Metadata, err = s.deps.Metadata.Command.Initialize(ctx, saveID, save.Metadata{
		SaveID:   saveID,
		Owner:    req.Owner,
		Nickname: nickname,
	})
	if err != nil {
		return save.Save{}, err
	}

	if err := s.initAggregates(ctx, saveID, req, &out); err != nil {
		s.logger.ErrorContext(ctx, "save creation failed, rolling back",
			slog.String("save_id", saveID),
			slog.String("error", err.Error()),
		)
		if rbErr := s.deleteRows(ctx, saveID); rbErr != nil {
			return save.Save{}, errors.Join(err, fmt.Errorf("rollback: %w", rbErr))
		}
		return save.Save{}, err
	}

	s.logger.InfoContext(ctx, "save created",
		slog.String("save_id", saveID),
		slog.String("owner", req.Owner),
	)
	return out, nil
}

func (s *Service) initAggregates(ctx context.Context, saveID string, req CreateSaveRequest, out *save.Save) error {
	var err error
	if req.Characteristics != nil {
		out.Characteristics, err = s.deps.Characteristics.Command.Initialize(ctx, saveID, *req.Characteristics)
	} else {
		out.Characteristics, err = s.deps.Characteristics.Command.InitializeDefault(ctx, saveID)
	}
	if err != nil {
		return err
	}

	if req.Currency != nil {
		out.Currency, err = s.deps.Currency.Command.Initialize(ctx, saveID, *req.Currency)
	} else {
		out.Currency, err = s.deps.Currency.Command.InitializeDefault(ctx, saveID)
	}
	if err != nil {
		return err
	}

	if req.Stage != nil {
		out.Stage, err = s.deps.Stage.Command.Initialize(ctx, saveID, *req.Stage)
	} else {
		out.Stage, err = s.deps.Stage.Command.InitializeDefault(ctx, saveID)
	}
	return err
}

// DeleteSave removes every row of saveID and drops its pending cached
// values, which are never persisted.
func (s *Service) DeleteSave(ctx context.Context, saveID string) error {
	if err := save.ValidateID(saveID); err != nil {
		return err
	}
	exists, err := s.deps.MetadataRepo.ExistsByID(ctx, saveID)
	if err != nil {
		return err
	}
	if !exists {
		return save.Errorf(save.CodeNotFound, "save %s not found", saveID)
	}

	if err := s.deleteRows(ctx, saveID); err != nil {
		return err
	}

	discards := []func(context.Context, string) error{
		s.deps.Metadata.Command.Discard,
		s.deps.Characteristics.Command.Discard,
		s.deps.Currency.Command.Discard,
		s.deps.Stage.Command.Discard,
	}
	for _, discard := range discards {
		if err := discard(ctx, saveID); err != nil {
			s.logger.WarnContext(ctx, "failed to discard cached entry of deleted save",
				slog.String("save_id", saveID),
				slog.String("error", err.Error()),
			)
		}
	}

	s.logger.InfoContext(ctx, "save deleted", slog.String("save_id", saveID))
	return nil
}

// deleteRows removes the aggregate rows before the metadata row and keeps
// going past failures.
func (s *Service) deleteRows(ctx context.Context, saveID string) error {
	deletes := []func(context.Context, string) error{
		s.deps.Characteristics.Repo.DeleteByID,
		s.deps.Currency.Repo.DeleteByID,
		s.deps.Stage.Repo.DeleteByID,
		s.deps.MetadataRepo.DeleteByID,
	}
	var errs []error
	for _, del := range deletes {
		if err := del(ctx, saveID); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// CheckOwnership verifies that account owns saveID. Identities must match
// exactly after trimming. The owner is read with pending cached metadata
// applied.
func (s *Service) CheckOwnership(ctx context.Context, saveID, account string) error {
	meta, err := s.deps.Metadata.Query.Retrieve(ctx, saveID)
	if err != nil {
		return err
	}
	if meta.Owner != strings.TrimSpace(account) {
		return save.Errorf(save.CodeForbidden, "save %s is not owned by the caller", saveID)
	}
	return nil
}
