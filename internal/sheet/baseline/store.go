package baseline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	apperrors "github.com/yungbote/archsheet-backend/internal/pkg/errors"
	"github.com/yungbote/archsheet-backend/internal/platform/logger"
)

// Backend is the minimal key/value contract a storage medium must
// satisfy. Implementations are selected by dependency injection, never by
// runtime string dispatch.
type Backend interface {
	Put(ctx context.Context, key string, value []byte) error
	Get(ctx context.Context, key string) ([]byte, error) // nil, ErrNotFound when absent
	Delete(ctx context.Context, key string) (bool, error)
}

// Store publishes and retrieves baseline bundles.
type Store struct {
	log     *logger.Logger
	backend Backend
}

func NewStore(log *logger.Logger, backend Backend) *Store {
	return &Store{
		log:     log.With("component", "BaselineStore"),
		backend: backend,
	}
}

// Key builds the storage key for a design+sheet pair.
func Key(designID, sheetID string) string {
	return fmt.Sprintf("%s_%s_baseline", designID, sheetID)
}

// Save publishes a bundle. The bundle is already immutable; Save only
// validates identity and writes. Publishing for a key that already holds
// a baseline replaces it with the new bundle wholesale, which is the only
// supported form of "modification".
func (s *Store) Save(ctx context.Context, designID, sheetID string, bundle *Bundle) error {
	if strings.TrimSpace(designID) == "" || strings.TrimSpace(sheetID) == "" {
		return fmt.Errorf("%w: designID and sheetID are required", apperrors.ErrInvalidArgument)
	}
	if bundle == nil {
		return fmt.Errorf("%w: bundle is required", apperrors.ErrInvalidArgument)
	}
	raw, err := json.Marshal(bundle)
	if err != nil {
		return fmt.Errorf("marshal baseline bundle: %w", err)
	}
	key := Key(designID, sheetID)
	if err := s.backend.Put(ctx, key, raw); err != nil {
		return fmt.Errorf("save baseline %s: %w", key, err)
	}
	s.log.Info("baseline published", "design_id", designID, "sheet_id", sheetID, "key", key)
	return nil
}

// Get returns the published bundle, or ErrNotFound when none exists.
func (s *Store) Get(ctx context.Context, designID, sheetID string) (*Bundle, error) {
	raw, err := s.backend.Get(ctx, Key(designID, sheetID))
	if err != nil {
		return nil, err
	}
	var bundle Bundle
	if err := json.Unmarshal(raw, &bundle); err != nil {
		return nil, fmt.Errorf("decode baseline bundle: %w", err)
	}
	return &bundle, nil
}

// RequireForModification loads the baseline a modification run derives
// from; absence is a hard precondition failure.
func (s *Store) RequireForModification(ctx context.Context, designID, sheetID string) (*Bundle, error) {
	bundle, err := s.Get(ctx, designID, sheetID)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil, fmt.Errorf("%w: no baseline for design %s sheet %s; generate one first",
				apperrors.ErrBaselineMissing, designID, sheetID)
		}
		return nil, err
	}
	return bundle, nil
}

// Delete removes a published baseline; returns whether one existed.
func (s *Store) Delete(ctx context.Context, designID, sheetID string) (bool, error) {
	return s.backend.Delete(ctx, Key(designID, sheetID))
}
