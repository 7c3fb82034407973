// Package services – SegmentService
//
// This file implements the segment registry: the administrator-maintained
// list of CRM segments whose members count as having a membership. The
// registry is read by the membership cache on every refresh, so edits take
// effect lazily (no cache invalidation cascade).
package services

import (
	"context"
	"errors"
	"strings"

	"gorm.io/gorm"

	"github.com/tbourn/checkin-kiosk/internal/domain"
	"github.com/tbourn/checkin-kiosk/internal/repo"
)

// SegmentRepo defines the repository contract required by SegmentService.
type SegmentRepo interface {
	// ListSegments returns every segment in registry order.
	ListSegments(ctx context.Context, db *gorm.DB) ([]domain.CustomerSegment, error)

	// ListSegmentIDs returns the external ids of every segment.
	ListSegmentIDs(ctx context.Context, db *gorm.DB) ([]string, error)

	// GetSegment fetches a segment by internal id.
	GetSegment(ctx context.Context, db *gorm.DB, id uint) (*domain.CustomerSegment, error)

	// CreateSegment inserts a segment.
	CreateSegment(ctx context.Context, db *gorm.DB, segmentID, displayName string, sortOrder int) (*domain.CustomerSegment, error)

	// UpdateSegment rewrites a segment's fields.
	UpdateSegment(ctx context.Context, db *gorm.DB, id uint, segmentID, displayName string, sortOrder int) error

	// DeleteSegment removes a segment.
	DeleteSegment(ctx context.Context, db *gorm.DB, id uint) error
}

// SegmentInput carries the editable fields of a segment.
type SegmentInput struct {
	SegmentID   string
	DisplayName string
	SortOrder   int
}

// SegmentService provides CRUD over the segment registry.
type SegmentService struct {
	// DB is the GORM handle used for persistence.
	DB *gorm.DB
	// Repo is the segment repository used by this service.
	Repo SegmentRepo
}

// NewSegmentService constructs a SegmentService.
func NewSegmentService(db *gorm.DB, r SegmentRepo) *SegmentService {
	return &SegmentService{DB: db, Repo: r}
}

// List returns every configured segment ordered by sort order.
func (s *SegmentService) List(ctx context.Context) ([]domain.CustomerSegment, error) {
	return s.Repo.ListSegments(ctx, s.DB)
}

// ConfiguredIDs returns the external segment ids that count as membership.
func (s *SegmentService) ConfiguredIDs(ctx context.Context) ([]string, error) {
	return s.Repo.ListSegmentIDs(ctx, s.DB)
}

// Get returns a segment by internal id.
func (s *SegmentService) Get(ctx context.Context, id uint) (*domain.CustomerSegment, error) {
	seg, err := s.Repo.GetSegment(ctx, s.DB, id)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrSegmentNotFound
		}
		return nil, err
	}
	return seg, nil
}

// Create registers a segment. A blank display name falls back to the
// external id.
func (s *SegmentService) Create(ctx context.Context, in SegmentInput) (*domain.CustomerSegment, error) {
	in, err := normalizeSegment(in)
	if err != nil {
		return nil, err
	}
	seg, err := s.Repo.CreateSegment(ctx, s.DB, in.SegmentID, in.DisplayName, in.SortOrder)
	if errors.Is(err, repo.ErrDuplicate) {
		return nil, ErrDuplicateSegment
	}
	return seg, err
}

// Update rewrites every editable field of segment id.
func (s *SegmentService) Update(ctx context.Context, id uint, in SegmentInput) (*domain.CustomerSegment, error) {
	in, err := normalizeSegment(in)
	if err != nil {
		return nil, err
	}
	switch err := s.Repo.UpdateSegment(ctx, s.DB, id, in.SegmentID, in.DisplayName, in.SortOrder); {
	case errors.Is(err, repo.ErrNotFound):
		return nil, ErrSegmentNotFound
	case errors.Is(err, repo.ErrDuplicate):
		return nil, ErrDuplicateSegment
	case err != nil:
		return nil, err
	}
	return s.Get(ctx, id)
}

// Delete removes segment id. Cached verdicts are corrected on their next
// refresh.
func (s *SegmentService) Delete(ctx context.Context, id uint) error {
	if err := s.Repo.DeleteSegment(ctx, s.DB, id); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return ErrSegmentNotFound
		}
		return err
	}
	return nil
}

func normalizeSegment(in SegmentInput) (SegmentInput, error) {
	in.SegmentID = strings.TrimSpace(in.SegmentID)
	in.DisplayName = strings.Join(strings.Fields(in.DisplayName), " ")
	if in.SegmentID == "" {
		return in, ErrInvalidInput
	}
	if in.DisplayName == "" {
		in.DisplayName = in.SegmentID
	}
	return in, nil
}
