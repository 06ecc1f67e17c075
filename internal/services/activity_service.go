package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/fieldsafe/fieldsafe/internal/authz"
	"github.com/fieldsafe/fieldsafe/internal/models"
)

// ActivityEntry captures a single activity event to persist.
type ActivityEntry struct {
	UserID         string
	OrganizationID string
	Action         string
	Description    string
	TargetType     string
	TargetID       string
}

// ActivityFilters encapsulates optional filters when querying the activity log.
type ActivityFilters struct {
	UserID     string
	Action     string
	TargetType string
	Since      *time.Time
	Until      *time.Time
}

// ActivityListOptions controls pagination and filtering for activity queries.
type ActivityListOptions struct {
	Page           int
	PageSize       int
	OrganizationID string // explicit override, intersected with the actor scope
	Filters        ActivityFilters
}

// ActivityService persists and retrieves append-only activity records.
type ActivityService struct {
	db       *gorm.DB
	resolver *authz.Resolver
}

// NewActivityService constructs an ActivityService using the provided database handle.
func NewActivityService(db *gorm.DB) (*ActivityService, error) {
	if db == nil {
		return nil, errors.New("activity service: db is required")
	}
	resolver, err := authz.NewResolver(db)
	if err != nil {
		return nil, err
	}
	return &ActivityService{db: db, resolver: resolver}, nil
}

// Record stores an activity entry. Records are append-only.
func (s *ActivityService) Record(ctx context.Context, entry ActivityEntry) error {
	ctx = ensureContext(ctx)

	if strings.TrimSpace(entry.Action) == "" {
		return errors.New("activity service: action is required")
	}

	row := models.ActivityLog{
		Action:      strings.TrimSpace(entry.Action),
		Description: strings.TrimSpace(entry.Description),
		TargetType:  strings.TrimSpace(entry.TargetType),
		TargetID:    strings.TrimSpace(entry.TargetID),
		UserID:      strPtr(entry.UserID),
	}
	row.OrganizationID = strPtr(entry.OrganizationID)

	return s.db.WithContext(ctx).Create(&row).Error
}

// List returns paginated activity records visible to the actor, newest first.
func (s *ActivityService) List(ctx context.Context, actor authz.Actor, opts ActivityListOptions) ([]models.ActivityLog, int64, error) {
	ctx = ensureContext(ctx)

	scope, err := s.resolver.Resolve(ctx, actor, opts.OrganizationID)
	if err != nil {
		return nil, 0, err
	}

	page := opts.Page
	if page <= 0 {
		page = 1
	}
	perPage := opts.PageSize
	if perPage <= 0 || perPage > 200 {
		perPage = 50
	}

	query := s.db.WithContext(ctx).Model(&models.ActivityLog{})
	query = scope.Apply(query, "activity_logs.organization_id")
	query = applyActivityFilters(query, opts.Filters)

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("activity service: count records: %w", err)
	}

	var results []models.ActivityLog
	if err := query.
		Preload("User").
		Order("created_at DESC").
		Offset((page - 1) * perPage).
		Limit(perPage).
		Find(&results).Error; err != nil {
		return nil, 0, fmt.Errorf("activity service: list records: %w", err)
	}

	return results, total, nil
}

// CleanupOlderThan removes activity records past the retention window (in days).
func (s *ActivityService) CleanupOlderThan(ctx context.Context, retentionDays int) (int64, error) {
	ctx = ensureContext(ctx)

	if retentionDays <= 0 {
		return 0, errors.New("activity service: retentionDays must be positive")
	}

	cutoff := time.Now().AddDate(0, 0, -retentionDays)

	result := s.db.WithContext(ctx).Where("created_at < ?", cutoff).Delete(&models.ActivityLog{})
	if result.Error != nil {
		return 0, fmt.Errorf("activity service: cleanup records: %w", result.Error)
	}

	return result.RowsAffected, nil
}

func applyActivityFilters(query *gorm.DB, filters ActivityFilters) *gorm.DB {
	if filters.UserID != "" {
		query = query.Where("user_id = ?", filters.UserID)
	}
	if filters.Action != "" {
		query = query.Where("action = ?", filters.Action)
	}
	if filters.TargetType != "" {
		query = query.Where("target_type = ?", filters.TargetType)
	}
	if filters.Since != nil {
		query = query.Where("created_at >= ?", *filters.Since)
	}
	if filters.Until != nil {
		query = query.Where("created_at <= ?", *filters.Until)
	}
	return query
}

// recordActivity logs the supplied entry while tolerating logging failures.
func recordActivity(activity *ActivityService, ctx context.Context, entry ActivityEntry) {
	if activity == nil {
		return
	}
	_ = activity.Record(ctx, entry)
}
