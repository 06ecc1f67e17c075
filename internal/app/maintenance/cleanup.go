package maintenance

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/fieldsafe/fieldsafe/internal/services"
	"github.com/fieldsafe/fieldsafe/pkg/logger"
)

const (
	defaultActivityRetentionDays = 180
	defaultInviteRetention       = 14 * 24 * time.Hour
	defaultActivitySpec          = "@daily"
	defaultInviteSpec            = "@daily"
)

// Cleaner coordinates background maintenance: pruning old activity records
// and purging long-expired invitations.
type Cleaner struct {
	activity *services.ActivityService
	invites  *services.InviteService
	cron     *cron.Cron
	log      *zap.Logger

	activityRetentionDays int
	inviteRetention       time.Duration
	activitySchedule      string
	inviteSchedule        string
}

// Option customises the Cleaner.
type Option func(*Cleaner)

// WithCron injects a preconfigured cron instance, primarily for testing.
func WithCron(c *cron.Cron) Option {
	return func(cleaner *Cleaner) {
		if c != nil {
			cleaner.cron = c
		}
	}
}

// WithActivityRetentionDays adjusts how long activity records are kept.
func WithActivityRetentionDays(days int) Option {
	return func(cleaner *Cleaner) {
		if days > 0 {
			cleaner.activityRetentionDays = days
		}
	}
}

// WithInviteRetention adjusts how long expired invitations are kept before removal.
func WithInviteRetention(d time.Duration) Option {
	return func(cleaner *Cleaner) {
		if d > 0 {
			cleaner.inviteRetention = d
		}
	}
}

// WithActivitySchedule overrides the cron specification for activity pruning.
func WithActivitySchedule(spec string) Option {
	return func(cleaner *Cleaner) {
		if spec != "" {
			cleaner.activitySchedule = spec
		}
	}
}

// WithInviteSchedule overrides the cron specification for invitation purging.
func WithInviteSchedule(spec string) Option {
	return func(cleaner *Cleaner) {
		if spec != "" {
			cleaner.inviteSchedule = spec
		}
	}
}

// NewCleaner constructs a Cleaner with sensible defaults. A nil dependency
// results in the corresponding job being skipped.
func NewCleaner(activity *services.ActivityService, invites *services.InviteService, opts ...Option) *Cleaner {
	cleaner := &Cleaner{
		activity:              activity,
		invites:               invites,
		activityRetentionDays: defaultActivityRetentionDays,
		inviteRetention:       defaultInviteRetention,
		activitySchedule:      defaultActivitySpec,
		inviteSchedule:        defaultInviteSpec,
		log:                   logger.WithModule("maintenance"),
	}

	for _, opt := range opts {
		opt(cleaner)
	}

	if cleaner.cron == nil {
		cleaner.cron = cron.New(cron.WithLogger(cron.DiscardLogger))
	}

	return cleaner
}

// Start registers the cleanup jobs and launches the scheduler.
func (c *Cleaner) Start() error {
	if c.activity != nil && c.activityRetentionDays > 0 {
		if _, err := c.cron.AddFunc(c.activitySchedule, func() {
			ctx := context.Background()
			if _, err := c.activity.CleanupOlderThan(ctx, c.activityRetentionDays); err != nil {
				c.log.Warn("activity cleanup failed", zap.Error(err))
			}
		}); err != nil {
			return err
		}
	}

	if c.invites != nil && c.inviteRetention > 0 {
		if _, err := c.cron.AddFunc(c.inviteSchedule, func() {
			ctx := context.Background()
			if _, err := c.invites.PurgeExpired(ctx, c.inviteRetention); err != nil {
				c.log.Warn("invitation purge failed", zap.Error(err))
			}
		}); err != nil {
			return err
		}
	}

	c.cron.Start()
	return nil
}

// Stop halts the underlying scheduler, waiting for any running jobs to complete.
func (c *Cleaner) Stop() context.Context {
	if c.cron == nil {
		return context.Background()
	}
	return c.cron.Stop()
}

// RunOnce executes all configured cleanup routines sequentially. Primarily
// used in tests and during graceful shutdown.
func (c *Cleaner) RunOnce(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	var errs error

	if c.activity != nil && c.activityRetentionDays > 0 {
		if _, err := c.activity.CleanupOlderThan(ctx, c.activityRetentionDays); err != nil {
			errs = multierr.Append(errs, err)
		}
	}

	if c.invites != nil && c.inviteRetention > 0 {
		if _, err := c.invites.PurgeExpired(ctx, c.inviteRetention); err != nil {
			errs = multierr.Append(errs, err)
		}
	}

	return errs
}
