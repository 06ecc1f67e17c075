package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/fieldsafe/fieldsafe/internal/authz"
	"github.com/fieldsafe/fieldsafe/internal/models"
	"github.com/fieldsafe/fieldsafe/pkg/crypto"
	apperrors "github.com/fieldsafe/fieldsafe/pkg/errors"
	"github.com/fieldsafe/fieldsafe/pkg/mail"
	"github.com/fieldsafe/fieldsafe/pkg/metrics"
)

const (
	defaultInviteExpiry     = 7 * 24 * time.Hour
	defaultInviteTokenBytes = 48
)

var (
	// ErrInvitationNotFound is returned for unknown, expired, accepted and
	// revoked tokens alike so the public lookup leaks nothing about which
	// case applies.
	ErrInvitationNotFound = apperrors.New("INVITATION_NOT_FOUND", "Invitation not found or no longer valid", http.StatusNotFound)
	// ErrInvitationSettled rejects double acceptance or revoking a settled invitation.
	ErrInvitationSettled = apperrors.ErrConflict.WithMessage("Invitation has already been accepted or revoked")
	// ErrInvitationEmailMismatch rejects claiming a token issued to a different email.
	ErrInvitationEmailMismatch = apperrors.ErrPermissionDenied.WithMessage("Invitation was issued to a different email address")
	// ErrDuplicateInvitation rejects a second active invitation for the same email and organization.
	ErrDuplicateInvitation = apperrors.ErrConflict.WithMessage("An active invitation already exists for this email and organization")
	// ErrUserAlreadyExists rejects inviting an email that already has an account.
	ErrUserAlreadyExists = apperrors.ErrConflict.WithMessage("A user with this email already exists")
)

// CreateInvitationInput captures the attributes of a new invitation.
type CreateInvitationInput struct {
	Email          string
	OrganizationID string
	Role           authz.Role
}

// InviteOption customises InviteService behaviour.
type InviteOption func(*InviteService)

// WithInviteBaseURL configures the base URL used to build acceptance links.
func WithInviteBaseURL(url string) InviteOption {
	return func(s *InviteService) {
		s.baseURL = strings.TrimRight(url, "/")
	}
}

// WithInviteExpiry overrides the invitation token lifetime.
func WithInviteExpiry(d time.Duration) InviteOption {
	return func(s *InviteService) {
		if d > 0 {
			s.expiry = d
		}
	}
}

// WithInviteTokenSize adjusts the random token length in bytes.
func WithInviteTokenSize(size int) InviteOption {
	return func(s *InviteService) {
		if size > 0 {
			s.tokenLength = size
		}
	}
}

// WithInviteClock injects a custom clock primarily for testing.
func WithInviteClock(clock func() time.Time) InviteOption {
	return func(s *InviteService) {
		if clock != nil {
			s.now = clock
		}
	}
}

// InviteService manages the invitation workflow: issuing tokens, the public
// lookup, acceptance and revocation.
type InviteService struct {
	db          *gorm.DB
	resolver    *authz.Resolver
	activity    *ActivityService
	mailer      mail.Mailer
	baseURL     string
	expiry      time.Duration
	tokenLength int
	now         func() time.Time
}

// NewInviteService constructs an InviteService with the provided dependencies.
func NewInviteService(db *gorm.DB, activity *ActivityService, mailer mail.Mailer, opts ...InviteOption) (*InviteService, error) {
	if db == nil {
		return nil, errors.New("invite service: db is required")
	}
	resolver, err := authz.NewResolver(db)
	if err != nil {
		return nil, err
	}

	service := &InviteService{
		db:          db,
		resolver:    resolver,
		activity:    activity,
		mailer:      mailer,
		expiry:      defaultInviteExpiry,
		tokenLength: defaultInviteTokenBytes,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(service)
	}
	return service, nil
}

// Create issues a new invitation and returns it together with the raw token.
// Only the SHA-256 digest of the token is stored.
func (s *InviteService) Create(ctx context.Context, actor authz.Actor, input CreateInvitationInput) (*models.Invitation, string, error) {
	ctx = ensureContext(ctx)

	email := normaliseEmail(input.Email)
	orgID := strings.TrimSpace(input.OrganizationID)
	if email == "" {
		return nil, "", apperrors.NewBadRequest("email is required")
	}
	if orgID == "" {
		return nil, "", apperrors.NewBadRequest("organization_id is required")
	}
	if !input.Role.Valid() {
		return nil, "", apperrors.NewBadRequest("invalid role")
	}

	if err := s.authorize(ctx, actor, orgID); err != nil {
		return nil, "", err
	}
	if !input.Role.GrantableBy(actor.Role) {
		return nil, "", ErrRoleEscalation
	}

	now := s.now()

	// Preconditions checked in order; the first failure wins.
	var userCount int64
	if err := s.db.WithContext(ctx).Model(&models.User{}).
		Where("email = ?", email).
		Count(&userCount).Error; err != nil {
		return nil, "", fmt.Errorf("invite service: check existing user: %w", err)
	}
	if userCount > 0 {
		return nil, "", ErrUserAlreadyExists
	}

	var activeCount int64
	if err := s.db.WithContext(ctx).Model(&models.Invitation{}).
		Where("email = ? AND organization_id = ? AND status = ? AND expires_at > ?",
			email, orgID, models.InviteStatusPending, now).
		Count(&activeCount).Error; err != nil {
		return nil, "", fmt.Errorf("invite service: check active invitations: %w", err)
	}
	if activeCount > 0 {
		return nil, "", ErrDuplicateInvitation
	}

	rawToken, err := crypto.GenerateToken(s.tokenLength)
	if err != nil {
		return nil, "", fmt.Errorf("invite service: generate token: %w", err)
	}

	invite := &models.Invitation{
		Email:          email,
		OrganizationID: orgID,
		Role:           input.Role,
		InvitedBy:      actor.ID,
		TokenHash:      crypto.HashToken(rawToken),
		Status:         models.InviteStatusPending,
		ExpiresAt:      now.Add(s.expiry),
	}

	if err := s.db.WithContext(ctx).Create(invite).Error; err != nil {
		return nil, "", fmt.Errorf("invite service: create invitation: %w", err)
	}

	metrics.InvitationsIssued.WithLabelValues(string(input.Role)).Inc()

	recordActivity(s.activity, ctx, ActivityEntry{
		UserID:         actor.ID,
		OrganizationID: orgID,
		Action:         models.ActivityUserInvited,
		Description:    fmt.Sprintf("%s invited as %s", email, input.Role),
		TargetType:     "invitation",
		TargetID:       invite.ID,
	})

	if s.mailer != nil {
		message := mail.Message{
			To:      []string{email},
			Subject: "You're invited to FieldSafe",
			Body:    s.inviteBody(s.AcceptanceLink(rawToken)),
		}
		if mailErr := s.mailer.Send(ctx, message); mailErr != nil && !errors.Is(mailErr, mail.ErrSMTPDisabled) {
			return nil, "", fmt.Errorf("invite service: send email: %w", mailErr)
		}
	}

	return invite, rawToken, nil
}

// Details performs the public, unauthenticated lookup. It succeeds only for
// pending, unexpired invitations; every other case is the same NotFound.
func (s *InviteService) Details(ctx context.Context, token string) (*models.Invitation, error) {
	ctx = ensureContext(ctx)

	invite, err := s.findByToken(ctx, token)
	if err != nil {
		return nil, err
	}
	if !invite.IsPending(s.now()) {
		return nil, ErrInvitationNotFound
	}
	return invite, nil
}

// Accept claims the invitation for the authenticated identity and provisions
// or updates the corresponding user row. The identity email must exactly
// match the invitation's email, and the status flip is conditional so two
// concurrent acceptances settle to exactly one success.
func (s *InviteService) Accept(ctx context.Context, identity Identity, token string) (*models.Invitation, *models.User, error) {
	ctx = ensureContext(ctx)

	identity.ID = strings.TrimSpace(identity.ID)
	identity.Email = normaliseEmail(identity.Email)
	if identity.ID == "" || identity.Email == "" {
		return nil, nil, apperrors.NewBadRequest("identity id and email are required")
	}

	invite, err := s.findByToken(ctx, token)
	if err != nil {
		return nil, nil, err
	}

	if invite.Email != identity.Email {
		return nil, nil, ErrInvitationEmailMismatch
	}

	now := s.now()
	if invite.ExpiresAt.Before(now) {
		return nil, nil, ErrInvitationNotFound
	}
	if invite.Status != models.InviteStatusPending {
		return nil, nil, ErrInvitationSettled
	}

	var user *models.User
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&models.Invitation{}).
			Where("id = ? AND status = ?", invite.ID, models.InviteStatusPending).
			Updates(map[string]any{"status": models.InviteStatusAccepted, "accepted_at": now})
		if result.Error != nil {
			return fmt.Errorf("invite service: mark accepted: %w", result.Error)
		}
		if result.RowsAffected == 0 {
			return ErrInvitationSettled
		}

		provisioned, provErr := s.applyToUser(tx, identity, invite, now)
		if provErr != nil {
			return provErr
		}
		user = provisioned
		return nil
	})
	if err != nil {
		var appErr *apperrors.AppError
		if errors.As(err, &appErr) {
			return nil, nil, appErr
		}
		return nil, nil, err
	}

	invite.Status = models.InviteStatusAccepted
	invite.AcceptedAt = &now

	recordActivity(s.activity, ctx, ActivityEntry{
		UserID:         user.ID,
		OrganizationID: invite.OrganizationID,
		Action:         models.ActivityInvitationAccepted,
		Description:    fmt.Sprintf("invitation for %s accepted", invite.Email),
		TargetType:     "invitation",
		TargetID:       invite.ID,
	})

	return invite, user, nil
}

// Revoke invalidates a pending invitation. Revoked invitations stay
// distinguishable from accepted ones.
func (s *InviteService) Revoke(ctx context.Context, actor authz.Actor, inviteID string) error {
	ctx = ensureContext(ctx)

	var invite models.Invitation
	err := s.db.WithContext(ctx).First(&invite, "id = ?", inviteID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrInvitationNotFound
	}
	if err != nil {
		return fmt.Errorf("invite service: load invitation: %w", err)
	}

	if err := s.authorize(ctx, actor, invite.OrganizationID); err != nil {
		return err
	}

	now := s.now()
	result := s.db.WithContext(ctx).Model(&models.Invitation{}).
		Where("id = ? AND status = ?", invite.ID, models.InviteStatusPending).
		Updates(map[string]any{"status": models.InviteStatusRevoked, "revoked_at": now})
	if result.Error != nil {
		return fmt.Errorf("invite service: revoke invitation: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrInvitationSettled
	}

	recordActivity(s.activity, ctx, ActivityEntry{
		UserID:         actor.ID,
		OrganizationID: invite.OrganizationID,
		Action:         models.ActivityInvitationRevoked,
		Description:    fmt.Sprintf("invitation for %s revoked", invite.Email),
		TargetType:     "invitation",
		TargetID:       invite.ID,
	})

	return nil
}

// ListForOrganization returns invitations for organizations inside the
// actor's scope, newest first.
func (s *InviteService) ListForOrganization(ctx context.Context, actor authz.Actor, orgID string) ([]models.Invitation, error) {
	ctx = ensureContext(ctx)

	scope, err := s.resolver.Resolve(ctx, actor, orgID)
	if err != nil {
		return nil, err
	}

	query := s.db.WithContext(ctx).Model(&models.Invitation{})
	query = scope.Apply(query, "invitations.organization_id")

	var invites []models.Invitation
	if err := query.Order("created_at DESC").Find(&invites).Error; err != nil {
		return nil, fmt.Errorf("invite service: list invitations: %w", err)
	}
	return invites, nil
}

// PurgeExpired deletes pending invitations whose deadline passed more than
// the retention window ago. Accepted and revoked invitations are kept for
// audit. It returns the number of rows removed.
func (s *InviteService) PurgeExpired(ctx context.Context, retention time.Duration) (int64, error) {
	ctx = ensureContext(ctx)

	cutoff := s.now().Add(-retention)
	result := s.db.WithContext(ctx).
		Where("status = ? AND expires_at <= ?", models.InviteStatusPending, cutoff).
		Delete(&models.Invitation{})
	if result.Error != nil {
		return 0, fmt.Errorf("invite service: purge expired: %w", result.Error)
	}
	return result.RowsAffected, nil
}

// AcceptanceLink renders the URL an invitee follows to claim the token.
func (s *InviteService) AcceptanceLink(token string) string {
	if s.baseURL == "" {
		return token
	}
	return fmt.Sprintf("%s/invites/accept?token=%s", s.baseURL, token)
}

// authorize enforces the shared scoping rule for issuing and revoking:
// system admins anywhere, org admins inside their managed subtree.
func (s *InviteService) authorize(ctx context.Context, actor authz.Actor, orgID string) error {
	switch actor.Role {
	case authz.RoleSystemAdmin:
		return nil
	case authz.RoleOrgAdmin:
		ok, err := s.resolver.CanAccessOrganization(ctx, actor, orgID)
		if err != nil {
			return err
		}
		if !ok {
			return apperrors.ErrPermissionDenied
		}
		return nil
	}
	return apperrors.ErrPermissionDenied
}

func (s *InviteService) findByToken(ctx context.Context, token string) (*models.Invitation, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrInvitationNotFound
	}

	var invite models.Invitation
	err := s.db.WithContext(ctx).
		Where("token_hash = ?", crypto.HashToken(token)).
		First(&invite).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrInvitationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("invite service: find invitation: %w", err)
	}
	return &invite, nil
}

// applyToUser provisions or updates the user row for an accepted invitation.
func (s *InviteService) applyToUser(tx *gorm.DB, identity Identity, invite *models.Invitation, now time.Time) (*models.User, error) {
	var user models.User
	err := tx.First(&user, "id = ?", identity.ID).Error
	switch {
	case err == nil:
		updates := map[string]any{
			"organization_id": invite.OrganizationID,
			"role":            invite.Role,
			"last_login_at":   now,
		}
		if invite.Role == authz.RoleOrgAdmin {
			updates["managed_organization_id"] = invite.OrganizationID
			updates["can_manage_users"] = true
			updates["can_create_organizations"] = true
		} else {
			updates["managed_organization_id"] = nil
			updates["can_manage_users"] = false
			updates["can_create_organizations"] = false
		}
		if err := tx.Model(&user).Updates(updates).Error; err != nil {
			return nil, fmt.Errorf("invite service: update user: %w", err)
		}
		if err := tx.First(&user, "id = ?", identity.ID).Error; err != nil {
			return nil, err
		}
		return &user, nil

	case errors.Is(err, gorm.ErrRecordNotFound):
		user = models.User{
			ID:             identity.ID,
			Email:          identity.Email,
			Name:           strings.TrimSpace(identity.Name),
			Role:           invite.Role,
			OrganizationID: &invite.OrganizationID,
			IsActive:       true,
			LastLoginAt:    &now,
		}
		if invite.Role == authz.RoleOrgAdmin {
			user.ManagedOrganizationID = &invite.OrganizationID
			user.CanManageUsers = true
			user.CanCreateOrganizations = true
		}
		if err := tx.Create(&user).Error; err != nil {
			if isUniqueConstraintError(err) {
				return nil, apperrors.ErrConflict.WithMessage("email already in use")
			}
			return nil, fmt.Errorf("invite service: create user: %w", err)
		}
		return &user, nil

	default:
		return nil, fmt.Errorf("invite service: load user: %w", err)
	}
}

func (s *InviteService) inviteBody(link string) string {
	return fmt.Sprintf("Hello,\n\nYou have been invited to join FieldSafe. Use the following link to accept your invitation:\n%s\n\nIf you did not expect this email, you can ignore it.\n", link)
}
