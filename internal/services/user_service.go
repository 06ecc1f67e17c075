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
	apperrors "github.com/fieldsafe/fieldsafe/pkg/errors"
)

var (
	// ErrUserNotFound indicates the requested user does not exist or is
	// outside the actor's scope.
	ErrUserNotFound = apperrors.New("USER_NOT_FOUND", "User not found", http.StatusNotFound)
	// ErrSelfDeactivation rejects an admin disabling their own account.
	ErrSelfDeactivation = apperrors.ErrPermissionDenied.WithMessage("You cannot deactivate your own account")
	// ErrRoleEscalation rejects granting a role the actor may not hand out.
	ErrRoleEscalation = apperrors.ErrPermissionDenied.WithMessage("You are not allowed to grant this role")
)

// Identity is the authenticated principal shape supplied by the
// authentication layer: an opaque external id plus profile hints. This
// service never verifies credentials itself.
type Identity struct {
	ID    string
	Email string
	Name  string
}

// ProvisionedUser bundles the user row with its organizational context.
type ProvisionedUser struct {
	User                *models.User
	Organization        *models.Organization
	ManagedOrganization *models.Organization
	Capabilities        []authz.Capability
}

// UpdateUserInput enumerates mutable user attributes. Profile fields may be
// patched by the user themselves; role, activation and organization moves
// require administrative scope.
type UpdateUserInput struct {
	Name           *string
	Phone          *string
	OrganizationID *string

	Role                  *authz.Role
	ManagedOrganizationID *string
	IsActive              *bool
}

// UserFilters captures listing filters.
type UserFilters struct {
	IsActive *bool
	Query    string
}

// ListUsersOptions controls pagination for scoped user listing.
type ListUsersOptions struct {
	Page           int
	PageSize       int
	OrganizationID string // explicit override, intersected with the actor scope
	Filters        UserFilters
}

// UserService manages provisioning and lifecycle of user profiles.
type UserService struct {
	db       *gorm.DB
	resolver *authz.Resolver
	activity *ActivityService

	// bootstrapEmail designates the configured bootstrap administrator. The
	// matching identity is re-promoted to system_admin on every login, which
	// makes the account recoverable from accidental demotion but also means
	// no admin action can permanently change its role.
	bootstrapEmail string
	now            func() time.Time
}

// UserOption customises UserService behaviour.
type UserOption func(*UserService)

// WithBootstrapAdminEmail designates the bootstrap administrator identity.
func WithBootstrapAdminEmail(email string) UserOption {
	return func(s *UserService) {
		s.bootstrapEmail = normaliseEmail(email)
	}
}

// WithUserClock injects a custom clock primarily for testing.
func WithUserClock(clock func() time.Time) UserOption {
	return func(s *UserService) {
		if clock != nil {
			s.now = clock
		}
	}
}

// NewUserService constructs a UserService instance.
func NewUserService(db *gorm.DB, activity *ActivityService, opts ...UserOption) (*UserService, error) {
	if db == nil {
		return nil, errors.New("user service: db is required")
	}
	resolver, err := authz.NewResolver(db)
	if err != nil {
		return nil, err
	}

	service := &UserService{
		db:       db,
		resolver: resolver,
		activity: activity,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(service)
	}
	return service, nil
}

// GetOrProvision resolves the identity to a user row, creating one on first
// sight. Provisioning order for a new identity: a pending invitation for the
// email wins; otherwise the very first user of the system (or the bootstrap
// identity) becomes system_admin and everyone else starts as inspector.
//
// The operation is idempotent under concurrent duplicate calls: the primary
// key constraint resolves the race and the loser re-reads the winner's row.
func (s *UserService) GetOrProvision(ctx context.Context, identity Identity) (*ProvisionedUser, error) {
	ctx = ensureContext(ctx)

	identity.ID = strings.TrimSpace(identity.ID)
	identity.Email = normaliseEmail(identity.Email)
	if identity.ID == "" {
		return nil, apperrors.NewBadRequest("identity id is required")
	}
	if identity.Email == "" {
		return nil, apperrors.NewBadRequest("identity email is required")
	}

	now := s.now()

	var user models.User
	err := s.db.WithContext(ctx).First(&user, "id = ?", identity.ID).Error
	switch {
	case err == nil:
		if err := s.touchExisting(ctx, &user, identity, now); err != nil {
			return nil, err
		}
	case errors.Is(err, gorm.ErrRecordNotFound):
		created, provErr := s.provision(ctx, identity, now)
		if provErr != nil {
			return nil, provErr
		}
		user = *created
	default:
		return nil, fmt.Errorf("user service: load user: %w", err)
	}

	return s.withContext(ctx, &user)
}

// touchExisting applies the per-login updates to an already provisioned row.
func (s *UserService) touchExisting(ctx context.Context, user *models.User, identity Identity, now time.Time) error {
	updates := map[string]any{"last_login_at": now}

	if s.bootstrapEmail != "" && identity.Email == s.bootstrapEmail && user.Role != authz.RoleSystemAdmin {
		updates["role"] = authz.RoleSystemAdmin
		updates["can_manage_users"] = true
		updates["can_create_organizations"] = true
		updates["is_active"] = true
		updates["managed_organization_id"] = nil
	}

	if err := s.db.WithContext(ctx).Model(user).Updates(updates).Error; err != nil {
		return fmt.Errorf("user service: touch user: %w", err)
	}
	return s.db.WithContext(ctx).First(user, "id = ?", user.ID).Error
}

// provision creates the user row for a never-before-seen identity. The
// invitation claim and the insert share one transaction so a failed insert
// rolls the claim back and the invitation stays pending.
func (s *UserService) provision(ctx context.Context, identity Identity, now time.Time) (*models.User, error) {
	isBootstrap := s.bootstrapEmail != "" && identity.Email == s.bootstrapEmail

	user := &models.User{
		ID:          identity.ID,
		Email:       identity.Email,
		Name:        strings.TrimSpace(identity.Name),
		IsActive:    true,
		LastLoginAt: &now,
	}

	var claimed *models.Invitation
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if !isBootstrap {
			invite, err := s.claimNewestInvitation(tx, identity.Email, now)
			if err != nil {
				return err
			}
			claimed = invite
		}

		if claimed != nil {
			user.Role = claimed.Role
			user.OrganizationID = &claimed.OrganizationID
			if claimed.Role == authz.RoleOrgAdmin {
				user.ManagedOrganizationID = &claimed.OrganizationID
				user.CanManageUsers = true
				user.CanCreateOrganizations = true
			}
		} else {
			var count int64
			if err := tx.Model(&models.User{}).Count(&count).Error; err != nil {
				return fmt.Errorf("user service: count users: %w", err)
			}
			isFirstUser := count == 0

			if isBootstrap || isFirstUser {
				user.Role = authz.RoleSystemAdmin
				user.CanManageUsers = true
				user.CanCreateOrganizations = true
			} else {
				user.Role = authz.RoleInspector
			}
		}

		return tx.Create(user).Error
	})
	if txErr != nil {
		if isUniqueConstraintError(txErr) {
			// Lost a provisioning race, or the email already belongs to
			// another account. The rollback released any claimed
			// invitation; the existing row is authoritative.
			var existing models.User
			readErr := s.db.WithContext(ctx).First(&existing, "id = ?", identity.ID).Error
			if errors.Is(readErr, gorm.ErrRecordNotFound) {
				readErr = s.db.WithContext(ctx).First(&existing, "email = ?", identity.Email).Error
			}
			if readErr != nil {
				return nil, fmt.Errorf("user service: reload after conflict: %w", readErr)
			}
			if touchErr := s.touchExisting(ctx, &existing, identity, now); touchErr != nil {
				return nil, touchErr
			}
			return &existing, nil
		}
		return nil, fmt.Errorf("user service: create user: %w", txErr)
	}

	if claimed != nil {
		recordActivity(s.activity, ctx, ActivityEntry{
			UserID:         user.ID,
			OrganizationID: claimed.OrganizationID,
			Action:         models.ActivityInvitationAccepted,
			Description:    fmt.Sprintf("invitation for %s accepted at login", user.Email),
			TargetType:     "invitation",
			TargetID:       claimed.ID,
		})
	}

	return user, nil
}

// claimNewestInvitation claims the most recent pending, unexpired invitation
// for the email within the caller's transaction. Returns nil when none is
// claimable.
func (s *UserService) claimNewestInvitation(tx *gorm.DB, email string, now time.Time) (*models.Invitation, error) {
	var invite models.Invitation
	err := tx.
		Where("email = ? AND status = ? AND expires_at > ?", email, models.InviteStatusPending, now).
		Order("created_at DESC").
		First(&invite).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("user service: find invitation: %w", err)
	}

	result := tx.Model(&models.Invitation{}).
		Where("id = ? AND status = ?", invite.ID, models.InviteStatusPending).
		Updates(map[string]any{"status": models.InviteStatusAccepted, "accepted_at": now})
	if result.Error != nil {
		return nil, fmt.Errorf("user service: claim invitation: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		// A concurrent acceptance won; provision without it.
		return nil, nil
	}

	invite.Status = models.InviteStatusAccepted
	invite.AcceptedAt = &now
	return &invite, nil
}

// withContext loads the organizational context the caller renders alongside
// the user.
func (s *UserService) withContext(ctx context.Context, user *models.User) (*ProvisionedUser, error) {
	result := &ProvisionedUser{
		User:         user,
		Capabilities: user.Role.Capabilities(),
	}

	if user.OrganizationID != nil {
		var org models.Organization
		if err := s.db.WithContext(ctx).First(&org, "id = ?", *user.OrganizationID).Error; err == nil {
			result.Organization = &org
		}
	}
	if user.ManagedOrganizationID != nil {
		var org models.Organization
		if err := s.db.WithContext(ctx).First(&org, "id = ?", *user.ManagedOrganizationID).Error; err == nil {
			result.ManagedOrganization = &org
		}
	}

	return result, nil
}

// GetByID loads a user inside the actor's scope.
func (s *UserService) GetByID(ctx context.Context, actor authz.Actor, id string) (*models.User, error) {
	ctx = ensureContext(ctx)

	var user models.User
	err := s.db.WithContext(ctx).Preload("Organization").First(&user, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("user service: get user: %w", err)
	}

	if actor.ID != user.ID {
		visible, err := s.targetInScope(ctx, actor, &user)
		if err != nil {
			return nil, err
		}
		if !visible {
			return nil, ErrUserNotFound
		}
	}

	return &user, nil
}

// List retrieves users inside the actor's scope with pagination.
func (s *UserService) List(ctx context.Context, actor authz.Actor, opts ListUsersOptions) ([]models.User, int64, error) {
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

	query := s.db.WithContext(ctx).Model(&models.User{})
	query = scope.Apply(query, "users.organization_id")

	if opts.Filters.IsActive != nil {
		query = query.Where("is_active = ?", *opts.Filters.IsActive)
	}
	if q := strings.TrimSpace(opts.Filters.Query); q != "" {
		pattern := "%" + strings.ToLower(q) + "%"
		query = query.Where("LOWER(name) LIKE ? OR LOWER(email) LIKE ?", pattern, pattern)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("user service: count users: %w", err)
	}

	var users []models.User
	if err := query.
		Order("created_at DESC").
		Offset((page - 1) * perPage).
		Limit(perPage).
		Preload("Organization").
		Find(&users).Error; err != nil {
		return nil, 0, fmt.Errorf("user service: list users: %w", err)
	}

	return users, total, nil
}

// Update patches a user profile. Profile fields are self-service; role,
// activation and organization moves require administrative scope over the
// target, and org admins can never hand out admin roles.
func (s *UserService) Update(ctx context.Context, actor authz.Actor, targetID string, input UpdateUserInput) (*models.User, error) {
	ctx = ensureContext(ctx)

	var user models.User
	err := s.db.WithContext(ctx).First(&user, "id = ?", targetID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("user service: load user: %w", err)
	}

	isSelf := actor.ID == user.ID
	wantsAdminPatch := input.Role != nil || input.IsActive != nil ||
		(input.OrganizationID != nil && !isSelf) || input.ManagedOrganizationID != nil

	if wantsAdminPatch {
		if err := s.authorizeAdminPatch(ctx, actor, &user, input); err != nil {
			return nil, err
		}
	} else if !isSelf {
		return nil, apperrors.ErrPermissionDenied
	}

	updates := map[string]any{}

	if input.Name != nil {
		if name := strings.TrimSpace(*input.Name); name != "" && name != user.Name {
			updates["name"] = name
		}
	}
	if input.Phone != nil {
		updates["phone"] = strings.TrimSpace(*input.Phone)
	}
	if input.OrganizationID != nil {
		updates["organization_id"] = strPtr(*input.OrganizationID)
	}
	if input.IsActive != nil {
		updates["is_active"] = *input.IsActive
	}

	if input.Role != nil {
		role := *input.Role
		if !role.Valid() {
			return nil, apperrors.NewBadRequest("invalid role")
		}
		updates["role"] = role

		switch role {
		case authz.RoleOrgAdmin:
			managed := deref(input.ManagedOrganizationID)
			if managed == "" {
				if input.OrganizationID != nil {
					managed = strings.TrimSpace(*input.OrganizationID)
				} else {
					managed = deref(user.OrganizationID)
				}
			}
			if managed == "" {
				return nil, apperrors.NewBadRequest("org_admin requires a managed organization")
			}
			updates["managed_organization_id"] = managed
			updates["can_manage_users"] = true
			updates["can_create_organizations"] = true
		case authz.RoleSystemAdmin:
			updates["managed_organization_id"] = nil
			updates["can_manage_users"] = true
			updates["can_create_organizations"] = true
		default:
			updates["managed_organization_id"] = nil
			updates["can_manage_users"] = false
			updates["can_create_organizations"] = false
		}
	}

	if len(updates) == 0 {
		return &user, nil
	}

	if err := s.db.WithContext(ctx).Model(&user).Updates(updates).Error; err != nil {
		if isUniqueConstraintError(err) {
			return nil, apperrors.ErrConflict.WithMessage("email already in use")
		}
		return nil, fmt.Errorf("user service: update user: %w", err)
	}

	if err := s.db.WithContext(ctx).First(&user, "id = ?", targetID).Error; err != nil {
		return nil, fmt.Errorf("user service: reload user: %w", err)
	}

	recordActivity(s.activity, ctx, ActivityEntry{
		UserID:         actor.ID,
		OrganizationID: deref(user.OrganizationID),
		Action:         models.ActivityUserUpdated,
		Description:    fmt.Sprintf("user %s updated", user.Email),
		TargetType:     "user",
		TargetID:       user.ID,
	})

	return &user, nil
}

// authorizeAdminPatch enforces admin-patch preconditions before any write.
func (s *UserService) authorizeAdminPatch(ctx context.Context, actor authz.Actor, target *models.User, input UpdateUserInput) error {
	switch actor.Role {
	case authz.RoleSystemAdmin:
		return nil
	case authz.RoleOrgAdmin:
		if input.Role != nil && !input.Role.GrantableBy(authz.RoleOrgAdmin) {
			return ErrRoleEscalation
		}
		visible, err := s.targetInScope(ctx, actor, target)
		if err != nil {
			return err
		}
		if !visible {
			return apperrors.ErrPermissionDenied
		}
		if input.OrganizationID != nil {
			ok, err := s.resolver.CanAccessOrganization(ctx, actor, strings.TrimSpace(*input.OrganizationID))
			if err != nil {
				return err
			}
			if !ok {
				return apperrors.ErrPermissionDenied
			}
		}
		return nil
	}
	return apperrors.ErrPermissionDenied
}

// targetInScope reports whether the target user's home organization falls
// inside the actor's scope.
func (s *UserService) targetInScope(ctx context.Context, actor authz.Actor, target *models.User) (bool, error) {
	if actor.Role == authz.RoleSystemAdmin {
		return true, nil
	}
	if target.OrganizationID == nil {
		return false, nil
	}
	return s.resolver.CanAccessOrganization(ctx, actor, *target.OrganizationID)
}

// Deactivate soft-disables an account. Only system admins may do this and
// never to themselves; rows are kept for referential history.
func (s *UserService) Deactivate(ctx context.Context, actor authz.Actor, targetID string) error {
	ctx = ensureContext(ctx)

	if actor.Role != authz.RoleSystemAdmin {
		return apperrors.ErrPermissionDenied
	}
	if actor.ID == strings.TrimSpace(targetID) {
		return ErrSelfDeactivation
	}

	var user models.User
	err := s.db.WithContext(ctx).First(&user, "id = ?", targetID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrUserNotFound
	}
	if err != nil {
		return fmt.Errorf("user service: load user: %w", err)
	}

	if err := s.db.WithContext(ctx).Model(&user).Update("is_active", false).Error; err != nil {
		return fmt.Errorf("user service: deactivate user: %w", err)
	}

	recordActivity(s.activity, ctx, ActivityEntry{
		UserID:         actor.ID,
		OrganizationID: deref(user.OrganizationID),
		Action:         models.ActivityUserDeactivated,
		Description:    fmt.Sprintf("user %s deactivated", user.Email),
		TargetType:     "user",
		TargetID:       user.ID,
	})

	return nil
}

// SetPassword stores a bcrypt hash for local logins, used during invitation
// acceptance.
func (s *UserService) SetPassword(ctx context.Context, userID, passwordHash string) error {
	ctx = ensureContext(ctx)

	result := s.db.WithContext(ctx).Model(&models.User{}).
		Where("id = ?", userID).
		Update("password_hash", passwordHash)
	if result.Error != nil {
		return fmt.Errorf("user service: set password: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrUserNotFound
	}
	return nil
}

// FindByEmail loads an active user by email for credential verification.
func (s *UserService) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	ctx = ensureContext(ctx)

	var user models.User
	err := s.db.WithContext(ctx).First(&user, "email = ? AND is_active = ?", normaliseEmail(email), true).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("user service: find by email: %w", err)
	}
	return &user, nil
}
