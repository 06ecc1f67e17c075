package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/fieldsafe/fieldsafe/internal/authz"
	"github.com/fieldsafe/fieldsafe/internal/models"
	apperrors "github.com/fieldsafe/fieldsafe/pkg/errors"
	"github.com/fieldsafe/fieldsafe/pkg/mail"
)

type captureMailer struct {
	mu       sync.Mutex
	messages []mail.Message
}

func (m *captureMailer) Send(_ context.Context, msg mail.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = append(m.messages, msg)
	return nil
}

func newInviteTestServices(t *testing.T) (*InviteService, *captureMailer, *authz.Actor, *models.Organization) {
	t.Helper()

	db := openServicesTestDB(t)
	activitySvc, err := NewActivityService(db)
	require.NoError(t, err)

	mailer := &captureMailer{}
	inviteSvc, err := NewInviteService(db, activitySvc, mailer, WithInviteBaseURL("https://app.fieldsafe.test"))
	require.NoError(t, err)

	org := seedOrganization(t, db, "Acme", nil)
	admin := seedUser(t, db, "admin@acme.test", authz.RoleOrgAdmin, &org.ID)
	actor := admin.Actor()
	return inviteSvc, mailer, &actor, org
}

func TestInviteServiceLifecycle(t *testing.T) {
	inviteSvc, mailer, actor, org := newInviteTestServices(t)
	ctx := context.Background()

	invite, token, err := inviteSvc.Create(ctx, *actor, CreateInvitationInput{
		Email:          "New.Inspector@acme.test",
		OrganizationID: org.ID,
		Role:           authz.RoleInspector,
	})
	require.NoError(t, err)
	require.NotEmpty(t, token)
	require.Equal(t, "new.inspector@acme.test", invite.Email)
	require.Equal(t, models.InviteStatusPending, invite.Status)
	require.NotEqual(t, token, invite.TokenHash)
	require.Len(t, mailer.messages, 1)
	require.Contains(t, mailer.messages[0].Body, token)

	details, err := inviteSvc.Details(ctx, token)
	require.NoError(t, err)
	require.Equal(t, invite.ID, details.ID)

	accepted, user, err := inviteSvc.Accept(ctx, Identity{
		ID:    "ext-new",
		Email: "new.inspector@acme.test",
		Name:  "New Inspector",
	}, token)
	require.NoError(t, err)
	require.Equal(t, models.InviteStatusAccepted, accepted.Status)
	require.NotNil(t, accepted.AcceptedAt)
	require.Equal(t, authz.RoleInspector, user.Role)
	require.NotNil(t, user.OrganizationID)
	require.Equal(t, org.ID, *user.OrganizationID)

	// Settled invitations vanish from the public lookup and cannot be
	// claimed a second time.
	_, err = inviteSvc.Details(ctx, token)
	require.ErrorIs(t, err, ErrInvitationNotFound)

	_, _, err = inviteSvc.Accept(ctx, Identity{ID: "ext-other", Email: "new.inspector@acme.test"}, token)
	require.ErrorIs(t, err, ErrInvitationSettled)
}

func TestInviteServiceCreateGuards(t *testing.T) {
	inviteSvc, _, actor, org := newInviteTestServices(t)
	ctx := context.Background()

	// The inviter's own email already has an account.
	_, _, err := inviteSvc.Create(ctx, *actor, CreateInvitationInput{
		Email:          "admin@acme.test",
		OrganizationID: org.ID,
		Role:           authz.RoleInspector,
	})
	require.ErrorIs(t, err, ErrUserAlreadyExists)

	_, _, err = inviteSvc.Create(ctx, *actor, CreateInvitationInput{
		Email:          "pending@acme.test",
		OrganizationID: org.ID,
		Role:           authz.RoleInspector,
	})
	require.NoError(t, err)

	// One active invitation per email and organization.
	_, _, err = inviteSvc.Create(ctx, *actor, CreateInvitationInput{
		Email:          "pending@acme.test",
		OrganizationID: org.ID,
		Role:           authz.RoleManager,
	})
	require.ErrorIs(t, err, ErrDuplicateInvitation)

	// Org admins cannot hand out administrative roles.
	_, _, err = inviteSvc.Create(ctx, *actor, CreateInvitationInput{
		Email:          "other@acme.test",
		OrganizationID: org.ID,
		Role:           authz.RoleOrgAdmin,
	})
	require.ErrorIs(t, err, ErrRoleEscalation)

	// Nor invite into organizations outside their subtree.
	globex := seedOrganization(t, inviteSvc.db, "Globex", nil)
	_, _, err = inviteSvc.Create(ctx, *actor, CreateInvitationInput{
		Email:          "other@globex.test",
		OrganizationID: globex.ID,
		Role:           authz.RoleInspector,
	})
	require.ErrorIs(t, err, apperrors.ErrPermissionDenied)
}

func TestInviteServiceAcceptEmailMismatch(t *testing.T) {
	inviteSvc, _, actor, org := newInviteTestServices(t)
	ctx := context.Background()

	_, token, err := inviteSvc.Create(ctx, *actor, CreateInvitationInput{
		Email:          "intended@acme.test",
		OrganizationID: org.ID,
		Role:           authz.RoleInspector,
	})
	require.NoError(t, err)

	_, _, err = inviteSvc.Accept(ctx, Identity{ID: "ext-x", Email: "someone.else@acme.test"}, token)
	require.ErrorIs(t, err, ErrInvitationEmailMismatch)

	// The failed claim leaves the invitation intact.
	details, err := inviteSvc.Details(ctx, token)
	require.NoError(t, err)
	require.Equal(t, models.InviteStatusPending, details.Status)
}

func TestInviteServiceRevoke(t *testing.T) {
	inviteSvc, _, actor, org := newInviteTestServices(t)
	ctx := context.Background()

	invite, token, err := inviteSvc.Create(ctx, *actor, CreateInvitationInput{
		Email:          "intended@acme.test",
		OrganizationID: org.ID,
		Role:           authz.RoleInspector,
	})
	require.NoError(t, err)

	require.NoError(t, inviteSvc.Revoke(ctx, *actor, invite.ID))

	_, err = inviteSvc.Details(ctx, token)
	require.ErrorIs(t, err, ErrInvitationNotFound)

	_, _, err = inviteSvc.Accept(ctx, Identity{ID: "ext-x", Email: "intended@acme.test"}, token)
	require.ErrorIs(t, err, ErrInvitationSettled)

	// Revocation is terminal and distinguishable from acceptance.
	var stored models.Invitation
	require.NoError(t, inviteSvc.db.First(&stored, "id = ?", invite.ID).Error)
	require.Equal(t, models.InviteStatusRevoked, stored.Status)
	require.NotNil(t, stored.RevokedAt)
	require.Nil(t, stored.AcceptedAt)

	require.ErrorIs(t, inviteSvc.Revoke(ctx, *actor, invite.ID), ErrInvitationSettled)
}

func TestInviteServiceExpiry(t *testing.T) {
	db := openServicesTestDB(t)
	activitySvc, err := NewActivityService(db)
	require.NoError(t, err)

	current := time.Now()
	clock := func() time.Time { return current }
	inviteSvc, err := NewInviteService(db, activitySvc, nil,
		WithInviteExpiry(48*time.Hour),
		WithInviteClock(clock),
	)
	require.NoError(t, err)

	org := seedOrganization(t, db, "Acme", nil)
	admin := seedUser(t, db, "admin@acme.test", authz.RoleOrgAdmin, &org.ID)
	ctx := context.Background()

	_, token, err := inviteSvc.Create(ctx, admin.Actor(), CreateInvitationInput{
		Email:          "intended@acme.test",
		OrganizationID: org.ID,
		Role:           authz.RoleInspector,
	})
	require.NoError(t, err)

	current = current.Add(72 * time.Hour)

	_, err = inviteSvc.Details(ctx, token)
	require.ErrorIs(t, err, ErrInvitationNotFound)

	_, _, err = inviteSvc.Accept(ctx, Identity{ID: "ext-x", Email: "intended@acme.test"}, token)
	require.ErrorIs(t, err, ErrInvitationNotFound)

	// An expired pending invitation frees the slot for a fresh one.
	_, _, err = inviteSvc.Create(ctx, admin.Actor(), CreateInvitationInput{
		Email:          "intended@acme.test",
		OrganizationID: org.ID,
		Role:           authz.RoleInspector,
	})
	require.NoError(t, err)

	// The maintenance purge removes only pending rows past the retention
	// window; the fresh invitation survives.
	current = current.Add(14 * 24 * time.Hour)
	removed, err := inviteSvc.PurgeExpired(ctx, 14*24*time.Hour)
	require.NoError(t, err)
	require.EqualValues(t, 1, removed)

	var remaining int64
	require.NoError(t, db.Model(&models.Invitation{}).Count(&remaining).Error)
	require.EqualValues(t, 1, remaining)
}
