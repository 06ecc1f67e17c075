package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/fieldsafe/fieldsafe/internal/authz"
	"github.com/fieldsafe/fieldsafe/internal/models"
)

func TestInspectionOwnershipVisibility(t *testing.T) {
	db := openServicesTestDB(t)
	activitySvc, err := NewActivityService(db)
	require.NoError(t, err)
	inspectionSvc, err := NewInspectionService(db, activitySvc)
	require.NoError(t, err)

	ctx := context.Background()
	org := seedOrganization(t, db, "Acme", nil)
	orgAdmin := seedUser(t, db, "admin@acme.test", authz.RoleOrgAdmin, &org.ID)
	creator := seedUser(t, db, "creator@acme.test", authz.RoleInspector, &org.ID)
	peer := seedUser(t, db, "peer@acme.test", authz.RoleInspector, &org.ID)

	inspection, err := inspectionSvc.Create(ctx, creator.Actor(), CreateInspectionInput{
		Title: "Warehouse walkthrough",
	})
	require.NoError(t, err)
	require.Equal(t, org.ID, inspection.OrganizationID)
	require.Equal(t, models.InspectionStatusDraft, inspection.Status)

	// Same organization is not enough: a peer who neither created nor
	// collaborates sees nothing.
	_, err = inspectionSvc.GetByID(ctx, peer.Actor(), inspection.ID)
	require.ErrorIs(t, err, ErrInspectionNotFound)

	visible, _, err := inspectionSvc.List(ctx, peer.Actor(), ListInspectionsOptions{})
	require.NoError(t, err)
	require.Empty(t, visible)

	// Administrative roles see everything inside their scope.
	fromAdmin, err := inspectionSvc.GetByID(ctx, orgAdmin.Actor(), inspection.ID)
	require.NoError(t, err)
	require.Equal(t, inspection.ID, fromAdmin.ID)

	// Collaboration opens the inspection up for the peer.
	require.NoError(t, inspectionSvc.AddCollaborator(ctx, creator.Actor(), inspection.ID, peer.ID))

	shared, err := inspectionSvc.GetByID(ctx, peer.Actor(), inspection.ID)
	require.NoError(t, err)
	require.Equal(t, inspection.ID, shared.ID)

	// Removing the collaborator closes it again without deleting the row.
	require.NoError(t, inspectionSvc.RemoveCollaborator(ctx, creator.Actor(), inspection.ID, peer.ID))
	_, err = inspectionSvc.GetByID(ctx, peer.Actor(), inspection.ID)
	require.ErrorIs(t, err, ErrInspectionNotFound)

	// Re-adding reactivates the existing collaborator row.
	require.NoError(t, inspectionSvc.AddCollaborator(ctx, creator.Actor(), inspection.ID, peer.ID))
	_, err = inspectionSvc.GetByID(ctx, peer.Actor(), inspection.ID)
	require.NoError(t, err)
}

func TestInspectionCrossTenantIsolation(t *testing.T) {
	db := openServicesTestDB(t)
	activitySvc, err := NewActivityService(db)
	require.NoError(t, err)
	inspectionSvc, err := NewInspectionService(db, activitySvc)
	require.NoError(t, err)

	ctx := context.Background()
	acme := seedOrganization(t, db, "Acme", nil)
	globex := seedOrganization(t, db, "Globex", nil)
	acmeAdmin := seedUser(t, db, "admin@acme.test", authz.RoleOrgAdmin, &acme.ID)
	globexUser := seedUser(t, db, "field@globex.test", authz.RoleInspector, &globex.ID)

	// Creating into another tenant's organization is refused outright.
	_, err = inspectionSvc.Create(ctx, globexUser.Actor(), CreateInspectionInput{
		Title:          "Sneaky",
		OrganizationID: acme.ID,
	})
	require.Error(t, err)

	theirs, err := inspectionSvc.Create(ctx, globexUser.Actor(), CreateInspectionInput{Title: "Globex site"})
	require.NoError(t, err)

	_, err = inspectionSvc.GetByID(ctx, acmeAdmin.Actor(), theirs.ID)
	require.ErrorIs(t, err, ErrInspectionNotFound)
}

func TestActionItemLifecycle(t *testing.T) {
	db := openServicesTestDB(t)
	activitySvc, err := NewActivityService(db)
	require.NoError(t, err)
	inspectionSvc, err := NewInspectionService(db, activitySvc)
	require.NoError(t, err)

	ctx := context.Background()
	org := seedOrganization(t, db, "Acme", nil)
	creator := seedUser(t, db, "creator@acme.test", authz.RoleInspector, &org.ID)
	assignee := seedUser(t, db, "assignee@acme.test", authz.RoleInspector, &org.ID)

	inspection, err := inspectionSvc.Create(ctx, creator.Actor(), CreateInspectionInput{
		Title: "Loading dock audit",
	})
	require.NoError(t, err)

	item, err := inspectionSvc.CreateActionItem(ctx, creator.Actor(), CreateActionItemInput{
		InspectionID: inspection.ID,
		Description:  "Repair guard rail",
		Severity:     models.ActionItemSeverityHigh,
		AssignedTo:   &assignee.ID,
	})
	require.NoError(t, err)
	require.Equal(t, org.ID, item.OrganizationID)
	require.Equal(t, models.ActionItemStatusOpen, item.Status)

	// The assignee sees their task even without access to the inspection.
	items, err := inspectionSvc.ListActionItems(ctx, assignee.Actor(), "")
	require.NoError(t, err)
	require.Len(t, items, 1)

	resolved, err := inspectionSvc.ResolveActionItem(ctx, assignee.Actor(), item.ID)
	require.NoError(t, err)
	require.Equal(t, models.ActionItemStatusResolved, resolved.Status)

	open, err := inspectionSvc.ListActionItems(ctx, creator.Actor(), models.ActionItemStatusOpen)
	require.NoError(t, err)
	require.Empty(t, open)

	// Uninvolved users cannot resolve someone else's task.
	stranger := seedUser(t, db, "stranger@acme.test", authz.RoleClient, &org.ID)
	_, err = inspectionSvc.ResolveActionItem(ctx, stranger.Actor(), item.ID)
	require.ErrorIs(t, err, ErrActionItemNotFound)
}

func TestInspectionStatusTransitions(t *testing.T) {
	db := openServicesTestDB(t)
	activitySvc, err := NewActivityService(db)
	require.NoError(t, err)
	inspectionSvc, err := NewInspectionService(db, activitySvc)
	require.NoError(t, err)

	ctx := context.Background()
	org := seedOrganization(t, db, "Acme", nil)
	creator := seedUser(t, db, "creator@acme.test", authz.RoleInspector, &org.ID)

	inspection, err := inspectionSvc.Create(ctx, creator.Actor(), CreateInspectionInput{Title: "Site A"})
	require.NoError(t, err)

	updated, err := inspectionSvc.UpdateStatus(ctx, creator.Actor(), inspection.ID, models.InspectionStatusInProgress)
	require.NoError(t, err)
	require.Equal(t, models.InspectionStatusInProgress, updated.Status)

	_, err = inspectionSvc.UpdateStatus(ctx, creator.Actor(), inspection.ID, "archived")
	require.Error(t, err)
}
