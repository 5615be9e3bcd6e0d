package workflow

import (
	"context"
	"fmt"

	"bitbucket.org/mmdatafocus/crm_backend/config"
	"bitbucket.org/mmdatafocus/crm_backend/models"
	"bitbucket.org/mmdatafocus/crm_backend/utils"
	"gorm.io/gorm"
)

// AttachLeadTarget adds an edge from the lead to an existing record.
// Attaching an already-attached target is an idempotent no-op: success,
// nothing written, no history.
func AttachLeadTarget(ctx context.Context, leadId int, kind models.AttachmentKind, targetId int) error {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return utils.NewValidationError("business id is required")
	}

	target, err := models.ResolveAttachmentTarget(ctx, kind, targetId)
	if err != nil {
		return err
	}

	lock := obtainLeadRedisLock(ctx, businessId, leadId)
	defer releaseRedisLock(ctx, lock)

	db := config.GetDB()
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := AcquireLeadLock(tx, businessId, leadId); err != nil {
			return err
		}
		defer ReleaseLeadLock(tx, businessId, leadId)

		lead, err := models.FetchLeadForUpdateTx(tx, businessId, leadId)
		if err != nil {
			return err
		}

		existing, err := models.FetchAttachmentTx(tx, businessId, lead.ID, kind, targetId)
		if err != nil {
			return err
		}
		if existing != nil {
			return nil
		}

		edge, err := models.CreateAttachmentTx(tx, businessId, lead.ID, kind, targetId)
		if err != nil {
			return err
		}

		description := fmt.Sprintf("%s %q attached.", kind, target.Name)
		return models.SaveLeadHistory(tx, lead.ID, kind.AttachAction(), nil, edge, description)
	})
}

// DetachLeadTarget removes the edge; detaching an absent edge is an
// idempotent no-op.
func DetachLeadTarget(ctx context.Context, leadId int, kind models.AttachmentKind, targetId int) error {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return utils.NewValidationError("business id is required")
	}

	target, err := models.ResolveAttachmentTarget(ctx, kind, targetId)
	if err != nil {
		return err
	}

	lock := obtainLeadRedisLock(ctx, businessId, leadId)
	defer releaseRedisLock(ctx, lock)

	db := config.GetDB()
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := AcquireLeadLock(tx, businessId, leadId); err != nil {
			return err
		}
		defer ReleaseLeadLock(tx, businessId, leadId)

		lead, err := models.FetchLeadForUpdateTx(tx, businessId, leadId)
		if err != nil {
			return err
		}

		edge, err := models.FetchAttachmentTx(tx, businessId, lead.ID, kind, targetId)
		if err != nil {
			return err
		}
		if edge == nil {
			return nil
		}

		if err := models.DeleteAttachmentTx(tx, edge); err != nil {
			return err
		}

		description := fmt.Sprintf("%s %q detached.", kind, target.Name)
		return models.SaveLeadHistory(tx, lead.ID, kind.DetachAction(), edge, nil, description)
	})
}
