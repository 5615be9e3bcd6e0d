package workflow

import (
	"context"
	"fmt"

	"bitbucket.org/mmdatafocus/crm_backend/config"
	"bitbucket.org/mmdatafocus/crm_backend/models"
	"bitbucket.org/mmdatafocus/crm_backend/utils"
	"gorm.io/gorm"
)

// MoveLeadStage moves an active lead to another stage of its funnel.
// Moving to the stage the lead is already on is a silent no-op: nothing is
// written, no history appears.
func MoveLeadStage(ctx context.Context, leadId int, targetStageId int) (*models.Lead, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, utils.NewValidationError("business id is required")
	}

	lock := obtainLeadRedisLock(ctx, businessId, leadId)
	defer releaseRedisLock(ctx, lock)

	var lead *models.Lead
	db := config.GetDB()
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := AcquireLeadLock(tx, businessId, leadId); err != nil {
			return err
		}
		defer ReleaseLeadLock(tx, businessId, leadId)

		var err error
		lead, err = models.FetchLeadForUpdateTx(tx, businessId, leadId)
		if err != nil {
			return err
		}

		if lead.StageId == targetStageId {
			return nil
		}
		if lead.Status.IsClosed() {
			return utils.NewInvalidStateError("lead is " + string(lead.Status) + "; stage is frozen")
		}

		// stage validation must not race a structural funnel edit, so the
		// move contends for the same funnel lock DeleteStage/ReorderStages hold
		if err := AcquireFunnelLock(tx, businessId, lead.FunnelId); err != nil {
			return err
		}
		defer ReleaseFunnelLock(tx, businessId, lead.FunnelId)

		target, err := models.FetchStageTx(tx, businessId, targetStageId)
		if err != nil {
			return err
		}
		if target.FunnelId != lead.FunnelId {
			return utils.NewValidationError("stage does not belong to the lead's funnel")
		}
		source, err := models.FetchStageTx(tx, businessId, lead.StageId)
		if err != nil {
			return err
		}

		before := *lead
		if err := tx.Model(lead).Update("StageId", targetStageId).Error; err != nil {
			return utils.NewStorageError(err)
		}

		// stage names resolved now so the entry survives later renames
		description := fmt.Sprintf("Lead moved from stage %q to %q.", source.Name, target.Name)
		return models.SaveLeadHistory(tx, lead.ID, models.LeadActionStageMoved, &before, lead, description)
	})
	if err != nil {
		return nil, err
	}
	return lead, nil
}

// MarkLeadWon closes the lead as won; won is terminal.
func MarkLeadWon(ctx context.Context, leadId int) (*models.Lead, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, utils.NewValidationError("business id is required")
	}

	lock := obtainLeadRedisLock(ctx, businessId, leadId)
	defer releaseRedisLock(ctx, lock)

	var lead *models.Lead
	db := config.GetDB()
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := AcquireLeadLock(tx, businessId, leadId); err != nil {
			return err
		}
		defer ReleaseLeadLock(tx, businessId, leadId)

		var err error
		lead, err = models.FetchLeadForUpdateTx(tx, businessId, leadId)
		if err != nil {
			return err
		}
		if lead.Status.IsClosed() {
			return utils.NewInvalidStateError("lead is already " + string(lead.Status))
		}

		before := *lead
		if err := tx.Model(lead).Update("Status", models.LeadStatusWon).Error; err != nil {
			return utils.NewStorageError(err)
		}

		description := fmt.Sprintf("Lead %q marked as won.", lead.Title)
		return models.SaveLeadHistory(tx, lead.ID, models.LeadActionStatusChanged, &before, lead, description)
	})
	if err != nil {
		return nil, err
	}
	return lead, nil
}

// MarkLeadLost closes the lead as lost; a non-empty reason is required and
// lost is terminal.
func MarkLeadLost(ctx context.Context, leadId int, reason string) (*models.Lead, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, utils.NewValidationError("business id is required")
	}
	if reason == "" {
		return nil, utils.NewValidationError("loss reason is required")
	}

	lock := obtainLeadRedisLock(ctx, businessId, leadId)
	defer releaseRedisLock(ctx, lock)

	var lead *models.Lead
	db := config.GetDB()
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := AcquireLeadLock(tx, businessId, leadId); err != nil {
			return err
		}
		defer ReleaseLeadLock(tx, businessId, leadId)

		var err error
		lead, err = models.FetchLeadForUpdateTx(tx, businessId, leadId)
		if err != nil {
			return err
		}
		if lead.Status.IsClosed() {
			return utils.NewInvalidStateError("lead is already " + string(lead.Status))
		}

		before := *lead
		err = tx.Model(lead).Updates(map[string]interface{}{
			"Status":     models.LeadStatusLost,
			"LossReason": reason,
		}).Error
		if err != nil {
			return utils.NewStorageError(err)
		}

		description := fmt.Sprintf("Lead %q marked as lost: %s", lead.Title, reason)
		return models.SaveLeadHistory(tx, lead.ID, models.LeadActionStatusChanged, &before, lead, description)
	})
	if err != nil {
		return nil, err
	}
	return lead, nil
}
