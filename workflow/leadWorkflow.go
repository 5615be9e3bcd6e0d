package workflow

import (
	"context"
	"fmt"

	"bitbucket.org/mmdatafocus/crm_backend/config"
	"bitbucket.org/mmdatafocus/crm_backend/models"
	"bitbucket.org/mmdatafocus/crm_backend/utils"
	"gorm.io/gorm"
)

func CreateLead(ctx context.Context, input *models.NewLead) (*models.Lead, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, utils.NewValidationError("business id is required")
	}

	if input.EstimatedValue.IsNegative() {
		return nil, utils.NewValidationError("estimated value must not be negative")
	}

	if _, err := models.GetFunnel(ctx, input.FunnelId); err != nil {
		return nil, err
	}

	if input.ContactId > 0 {
		if err := utils.ValidateResourceId[models.Contact](ctx, businessId, input.ContactId); err != nil {
			return nil, utils.NewNotFoundError("contact")
		}
	}

	lead := models.Lead{
		BusinessId:     businessId,
		Title:          input.Title,
		LeadType:       input.LeadType,
		Category:       input.Category,
		EstimatedValue: input.EstimatedValue,
		FunnelId:       input.FunnelId,
		ContactId:      input.ContactId,
		Status:         models.LeadStatusActive,
	}

	db := config.GetDB()
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// stage resolution holds the funnel lock so a concurrent DeleteStage
		// cannot remove the stage between validation and commit
		if err := AcquireFunnelLock(tx, businessId, input.FunnelId); err != nil {
			return err
		}
		defer ReleaseFunnelLock(tx, businessId, input.FunnelId)

		var stageName string
		if input.StageId != 0 {
			stage, err := models.FetchStageTx(tx, businessId, input.StageId)
			if err != nil {
				return err
			}
			if stage.FunnelId != input.FunnelId {
				return utils.NewValidationError("stage does not belong to funnel")
			}
			lead.StageId = stage.ID
			stageName = stage.Name
		} else {
			// default to the funnel entry stage
			stages, err := models.FetchFunnelStagesTx(tx, businessId, input.FunnelId)
			if err != nil {
				return err
			}
			if len(stages) == 0 {
				return utils.NewInvalidStateError("funnel has no stages")
			}
			lead.StageId = stages[0].ID
			stageName = stages[0].Name
		}

		if err := tx.Create(&lead).Error; err != nil {
			return utils.NewStorageError(err)
		}
		description := fmt.Sprintf("Lead %q created in stage %q.", lead.Title, stageName)
		return models.SaveLeadHistory(tx, lead.ID, models.LeadActionCreated, nil, &lead, description)
	})
	if err != nil {
		return nil, err
	}
	return &lead, nil
}

func UpdateLead(ctx context.Context, id int, input *models.LeadPatch) (*models.Lead, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, utils.NewValidationError("business id is required")
	}

	if input.EstimatedValue.IsNegative() {
		return nil, utils.NewValidationError("estimated value must not be negative")
	}
	if input.ContactId > 0 {
		if err := utils.ValidateResourceId[models.Contact](ctx, businessId, input.ContactId); err != nil {
			return nil, utils.NewNotFoundError("contact")
		}
	}

	lock := obtainLeadRedisLock(ctx, businessId, id)
	defer releaseRedisLock(ctx, lock)

	var lead *models.Lead
	db := config.GetDB()
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := AcquireLeadLock(tx, businessId, id); err != nil {
			return err
		}
		defer ReleaseLeadLock(tx, businessId, id)

		var err error
		lead, err = models.FetchLeadForUpdateTx(tx, businessId, id)
		if err != nil {
			return err
		}
		before := *lead

		err = tx.Model(lead).Updates(map[string]interface{}{
			"Title":          input.Title,
			"LeadType":       input.LeadType,
			"Category":       input.Category,
			"EstimatedValue": input.EstimatedValue,
			"ContactId":      input.ContactId,
		}).Error
		if err != nil {
			return utils.NewStorageError(err)
		}

		description := fmt.Sprintf("Lead %q updated.", input.Title)
		return models.SaveLeadHistory(tx, lead.ID, models.LeadActionUpdated, &before, lead, description)
	})
	if err != nil {
		return nil, err
	}
	return lead, nil
}

// DeleteLead hard-deletes the lead and everything hanging off it. The audit
// stream goes with the record, so no lead_deleted entry is written.
func DeleteLead(ctx context.Context, id int) (*models.Lead, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, utils.NewValidationError("business id is required")
	}

	lock := obtainLeadRedisLock(ctx, businessId, id)
	defer releaseRedisLock(ctx, lock)

	var lead *models.Lead
	db := config.GetDB()
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := AcquireLeadLock(tx, businessId, id); err != nil {
			return err
		}
		defer ReleaseLeadLock(tx, businessId, id)

		var err error
		lead, err = models.FetchLeadForUpdateTx(tx, businessId, id)
		if err != nil {
			return err
		}

		if err := tx.Delete(&models.Lead{}, lead.ID).Error; err != nil {
			return utils.NewStorageError(err)
		}
		err = tx.Where("business_id = ? AND lead_id = ?", businessId, lead.ID).
			Delete(&models.LeadHistory{}).Error
		if err != nil {
			return utils.NewStorageError(err)
		}
		err = tx.Where("business_id = ? AND lead_id = ?", businessId, lead.ID).
			Delete(&models.Comment{}).Error
		if err != nil {
			return utils.NewStorageError(err)
		}
		return models.DeleteEdgesForLeadTx(tx, businessId, lead.ID)
	})
	if err != nil {
		return nil, err
	}
	return lead, nil
}
