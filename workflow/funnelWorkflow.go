package workflow

import (
	"context"

	"bitbucket.org/mmdatafocus/crm_backend/config"
	"bitbucket.org/mmdatafocus/crm_backend/models"
	"bitbucket.org/mmdatafocus/crm_backend/utils"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

func CreateFunnel(ctx context.Context, input *models.NewFunnel) (*models.Funnel, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, utils.NewValidationError("business id is required")
	}

	if err := input.Validate(ctx, businessId, 0); err != nil {
		return nil, err
	}

	funnel := models.Funnel{
		BusinessId: businessId,
		Name:       input.Name,
	}
	for i, stage := range input.Stages {
		funnel.Stages = append(funnel.Stages, &models.Stage{
			BusinessId: businessId,
			Name:       stage.Name,
			Color:      stage.Color,
			Position:   i + 1,
		})
	}

	db := config.GetDB()
	if err := db.WithContext(ctx).Create(&funnel).Error; err != nil {
		return nil, utils.NewStorageError(err)
	}
	return &funnel, nil
}

func RenameFunnel(ctx context.Context, id int, name string) (*models.Funnel, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, utils.NewValidationError("business id is required")
	}
	if name == "" {
		return nil, utils.NewValidationError("funnel name is required")
	}

	if err := utils.ValidateResourceId[models.Funnel](ctx, businessId, id); err != nil {
		return nil, utils.NewNotFoundError("funnel")
	}
	if err := utils.ValidateUnique[models.Funnel](ctx, businessId, "name", name, id); err != nil {
		return nil, utils.NewValidationError("funnel name already exists")
	}

	db := config.GetDB()
	err := db.WithContext(ctx).Model(&models.Funnel{}).
		Where("business_id = ? AND id = ?", businessId, id).
		Update("name", name).Error
	if err != nil {
		return nil, utils.NewStorageError(err)
	}

	models.InvalidateFunnelCache(id)
	return models.GetFunnel(ctx, id)
}

func AppendStage(ctx context.Context, funnelId int, input *models.NewStage) (*models.Stage, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, utils.NewValidationError("business id is required")
	}
	if input.Name == "" {
		return nil, utils.NewValidationError("stage name is required")
	}
	if err := utils.ValidateResourceId[models.Funnel](ctx, businessId, funnelId); err != nil {
		return nil, utils.NewNotFoundError("funnel")
	}

	lock := obtainFunnelRedisLock(ctx, businessId, funnelId)
	defer releaseRedisLock(ctx, lock)

	var stage models.Stage
	db := config.GetDB()
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := AcquireFunnelLock(tx, businessId, funnelId); err != nil {
			return err
		}
		defer ReleaseFunnelLock(tx, businessId, funnelId)

		stages, err := models.FetchFunnelStagesTx(tx, businessId, funnelId)
		if err != nil {
			return err
		}
		for _, existing := range stages {
			if existing.Name == input.Name {
				return utils.NewValidationError("duplicate stage name: " + input.Name)
			}
		}

		stage = models.Stage{
			BusinessId: businessId,
			FunnelId:   funnelId,
			Name:       input.Name,
			Color:      input.Color,
			Position:   len(stages) + 1,
		}
		if err := tx.Create(&stage).Error; err != nil {
			return utils.NewStorageError(err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	models.InvalidateFunnelCache(funnelId)
	return &stage, nil
}

func RenameStage(ctx context.Context, stageId int, name string, color string) (*models.Stage, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, utils.NewValidationError("business id is required")
	}
	if name == "" {
		return nil, utils.NewValidationError("stage name is required")
	}

	stage, err := models.GetStage(ctx, stageId)
	if err != nil {
		return nil, err
	}

	db := config.GetDB()
	siblings, err := models.FetchFunnelStagesTx(db.WithContext(ctx), businessId, stage.FunnelId)
	if err != nil {
		return nil, err
	}
	for _, sibling := range siblings {
		if sibling.ID != stageId && sibling.Name == name {
			return nil, utils.NewValidationError("duplicate stage name: " + name)
		}
	}

	err = db.WithContext(ctx).Model(stage).Updates(map[string]interface{}{
		"Name":  name,
		"Color": color,
	}).Error
	if err != nil {
		return nil, utils.NewStorageError(err)
	}

	models.InvalidateFunnelCache(stage.FunnelId)
	return stage, nil
}

// ReorderStages rewrites the whole ordering in one transaction; the input
// must be a permutation of the funnel's stage ids.
func ReorderStages(ctx context.Context, funnelId int, orderedStageIds []int) (*models.Funnel, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, utils.NewValidationError("business id is required")
	}
	if err := utils.ValidateResourceId[models.Funnel](ctx, businessId, funnelId); err != nil {
		return nil, utils.NewNotFoundError("funnel")
	}

	lock := obtainFunnelRedisLock(ctx, businessId, funnelId)
	defer releaseRedisLock(ctx, lock)

	db := config.GetDB()
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := AcquireFunnelLock(tx, businessId, funnelId); err != nil {
			return err
		}
		defer ReleaseFunnelLock(tx, businessId, funnelId)

		stages, err := models.FetchFunnelStagesTx(tx, businessId, funnelId)
		if err != nil {
			return err
		}

		if err := validateStageOrdering(stages, orderedStageIds); err != nil {
			return err
		}

		for i, id := range orderedStageIds {
			err := tx.Model(&models.Stage{}).
				Where("business_id = ? AND id = ?", businessId, id).
				Update("position", i+1).Error
			if err != nil {
				return utils.NewStorageError(err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	models.InvalidateFunnelCache(funnelId)
	return models.GetFunnel(ctx, funnelId)
}

func DeleteStage(ctx context.Context, stageId int) (*models.Stage, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, utils.NewValidationError("business id is required")
	}

	stage, err := models.GetStage(ctx, stageId)
	if err != nil {
		return nil, err
	}

	lock := obtainFunnelRedisLock(ctx, businessId, stage.FunnelId)
	defer releaseRedisLock(ctx, lock)

	db := config.GetDB()
	err = db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := AcquireFunnelLock(tx, businessId, stage.FunnelId); err != nil {
			return err
		}
		defer ReleaseFunnelLock(tx, businessId, stage.FunnelId)

		// counted under the funnel lock with a locking read: a move into
		// this stage either blocks this count until it commits or is queued
		// behind the funnel lock
		var count int64
		err := tx.Model(&models.Lead{}).
			Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("business_id = ? AND stage_id = ?", businessId, stageId).
			Count(&count).Error
		if err != nil {
			return utils.NewStorageError(err)
		}
		if count > 0 {
			return utils.NewInvalidStateError("stage has leads; move them first")
		}

		stages, err := models.FetchFunnelStagesTx(tx, businessId, stage.FunnelId)
		if err != nil {
			return err
		}
		if len(stages) <= 1 {
			return utils.NewInvalidStateError("funnel requires at least one stage")
		}

		if err := tx.Delete(&models.Stage{}, stage.ID).Error; err != nil {
			return utils.NewStorageError(err)
		}
		return renumberStagesTx(tx, businessId, stage.ID, stages)
	})
	if err != nil {
		return nil, err
	}

	models.InvalidateFunnelCache(stage.FunnelId)
	return stage, nil
}

// validateStageOrdering requires the ordering to be a permutation of the
// funnel's stage ids.
func validateStageOrdering(stages []*models.Stage, orderedStageIds []int) error {
	if len(orderedStageIds) != len(stages) {
		return utils.NewValidationError("ordering must include every stage exactly once")
	}
	existing := make(map[int]bool, len(stages))
	for _, stage := range stages {
		existing[stage.ID] = true
	}
	seen := make(map[int]bool, len(orderedStageIds))
	for _, id := range orderedStageIds {
		if !existing[id] || seen[id] {
			return utils.NewValidationError("ordering must include every stage exactly once")
		}
		seen[id] = true
	}
	return nil
}

// survivorPositions computes dense 1-based positions for the stages left
// after a removal. Stages whose position is already correct are omitted.
// Input must already be in position order.
func survivorPositions(stages []*models.Stage, deletedStageId int) map[int]int {
	changed := make(map[int]int)
	position := 0
	for _, stage := range stages {
		if stage.ID == deletedStageId {
			continue
		}
		position++
		if stage.Position != position {
			changed[stage.ID] = position
		}
	}
	return changed
}

// keep survivor positions dense 1-based after a removal
func renumberStagesTx(tx *gorm.DB, businessId string, deletedStageId int, stages []*models.Stage) error {
	for id, position := range survivorPositions(stages, deletedStageId) {
		err := tx.Model(&models.Stage{}).
			Where("business_id = ? AND id = ?", businessId, id).
			Update("position", position).Error
		if err != nil {
			return utils.NewStorageError(err)
		}
	}
	return nil
}
