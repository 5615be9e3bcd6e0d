package models

import (
	"context"
	"time"

	"bitbucket.org/mmdatafocus/crm_backend/config"
	"bitbucket.org/mmdatafocus/crm_backend/utils"
)

type Activity struct {
	ID           int        `gorm:"primary_key" json:"id"`
	BusinessId   string     `gorm:"index;not null" json:"business_id"`
	Name         string     `gorm:"size:255;not null" json:"name" binding:"required"`
	ActivityDate *time.Time `json:"activity_date"`
	Location     string     `gorm:"size:255" json:"location"`
	Notes        string     `gorm:"type:text" json:"notes"`
	IsDone       *bool      `gorm:"not null;default:false" json:"is_done"`
	CreatedAt    time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewActivity struct {
	Name         string     `json:"name" binding:"required"`
	ActivityDate *time.Time `json:"activity_date"`
	Location     string     `json:"location"`
	Notes        string     `json:"notes"`
	IsDone       *bool      `json:"is_done"`
}

func CreateActivity(ctx context.Context, input *NewActivity) (*Activity, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, utils.NewValidationError("business id is required")
	}

	isDone := input.IsDone
	if isDone == nil {
		isDone = utils.NewFalse()
	}
	activity := Activity{
		BusinessId:   businessId,
		Name:         input.Name,
		ActivityDate: input.ActivityDate,
		Location:     input.Location,
		Notes:        input.Notes,
		IsDone:       isDone,
	}

	db := config.GetDB()
	if err := db.WithContext(ctx).Create(&activity).Error; err != nil {
		return nil, utils.NewStorageError(err)
	}
	return &activity, nil
}

func UpdateActivity(ctx context.Context, id int, input *NewActivity) (*Activity, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, utils.NewValidationError("business id is required")
	}

	activity, err := utils.FetchModel[Activity](ctx, businessId, id)
	if err != nil {
		return nil, utils.NewNotFoundError("activity")
	}

	db := config.GetDB()
	err = db.WithContext(ctx).Model(activity).Updates(map[string]interface{}{
		"Name":         input.Name,
		"ActivityDate": input.ActivityDate,
		"Location":     input.Location,
		"Notes":        input.Notes,
		"IsDone":       input.IsDone,
	}).Error
	if err != nil {
		return nil, utils.NewStorageError(err)
	}
	return activity, nil
}

func DeleteActivity(ctx context.Context, id int) (*Activity, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, utils.NewValidationError("business id is required")
	}

	result, err := utils.FetchModel[Activity](ctx, businessId, id)
	if err != nil {
		return nil, utils.NewNotFoundError("activity")
	}

	db := config.GetDB()
	tx := db.WithContext(ctx).Begin()
	if err := tx.Delete(result).Error; err != nil {
		tx.Rollback()
		return nil, utils.NewStorageError(err)
	}
	if err := DeleteEdgesForTargetTx(tx, businessId, AttachmentKindActivity, id); err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := tx.Commit().Error; err != nil {
		return nil, utils.NewStorageError(err)
	}
	return result, nil
}

func GetActivity(ctx context.Context, id int) (*Activity, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, utils.NewValidationError("business id is required")
	}

	result, err := utils.FetchModel[Activity](ctx, businessId, id)
	if err != nil {
		return nil, utils.NewNotFoundError("activity")
	}
	return result, nil
}

func GetActivities(ctx context.Context, name *string) ([]*Activity, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, utils.NewValidationError("business id is required")
	}

	db := config.GetDB()
	var results []*Activity
	dbCtx := db.WithContext(ctx).Where("business_id = ?", businessId)
	if name != nil && len(*name) > 0 {
		dbCtx = dbCtx.Where("name LIKE ?", "%"+*name+"%")
	}
	if err := dbCtx.Order("activity_date DESC, id DESC").Find(&results).Error; err != nil {
		return nil, utils.NewStorageError(err)
	}
	return results, nil
}
