package models

import (
	"context"
	"time"

	"bitbucket.org/mmdatafocus/crm_backend/config"
	"bitbucket.org/mmdatafocus/crm_backend/utils"
)

type Organization struct {
	ID         int       `gorm:"primary_key" json:"id"`
	BusinessId string    `gorm:"index;not null" json:"business_id"`
	Name       string    `gorm:"size:100;not null" json:"name" binding:"required"`
	Industry   string    `gorm:"size:100" json:"industry"`
	Email      string    `gorm:"size:100" json:"email"`
	Phone      string    `gorm:"size:20" json:"phone"`
	Address    string    `gorm:"type:text" json:"address"`
	Notes      string    `gorm:"type:text" json:"notes"`
	CreatedAt  time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt  time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewOrganization struct {
	Name     string `json:"name" binding:"required"`
	Industry string `json:"industry"`
	Email    string `json:"email"`
	Phone    string `json:"phone"`
	Address  string `json:"address"`
	Notes    string `json:"notes"`
}

func (input *NewOrganization) validate(ctx context.Context, businessId string, id int) error {
	if id > 0 {
		if err := utils.ValidateResourceId[Organization](ctx, businessId, id); err != nil {
			return utils.NewNotFoundError("organization")
		}
	}
	if err := utils.ValidateUnique[Organization](ctx, businessId, "name", input.Name, id); err != nil {
		return utils.NewValidationError("organization name already exists")
	}
	if input.Email != "" && !utils.IsValidEmail(input.Email) {
		return utils.NewValidationError("invalid email")
	}
	return nil
}

func CreateOrganization(ctx context.Context, input *NewOrganization) (*Organization, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, utils.NewValidationError("business id is required")
	}

	if err := input.validate(ctx, businessId, 0); err != nil {
		return nil, err
	}

	organization := Organization{
		BusinessId: businessId,
		Name:       input.Name,
		Industry:   input.Industry,
		Email:      input.Email,
		Phone:      input.Phone,
		Address:    input.Address,
		Notes:      input.Notes,
	}

	db := config.GetDB()
	if err := db.WithContext(ctx).Create(&organization).Error; err != nil {
		return nil, utils.NewStorageError(err)
	}
	return &organization, nil
}

func UpdateOrganization(ctx context.Context, id int, input *NewOrganization) (*Organization, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, utils.NewValidationError("business id is required")
	}

	if err := input.validate(ctx, businessId, id); err != nil {
		return nil, err
	}

	organization, err := utils.FetchModel[Organization](ctx, businessId, id)
	if err != nil {
		return nil, utils.NewNotFoundError("organization")
	}

	db := config.GetDB()
	err = db.WithContext(ctx).Model(organization).Updates(map[string]interface{}{
		"Name":     input.Name,
		"Industry": input.Industry,
		"Email":    input.Email,
		"Phone":    input.Phone,
		"Address":  input.Address,
		"Notes":    input.Notes,
	}).Error
	if err != nil {
		return nil, utils.NewStorageError(err)
	}
	return organization, nil
}

func DeleteOrganization(ctx context.Context, id int) (*Organization, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, utils.NewValidationError("business id is required")
	}

	result, err := utils.FetchModel[Organization](ctx, businessId, id)
	if err != nil {
		return nil, utils.NewNotFoundError("organization")
	}

	db := config.GetDB()
	tx := db.WithContext(ctx).Begin()
	if err := tx.Delete(result).Error; err != nil {
		tx.Rollback()
		return nil, utils.NewStorageError(err)
	}
	if err := DeleteEdgesForTargetTx(tx, businessId, AttachmentKindOrganization, id); err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := tx.Commit().Error; err != nil {
		return nil, utils.NewStorageError(err)
	}
	return result, nil
}

func GetOrganization(ctx context.Context, id int) (*Organization, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, utils.NewValidationError("business id is required")
	}

	result, err := utils.FetchModel[Organization](ctx, businessId, id)
	if err != nil {
		return nil, utils.NewNotFoundError("organization")
	}
	return result, nil
}

func GetOrganizations(ctx context.Context, name *string) ([]*Organization, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, utils.NewValidationError("business id is required")
	}

	db := config.GetDB()
	var results []*Organization
	dbCtx := db.WithContext(ctx).Where("business_id = ?", businessId)
	if name != nil && len(*name) > 0 {
		dbCtx = dbCtx.Where("name LIKE ?", "%"+*name+"%")
	}
	if err := dbCtx.Order("name").Find(&results).Error; err != nil {
		return nil, utils.NewStorageError(err)
	}
	return results, nil
}
