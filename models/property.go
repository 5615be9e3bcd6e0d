package models

import (
	"context"
	"time"

	"bitbucket.org/mmdatafocus/crm_backend/config"
	"bitbucket.org/mmdatafocus/crm_backend/utils"
	"github.com/shopspring/decimal"
)

type Property struct {
	ID         int             `gorm:"primary_key" json:"id"`
	BusinessId string          `gorm:"index;not null" json:"business_id"`
	Name       string          `gorm:"size:255;not null" json:"name" binding:"required"`
	Address    string          `gorm:"type:text" json:"address"`
	Price      decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"price"`
	Area       decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"area"`
	Notes      string          `gorm:"type:text" json:"notes"`
	CreatedAt  time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt  time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewProperty struct {
	Name    string          `json:"name" binding:"required"`
	Address string          `json:"address"`
	Price   decimal.Decimal `json:"price"`
	Area    decimal.Decimal `json:"area"`
	Notes   string          `json:"notes"`
}

func (input *NewProperty) validate() error {
	if input.Price.IsNegative() {
		return utils.NewValidationError("price must not be negative")
	}
	if input.Area.IsNegative() {
		return utils.NewValidationError("area must not be negative")
	}
	return nil
}

func CreateProperty(ctx context.Context, input *NewProperty) (*Property, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, utils.NewValidationError("business id is required")
	}

	if err := input.validate(); err != nil {
		return nil, err
	}

	property := Property{
		BusinessId: businessId,
		Name:       input.Name,
		Address:    input.Address,
		Price:      input.Price,
		Area:       input.Area,
		Notes:      input.Notes,
	}

	db := config.GetDB()
	if err := db.WithContext(ctx).Create(&property).Error; err != nil {
		return nil, utils.NewStorageError(err)
	}
	return &property, nil
}

func UpdateProperty(ctx context.Context, id int, input *NewProperty) (*Property, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, utils.NewValidationError("business id is required")
	}

	if err := input.validate(); err != nil {
		return nil, err
	}

	property, err := utils.FetchModel[Property](ctx, businessId, id)
	if err != nil {
		return nil, utils.NewNotFoundError("property")
	}

	db := config.GetDB()
	err = db.WithContext(ctx).Model(property).Updates(map[string]interface{}{
		"Name":    input.Name,
		"Address": input.Address,
		"Price":   input.Price,
		"Area":    input.Area,
		"Notes":   input.Notes,
	}).Error
	if err != nil {
		return nil, utils.NewStorageError(err)
	}
	return property, nil
}

func DeleteProperty(ctx context.Context, id int) (*Property, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, utils.NewValidationError("business id is required")
	}

	result, err := utils.FetchModel[Property](ctx, businessId, id)
	if err != nil {
		return nil, utils.NewNotFoundError("property")
	}

	db := config.GetDB()
	tx := db.WithContext(ctx).Begin()
	if err := tx.Delete(result).Error; err != nil {
		tx.Rollback()
		return nil, utils.NewStorageError(err)
	}
	if err := DeleteEdgesForTargetTx(tx, businessId, AttachmentKindProperty, id); err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := tx.Commit().Error; err != nil {
		return nil, utils.NewStorageError(err)
	}
	return result, nil
}

func GetProperty(ctx context.Context, id int) (*Property, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, utils.NewValidationError("business id is required")
	}

	result, err := utils.FetchModel[Property](ctx, businessId, id)
	if err != nil {
		return nil, utils.NewNotFoundError("property")
	}
	return result, nil
}

func GetProperties(ctx context.Context, name *string) ([]*Property, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, utils.NewValidationError("business id is required")
	}

	db := config.GetDB()
	var results []*Property
	dbCtx := db.WithContext(ctx).Where("business_id = ?", businessId)
	if name != nil && len(*name) > 0 {
		dbCtx = dbCtx.Where("name LIKE ?", "%"+*name+"%")
	}
	if err := dbCtx.Order("name").Find(&results).Error; err != nil {
		return nil, utils.NewStorageError(err)
	}
	return results, nil
}
