package models

import (
	"context"
	"strings"
	"time"

	"bitbucket.org/mmdatafocus/crm_backend/config"
	"bitbucket.org/mmdatafocus/crm_backend/utils"
)

type Contact struct {
	ID         int       `gorm:"primary_key" json:"id"`
	BusinessId string    `gorm:"index;not null" json:"business_id"`
	Name       string    `gorm:"size:100;not null" json:"name" binding:"required"`
	Email      string    `gorm:"size:100" json:"email"`
	Phone      string    `gorm:"size:20" json:"phone"`
	Mobile     string    `gorm:"size:20" json:"mobile"`
	Position   string    `gorm:"size:100" json:"position"`
	Notes      string    `gorm:"type:text" json:"notes"`
	CreatedAt  time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt  time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewContact struct {
	Name     string `json:"name" binding:"required"`
	Email    string `json:"email"`
	Phone    string `json:"phone"`
	Mobile   string `json:"mobile"`
	Position string `json:"position"`
	Notes    string `json:"notes"`
}

// validate input for both create & update. (id = 0 for create)
func (input *NewContact) validate(ctx context.Context, businessId string, id int) error {
	if id > 0 {
		if err := utils.ValidateResourceId[Contact](ctx, businessId, id); err != nil {
			return utils.NewNotFoundError("contact")
		}
	}
	if err := utils.ValidateUnique[Contact](ctx, businessId, "name", input.Name, id); err != nil {
		return utils.NewValidationError("contact name already exists")
	}
	if len(strings.TrimSpace(input.Email)) > 0 && !utils.IsValidEmail(input.Email) {
		return utils.NewValidationError("invalid email")
	}
	if len(strings.TrimSpace(input.Phone)) > 0 {
		if err := utils.ValidatePhoneNumber(input.Phone, utils.CountryCode); err != nil {
			return utils.NewValidationError("invalid phone number")
		}
	}
	return nil
}

func CreateContact(ctx context.Context, input *NewContact) (*Contact, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, utils.NewValidationError("business id is required")
	}

	if err := input.validate(ctx, businessId, 0); err != nil {
		return nil, err
	}

	contact := Contact{
		BusinessId: businessId,
		Name:       input.Name,
		Email:      input.Email,
		Phone:      input.Phone,
		Mobile:     input.Mobile,
		Position:   input.Position,
		Notes:      input.Notes,
	}

	db := config.GetDB()
	if err := db.WithContext(ctx).Create(&contact).Error; err != nil {
		return nil, utils.NewStorageError(err)
	}

	if err := utils.RemoveRedisList[Contact](businessId); err != nil {
		config.LogError(config.GetLogger(), "contact", "CreateContact", "cache remove", businessId, err)
	}
	return &contact, nil
}

func UpdateContact(ctx context.Context, id int, input *NewContact) (*Contact, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, utils.NewValidationError("business id is required")
	}

	if err := input.validate(ctx, businessId, id); err != nil {
		return nil, err
	}

	contact, err := utils.FetchModel[Contact](ctx, businessId, id)
	if err != nil {
		return nil, utils.NewNotFoundError("contact")
	}

	db := config.GetDB()
	err = db.WithContext(ctx).Model(contact).Updates(map[string]interface{}{
		"Name":     input.Name,
		"Email":    input.Email,
		"Phone":    input.Phone,
		"Mobile":   input.Mobile,
		"Position": input.Position,
		"Notes":    input.Notes,
	}).Error
	if err != nil {
		return nil, utils.NewStorageError(err)
	}

	if err := utils.RemoveRedisList[Contact](businessId); err != nil {
		config.LogError(config.GetLogger(), "contact", "UpdateContact", "cache remove", businessId, err)
	}
	return contact, nil
}

func DeleteContact(ctx context.Context, id int) (*Contact, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, utils.NewValidationError("business id is required")
	}

	result, err := utils.FetchModel[Contact](ctx, businessId, id)
	if err != nil {
		return nil, utils.NewNotFoundError("contact")
	}

	count, err := utils.ResourceCountWhere[Lead](ctx, businessId, "contact_id = ?", id)
	if err != nil {
		return nil, utils.NewStorageError(err)
	}
	if count > 0 {
		return nil, utils.NewInvalidStateError("contact is the primary contact of a lead")
	}

	db := config.GetDB()
	tx := db.WithContext(ctx).Begin()
	if err := tx.Delete(result).Error; err != nil {
		tx.Rollback()
		return nil, utils.NewStorageError(err)
	}
	// drop the attachment edges that pointed at this record
	if err := DeleteEdgesForTargetTx(tx, businessId, AttachmentKindContact, id); err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := tx.Commit().Error; err != nil {
		return nil, utils.NewStorageError(err)
	}

	if err := utils.RemoveRedisList[Contact](businessId); err != nil {
		config.LogError(config.GetLogger(), "contact", "DeleteContact", "cache remove", businessId, err)
	}
	return result, nil
}

func GetContact(ctx context.Context, id int) (*Contact, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, utils.NewValidationError("business id is required")
	}

	result, err := utils.FetchModel[Contact](ctx, businessId, id)
	if err != nil {
		return nil, utils.NewNotFoundError("contact")
	}
	return result, nil
}

func GetContacts(ctx context.Context, name *string) ([]*Contact, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, utils.NewValidationError("business id is required")
	}

	// unfiltered list is cached, mutations invalidate
	if name == nil || *name == "" {
		if cached, _ := utils.RetrieveRedisList[Contact](businessId); cached != nil {
			return cached, nil
		}
	}

	db := config.GetDB()
	var results []*Contact
	dbCtx := db.WithContext(ctx).Where("business_id = ?", businessId)
	if name != nil && len(*name) > 0 {
		dbCtx = dbCtx.Where("name LIKE ?", "%"+*name+"%")
	}
	if err := dbCtx.Order("name").Find(&results).Error; err != nil {
		return nil, utils.NewStorageError(err)
	}

	if name == nil || *name == "" {
		if err := utils.StoreRedisList[Contact](results, businessId); err != nil {
			config.LogError(config.GetLogger(), "contact", "GetContacts", "cache store", businessId, err)
		}
	}
	return results, nil
}
