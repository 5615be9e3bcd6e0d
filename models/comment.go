package models

import (
	"context"
	"time"

	"bitbucket.org/mmdatafocus/crm_backend/config"
	"bitbucket.org/mmdatafocus/crm_backend/utils"
	"gorm.io/gorm"
)

// comments are append-only, like the audit stream
type Comment struct {
	ID          int       `gorm:"primary_key" json:"id"`
	BusinessId  string    `gorm:"index;not null" json:"business_id"`
	LeadId      int       `gorm:"index;not null" json:"lead_id"`
	Description string    `gorm:"type:text;not null" json:"description" binding:"required"`
	UserId      int       `gorm:"index;not null" json:"user_id"`
	UserName    string    `gorm:"size:100" json:"user_name"`
	CreatedAt   time.Time `gorm:"autoCreateTime" json:"created_at"`
}

type NewComment struct {
	Description string `json:"description" binding:"required"`
}

// CreateCommentTx writes the comment in the caller's transaction so the
// thread entry and its audit record commit together.
func CreateCommentTx(tx *gorm.DB, leadId int, description string) (*Comment, error) {
	ctx := tx.Statement.Context
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, utils.NewValidationError("business id is required")
	}
	userId, ok := utils.GetUserIdFromContext(ctx)
	if !ok {
		return nil, utils.NewValidationError("user id is required")
	}
	userName, ok := utils.GetUserNameFromContext(ctx)
	if !ok {
		return nil, utils.NewValidationError("user name is required")
	}

	comment := Comment{
		BusinessId:  businessId,
		LeadId:      leadId,
		Description: description,
		UserId:      userId,
		UserName:    userName,
	}
	if err := tx.Create(&comment).Error; err != nil {
		return nil, utils.NewStorageError(err)
	}
	return &comment, nil
}

func GetLeadComments(ctx context.Context, leadId int) ([]*Comment, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, utils.NewValidationError("business id is required")
	}

	if err := utils.ValidateResourceId[Lead](ctx, businessId, leadId); err != nil {
		return nil, utils.NewNotFoundError("lead")
	}

	db := config.GetDB()
	var results []*Comment
	err := db.WithContext(ctx).
		Where("business_id = ? AND lead_id = ?", businessId, leadId).
		Order("created_at DESC, id DESC").
		Find(&results).Error
	if err != nil {
		return nil, utils.NewStorageError(err)
	}
	return results, nil
}
