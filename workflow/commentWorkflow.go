package workflow

import (
	"context"
	"fmt"
	"strings"

	"bitbucket.org/mmdatafocus/crm_backend/config"
	"bitbucket.org/mmdatafocus/crm_backend/models"
	"bitbucket.org/mmdatafocus/crm_backend/utils"
	"gorm.io/gorm"
)

const commentPreviewLimit = 80

// AddLeadComment appends a comment and its comment_added audit entry in one
// transaction. The audit description carries a preview truncated to 80 runes.
func AddLeadComment(ctx context.Context, leadId int, body string) (*models.Comment, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, utils.NewValidationError("business id is required")
	}
	if strings.TrimSpace(body) == "" {
		return nil, utils.NewValidationError("comment body is required")
	}

	lock := obtainLeadRedisLock(ctx, businessId, leadId)
	defer releaseRedisLock(ctx, lock)

	var comment *models.Comment
	db := config.GetDB()
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := AcquireLeadLock(tx, businessId, leadId); err != nil {
			return err
		}
		defer ReleaseLeadLock(tx, businessId, leadId)

		lead, err := models.FetchLeadForUpdateTx(tx, businessId, leadId)
		if err != nil {
			return err
		}

		comment, err = models.CreateCommentTx(tx, lead.ID, body)
		if err != nil {
			return err
		}

		preview := utils.TruncatePreview(body, commentPreviewLimit)
		description := fmt.Sprintf("Comment added: %s", preview)
		return models.SaveLeadHistory(tx, lead.ID, models.LeadActionCommentAdded, nil, comment, description)
	})
	if err != nil {
		return nil, err
	}
	return comment, nil
}
