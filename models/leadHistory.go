package models

import (
	"context"
	"encoding/json"
	"time"

	"bitbucket.org/mmdatafocus/crm_backend/config"
	"bitbucket.org/mmdatafocus/crm_backend/utils"
	"gorm.io/gorm"
)

// LeadHistory is the append-only audit stream of a lead. Entries are only
// ever created inside the same transaction as the change they record; there
// is no update or delete API.
type LeadHistory struct {
	ID          int            `gorm:"primary_key" json:"id"`
	BusinessId  string         `gorm:"index;not null" json:"business_id"`
	LeadId      int            `gorm:"index;not null" json:"lead_id"`
	ActionType  LeadActionType `gorm:"size:30;not null" json:"action_type"`
	Before      string         `gorm:"type:text" json:"before"`
	After       string         `gorm:"type:text" json:"after"`
	Description string         `gorm:"type:text;not null" json:"description"`
	UserId      int            `gorm:"index;not null" json:"user_id"`
	UserName    string         `gorm:"size:100" json:"user_name"`
	CreatedAt   time.Time      `gorm:"autoCreateTime" json:"created_at"`
}

type LeadHistoriesEdge Edge[LeadHistory]
type LeadHistoriesConnection struct {
	Edges    []*LeadHistoriesEdge `json:"edges"`
	PageInfo *PageInfo            `json:"pageInfo"`
}

func (h LeadHistory) GetId() int {
	return h.ID
}

func (h LeadHistory) GetCursor() string {
	return h.CreatedAt.String()
}

// SaveLeadHistory appends one audit entry in the caller's transaction.
// Actor and tenant are read from the tx context, so the entry can never
// commit without the change it describes.
func SaveLeadHistory(tx *gorm.DB,
	leadId int,
	actionType LeadActionType,
	before interface{},
	after interface{},
	description string) error {

	var history LeadHistory

	b, _ := json.Marshal(before)
	a, _ := json.Marshal(after)

	ctx := tx.Statement.Context
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return utils.NewValidationError("business id is required")
	}
	userId, ok := utils.GetUserIdFromContext(ctx)
	if !ok {
		return utils.NewValidationError("user id is required")
	}
	userName, ok := utils.GetUserNameFromContext(ctx)
	if !ok {
		return utils.NewValidationError("user name is required")
	}

	history.BusinessId = businessId
	history.LeadId = leadId
	history.ActionType = actionType
	history.Before = string(b)
	history.After = string(a)
	history.Description = description
	history.UserId = userId
	history.UserName = userName

	return tx.Create(&history).Error
}

func GetLeadHistories(ctx context.Context, leadId int) ([]*LeadHistory, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, utils.NewValidationError("business id is required")
	}

	if err := utils.ValidateResourceId[Lead](ctx, businessId, leadId); err != nil {
		return nil, utils.NewNotFoundError("lead")
	}

	db := config.GetDB()
	var results []*LeadHistory
	err := db.WithContext(ctx).
		Where("business_id = ? AND lead_id = ?", businessId, leadId).
		Order("created_at DESC, id DESC").
		Find(&results).Error
	if err != nil {
		return nil, utils.NewStorageError(err)
	}
	return results, nil
}

func PaginateLeadHistory(ctx context.Context,
	limit *int,
	after *string,
	leadId int,
	actionType *LeadActionType,
) (*LeadHistoriesConnection, error) {

	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, utils.NewValidationError("business id is required")
	}

	db := config.GetDB()
	dbCtx := db.WithContext(ctx).
		Where("business_id = ? AND lead_id = ?", businessId, leadId)
	if actionType != nil && *actionType != "" {
		dbCtx = dbCtx.Where("action_type = ?", *actionType)
	}

	edges, pageInfo, err := FetchPageCompositeCursor[LeadHistory](dbCtx, *limit, after, "created_at", "<")
	if err != nil {
		return nil, utils.NewStorageError(err)
	}

	var historiesConnection LeadHistoriesConnection
	historiesConnection.PageInfo = pageInfo
	for _, edge := range edges {
		historyEdge := LeadHistoriesEdge(edge)
		historiesConnection.Edges = append(historiesConnection.Edges, &historyEdge)
	}

	return &historiesConnection, nil
}
