package models

import (
	"context"
	"time"

	"bitbucket.org/mmdatafocus/crm_backend/config"
	"bitbucket.org/mmdatafocus/crm_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Lead struct {
	ID             int             `gorm:"primary_key" json:"id"`
	BusinessId     string          `gorm:"index;not null" json:"business_id" binding:"required"`
	Title          string          `gorm:"size:255;not null" json:"title" binding:"required"`
	LeadType       string          `gorm:"size:100" json:"lead_type"`
	Category       string          `gorm:"size:255" json:"category"`
	EstimatedValue decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"estimated_value"`
	FunnelId       int             `gorm:"index;not null" json:"funnel_id" binding:"required"`
	StageId        int             `gorm:"index;not null" json:"stage_id" binding:"required"`
	ContactId      int             `gorm:"default:0" json:"contact_id"`
	Status         LeadStatus      `gorm:"type:enum('active','won','lost');not null;default:'active'" json:"status"`
	LossReason     string          `gorm:"size:255" json:"loss_reason"`
	CreatedAt      time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewLead struct {
	Title          string          `json:"title" binding:"required"`
	LeadType       string          `json:"lead_type"`
	Category       string          `json:"category"`
	EstimatedValue decimal.Decimal `json:"estimated_value"`
	FunnelId       int             `json:"funnel_id" binding:"required"`
	StageId        int             `json:"stage_id"`
	ContactId      int             `json:"contact_id"`
}

// owner-edited fields only; funnel, stage and status move through
// their dedicated operations
type LeadPatch struct {
	Title          string          `json:"title" binding:"required"`
	LeadType       string          `json:"lead_type"`
	Category       string          `json:"category"`
	EstimatedValue decimal.Decimal `json:"estimated_value"`
	ContactId      int             `json:"contact_id"`
}

type LeadFilter struct {
	FunnelId *int        `json:"funnel_id"`
	StageId  *int        `json:"stage_id"`
	Status   *LeadStatus `json:"status"`
	Query    *string     `json:"query"`
}

type LeadsEdge Edge[Lead]
type LeadsConnection struct {
	Edges    []*LeadsEdge `json:"edges"`
	PageInfo *PageInfo    `json:"pageInfo"`
}

func (l Lead) GetId() int {
	return l.ID
}

func (l Lead) GetCursor() string {
	return l.CreatedAt.String()
}

func GetLead(ctx context.Context, id int) (*Lead, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, utils.NewValidationError("business id is required")
	}

	result, err := utils.FetchModel[Lead](ctx, businessId, id)
	if err != nil {
		return nil, utils.NewNotFoundError("lead")
	}
	return result, nil
}

func applyLeadFilter(dbCtx *gorm.DB, filter *LeadFilter) *gorm.DB {
	if filter == nil {
		return dbCtx
	}
	if filter.FunnelId != nil && *filter.FunnelId > 0 {
		dbCtx = dbCtx.Where("funnel_id = ?", *filter.FunnelId)
	}
	if filter.StageId != nil && *filter.StageId > 0 {
		dbCtx = dbCtx.Where("stage_id = ?", *filter.StageId)
	}
	if filter.Status != nil && *filter.Status != "" {
		dbCtx = dbCtx.Where("status = ?", *filter.Status)
	}
	if filter.Query != nil && len(*filter.Query) > 0 {
		pattern := "%" + *filter.Query + "%"
		dbCtx = dbCtx.Where(
			"LOWER(title) LIKE LOWER(?) OR LOWER(lead_type) LIKE LOWER(?) OR LOWER(category) LIKE LOWER(?)",
			pattern, pattern, pattern)
	}
	return dbCtx
}

// snapshot list, newest first
func GetLeads(ctx context.Context, filter *LeadFilter) ([]*Lead, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, utils.NewValidationError("business id is required")
	}

	db := config.GetDB()
	dbCtx := db.WithContext(ctx).Where("business_id = ?", businessId)
	dbCtx = applyLeadFilter(dbCtx, filter)

	var results []*Lead
	err := dbCtx.Order("created_at DESC, id DESC").Find(&results).Error
	if err != nil {
		return nil, utils.NewStorageError(err)
	}
	return results, nil
}

func PaginateLead(ctx context.Context, limit *int, after *string, filter *LeadFilter) (*LeadsConnection, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, utils.NewValidationError("business id is required")
	}

	db := config.GetDB()
	dbCtx := db.WithContext(ctx).Where("business_id = ?", businessId)
	dbCtx = applyLeadFilter(dbCtx, filter)

	edges, pageInfo, err := FetchPageCompositeCursor[Lead](dbCtx, *limit, after, "created_at", "<")
	if err != nil {
		return nil, utils.NewStorageError(err)
	}

	var leadsConnection LeadsConnection
	leadsConnection.PageInfo = pageInfo
	for _, edge := range edges {
		leadEdge := LeadsEdge(edge)
		leadsConnection.Edges = append(leadsConnection.Edges, &leadEdge)
	}

	return &leadsConnection, nil
}

// resolve a lead inside a tx, after the advisory lock is held
// FetchLeadForUpdateTx reads the lead under FOR UPDATE. An advisory lock is
// released when the mutating closure returns, which is before gorm commits;
// a writer queued on that lock must not see the pre-commit row, so the row
// lock holds it until the first transaction is done.
func FetchLeadForUpdateTx(tx *gorm.DB, businessId string, id int) (*Lead, error) {
	var result Lead
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("business_id = ?", businessId).First(&result, id).Error
	if err != nil {
		return nil, utils.NewNotFoundError("lead")
	}
	return &result, nil
}
