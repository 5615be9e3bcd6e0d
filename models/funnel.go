package models

import (
	"context"
	"time"

	"bitbucket.org/mmdatafocus/crm_backend/config"
	"bitbucket.org/mmdatafocus/crm_backend/utils"
	"gorm.io/gorm"
)

type Funnel struct {
	ID         int       `gorm:"primary_key" json:"id"`
	BusinessId string    `gorm:"index;not null" json:"business_id" binding:"required"`
	Name       string    `gorm:"size:100;not null" json:"name" binding:"required"`
	Stages     []*Stage  `gorm:"foreignKey:FunnelId" json:"stages"`
	CreatedAt  time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt  time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// Stage positions are dense and 1-based within a funnel; every structural
// edit renumbers the survivors before commit.
type Stage struct {
	ID         int       `gorm:"primary_key" json:"id"`
	BusinessId string    `gorm:"index;not null" json:"business_id"`
	FunnelId   int       `gorm:"index;not null" json:"funnel_id"`
	Name       string    `gorm:"size:100;not null" json:"name" binding:"required"`
	Color      string    `gorm:"size:20" json:"color"`
	Position   int       `gorm:"not null" json:"position"`
	CreatedAt  time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt  time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewFunnel struct {
	Name   string      `json:"name" binding:"required"`
	Stages []*NewStage `json:"stages" binding:"required"`
}

type NewStage struct {
	Name  string `json:"name" binding:"required"`
	Color string `json:"color"`
}

func (f Funnel) GetId() int {
	return f.ID
}

func (f Funnel) GetCursor() string {
	return f.CreatedAt.String()
}

func (input *NewFunnel) Validate(ctx context.Context, businessId string, id int) error {
	if id > 0 {
		if err := utils.ValidateResourceId[Funnel](ctx, businessId, id); err != nil {
			return utils.NewNotFoundError("funnel")
		}
	}
	if err := utils.ValidateUnique[Funnel](ctx, businessId, "name", input.Name, id); err != nil {
		return utils.NewValidationError("funnel name already exists")
	}
	if len(input.Stages) == 0 {
		return utils.NewValidationError("funnel requires at least one stage")
	}
	seen := make(map[string]bool, len(input.Stages))
	for _, stage := range input.Stages {
		if stage.Name == "" {
			return utils.NewValidationError("stage name is required")
		}
		if seen[stage.Name] {
			return utils.NewValidationError("duplicate stage name: " + stage.Name)
		}
		seen[stage.Name] = true
	}
	return nil
}

// preload stages in board order
func stageOrder(db *gorm.DB) *gorm.DB {
	return db.Order("position")
}

func GetFunnel(ctx context.Context, id int) (*Funnel, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, utils.NewValidationError("business id is required")
	}

	// funnel metadata rarely changes; workflow invalidates on edit
	if cached, _ := utils.RetrieveRedis[Funnel](id); cached != nil && cached.BusinessId == businessId {
		return cached, nil
	}

	db := config.GetDB()
	var result Funnel
	err := db.WithContext(ctx).
		Where("business_id = ?", businessId).
		Preload("Stages", stageOrder).
		First(&result, id).Error
	if err != nil {
		return nil, utils.NewNotFoundError("funnel")
	}

	if err := utils.StoreRedis[Funnel](&result, id); err != nil {
		config.LogError(config.GetLogger(), "funnel", "GetFunnel", "cache store", id, err)
	}
	return &result, nil
}

func GetFunnels(ctx context.Context, name *string) ([]*Funnel, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, utils.NewValidationError("business id is required")
	}

	db := config.GetDB()
	var results []*Funnel
	dbCtx := db.WithContext(ctx).
		Where("business_id = ?", businessId).
		Preload("Stages", stageOrder)
	if name != nil && len(*name) > 0 {
		dbCtx = dbCtx.Where("name LIKE ?", "%"+*name+"%")
	}
	err := dbCtx.Order("created_at").Find(&results).Error
	if err != nil {
		return nil, utils.NewStorageError(err)
	}
	return results, nil
}

func GetStage(ctx context.Context, id int) (*Stage, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, utils.NewValidationError("business id is required")
	}
	result, err := utils.FetchModel[Stage](ctx, businessId, id)
	if err != nil {
		return nil, utils.NewNotFoundError("stage")
	}
	return result, nil
}

// resolve a stage inside a tx, funnel membership checked by the caller
func FetchStageTx(tx *gorm.DB, businessId string, id int) (*Stage, error) {
	var result Stage
	err := tx.Where("business_id = ?", businessId).First(&result, id).Error
	if err != nil {
		return nil, utils.NewNotFoundError("stage")
	}
	return &result, nil
}

func FetchFunnelStagesTx(tx *gorm.DB, businessId string, funnelId int) ([]*Stage, error) {
	var stages []*Stage
	err := tx.Where("business_id = ? AND funnel_id = ?", businessId, funnelId).
		Order("position").
		Find(&stages).Error
	if err != nil {
		return nil, utils.NewStorageError(err)
	}
	return stages, nil
}

// drop the cached copy after a structural edit
func InvalidateFunnelCache(funnelId int) {
	if err := utils.RemoveRedisItem[Funnel](funnelId); err != nil {
		config.LogError(config.GetLogger(), "funnel", "InvalidateFunnelCache", "cache remove", funnelId, err)
	}
}
