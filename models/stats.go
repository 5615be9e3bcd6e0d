package models

import (
	"context"

	"bitbucket.org/mmdatafocus/crm_backend/config"
	"bitbucket.org/mmdatafocus/crm_backend/utils"
	"github.com/shopspring/decimal"
)

// FunnelStats is derived on demand from the leads table; nothing here is
// stored, so it can never drift from the source rows.
type FunnelStats struct {
	FunnelId            int             `json:"funnel_id"`
	LeadCount           int             `json:"lead_count"`
	ActiveCount         int             `json:"active_count"`
	WonCount            int             `json:"won_count"`
	LostCount           int             `json:"lost_count"`
	ConversionRate      float64         `json:"conversion_rate"`
	TotalEstimatedValue decimal.Decimal `json:"total_estimated_value"`
	ValueByStage        []*StageValue   `json:"value_by_stage"`
}

type StageValue struct {
	StageId    int             `json:"stage_id"`
	StageName  string          `json:"stage_name"`
	Position   int             `json:"position"`
	LeadCount  int             `json:"lead_count"`
	TotalValue decimal.Decimal `json:"total_value"`
}

type statusAggregate struct {
	Status LeadStatus
	Count  int
	Value  decimal.Decimal
}

type stageAggregate struct {
	StageId int
	Count   int
	Value   decimal.Decimal
}

func GetFunnelStats(ctx context.Context, funnelId int) (*FunnelStats, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, utils.NewValidationError("business id is required")
	}

	funnel, err := GetFunnel(ctx, funnelId)
	if err != nil {
		return nil, err
	}

	db := config.GetDB()

	var byStatus []statusAggregate
	err = db.WithContext(ctx).Model(&Lead{}).
		Where("business_id = ? AND funnel_id = ?", businessId, funnelId).
		Select("status, COUNT(*) AS count, COALESCE(SUM(estimated_value), 0) AS value").
		Group("status").
		Scan(&byStatus).Error
	if err != nil {
		return nil, utils.NewStorageError(err)
	}

	stats := FunnelStats{
		FunnelId:            funnelId,
		TotalEstimatedValue: decimal.Zero,
	}
	for _, row := range byStatus {
		stats.LeadCount += row.Count
		switch row.Status {
		case LeadStatusActive:
			stats.ActiveCount = row.Count
			stats.TotalEstimatedValue = stats.TotalEstimatedValue.Add(row.Value)
		case LeadStatusWon:
			stats.WonCount = row.Count
			stats.TotalEstimatedValue = stats.TotalEstimatedValue.Add(row.Value)
		case LeadStatusLost:
			stats.LostCount = row.Count
		}
	}
	if stats.LeadCount > 0 {
		stats.ConversionRate = float64(stats.WonCount) / float64(stats.LeadCount)
	}

	var byStage []stageAggregate
	err = db.WithContext(ctx).Model(&Lead{}).
		Where("business_id = ? AND funnel_id = ?", businessId, funnelId).
		Select("stage_id, COUNT(*) AS count, COALESCE(SUM(estimated_value), 0) AS value").
		Group("stage_id").
		Scan(&byStage).Error
	if err != nil {
		return nil, utils.NewStorageError(err)
	}

	stageTotals := make(map[int]stageAggregate, len(byStage))
	for _, row := range byStage {
		stageTotals[row.StageId] = row
	}

	// every stage appears, empty ones with zeros, in board order
	stats.ValueByStage = make([]*StageValue, 0, len(funnel.Stages))
	for _, stage := range funnel.Stages {
		value := StageValue{
			StageId:    stage.ID,
			StageName:  stage.Name,
			Position:   stage.Position,
			TotalValue: decimal.Zero,
		}
		if row, ok := stageTotals[stage.ID]; ok {
			value.LeadCount = row.Count
			value.TotalValue = row.Value
		}
		stats.ValueByStage = append(stats.ValueByStage, &value)
	}

	return &stats, nil
}
