package models

import (
	"context"
	"errors"
	"time"

	"bitbucket.org/mmdatafocus/crm_backend/config"
	"bitbucket.org/mmdatafocus/crm_backend/utils"
	"gorm.io/gorm"
)

// LeadAttachment is one edge of the lead's attachment graph. The composite
// unique index gives the set semantics: a (lead, kind, target) edge exists
// at most once.
type LeadAttachment struct {
	ID         int            `gorm:"primary_key" json:"id"`
	BusinessId string         `gorm:"uniqueIndex:uniq_lead_attachment;not null" json:"business_id"`
	LeadId     int            `gorm:"uniqueIndex:uniq_lead_attachment;not null" json:"lead_id"`
	Kind       AttachmentKind `gorm:"uniqueIndex:uniq_lead_attachment;size:20;not null" json:"kind"`
	TargetId   int            `gorm:"uniqueIndex:uniq_lead_attachment;not null" json:"target_id"`
	CreatedAt  time.Time      `gorm:"autoCreateTime" json:"created_at"`
}

type NewAttachment struct {
	Kind     AttachmentKind `json:"kind" binding:"required"`
	TargetId int            `json:"target_id" binding:"required"`
}

// AttachmentTarget is the display projection of an attached record.
type AttachmentTarget struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

func targetModel(kind AttachmentKind) interface{} {
	switch kind {
	case AttachmentKindProperty:
		return &Property{}
	case AttachmentKindActivity:
		return &Activity{}
	case AttachmentKindContact:
		return &Contact{}
	case AttachmentKindOrganization:
		return &Organization{}
	}
	return nil
}

// ResolveAttachmentTarget checks the target record exists and returns its
// display name for audit descriptions.
func ResolveAttachmentTarget(ctx context.Context, kind AttachmentKind, targetId int) (*AttachmentTarget, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, utils.NewValidationError("business id is required")
	}

	model := targetModel(kind)
	if model == nil {
		return nil, utils.NewValidationError("unknown attachment kind: " + string(kind))
	}

	db := config.GetDB()
	var target AttachmentTarget
	err := db.WithContext(ctx).Model(model).
		Where("business_id = ?", businessId).
		Select("id, name").
		First(&target, targetId).Error
	if err != nil {
		return nil, utils.NewNotFoundError(string(kind))
	}
	return &target, nil
}

// FetchAttachmentTx returns the edge if present, nil when absent.
func FetchAttachmentTx(tx *gorm.DB, businessId string, leadId int, kind AttachmentKind, targetId int) (*LeadAttachment, error) {
	var edge LeadAttachment
	err := tx.Where("business_id = ? AND lead_id = ? AND kind = ? AND target_id = ?",
		businessId, leadId, kind, targetId).
		First(&edge).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, utils.NewStorageError(err)
	}
	return &edge, nil
}

func CreateAttachmentTx(tx *gorm.DB, businessId string, leadId int, kind AttachmentKind, targetId int) (*LeadAttachment, error) {
	edge := LeadAttachment{
		BusinessId: businessId,
		LeadId:     leadId,
		Kind:       kind,
		TargetId:   targetId,
	}
	if err := tx.Create(&edge).Error; err != nil {
		return nil, utils.NewStorageError(err)
	}
	return &edge, nil
}

func DeleteAttachmentTx(tx *gorm.DB, edge *LeadAttachment) error {
	if err := tx.Delete(edge).Error; err != nil {
		return utils.NewStorageError(err)
	}
	return nil
}

// back-reference cleanup when a target record is deleted
func DeleteEdgesForTargetTx(tx *gorm.DB, businessId string, kind AttachmentKind, targetId int) error {
	err := tx.Where("business_id = ? AND kind = ? AND target_id = ?", businessId, kind, targetId).
		Delete(&LeadAttachment{}).Error
	if err != nil {
		return utils.NewStorageError(err)
	}
	return nil
}

// cascade when a lead is hard-deleted
func DeleteEdgesForLeadTx(tx *gorm.DB, businessId string, leadId int) error {
	err := tx.Where("business_id = ? AND lead_id = ?", businessId, leadId).
		Delete(&LeadAttachment{}).Error
	if err != nil {
		return utils.NewStorageError(err)
	}
	return nil
}

func attachedTargetIds(ctx context.Context, businessId string, leadId int, kind AttachmentKind) ([]int, error) {
	db := config.GetDB()
	var ids []int
	err := db.WithContext(ctx).Model(&LeadAttachment{}).
		Where("business_id = ? AND lead_id = ? AND kind = ?", businessId, leadId, kind).
		Pluck("target_id", &ids).Error
	if err != nil {
		return nil, utils.NewStorageError(err)
	}
	return ids, nil
}

func ListAttachedTargets(ctx context.Context, leadId int, kind AttachmentKind) ([]*AttachmentTarget, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, utils.NewValidationError("business id is required")
	}

	if err := utils.ValidateResourceId[Lead](ctx, businessId, leadId); err != nil {
		return nil, utils.NewNotFoundError("lead")
	}
	model := targetModel(kind)
	if model == nil {
		return nil, utils.NewValidationError("unknown attachment kind: " + string(kind))
	}

	ids, err := attachedTargetIds(ctx, businessId, leadId, kind)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return []*AttachmentTarget{}, nil
	}

	db := config.GetDB()
	var targets []*AttachmentTarget
	err = db.WithContext(ctx).Model(model).
		Where("business_id = ? AND id IN ?", businessId, ids).
		Select("id, name").
		Order("name").
		Find(&targets).Error
	if err != nil {
		return nil, utils.NewStorageError(err)
	}
	return targets, nil
}

// ListAvailableTargets lists the records of a kind not yet attached to the
// lead, i.e. what an attach picker should offer.
func ListAvailableTargets(ctx context.Context, leadId int, kind AttachmentKind) ([]*AttachmentTarget, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, utils.NewValidationError("business id is required")
	}

	if err := utils.ValidateResourceId[Lead](ctx, businessId, leadId); err != nil {
		return nil, utils.NewNotFoundError("lead")
	}
	model := targetModel(kind)
	if model == nil {
		return nil, utils.NewValidationError("unknown attachment kind: " + string(kind))
	}

	db := config.GetDB()
	var pool []*AttachmentTarget
	err := db.WithContext(ctx).Model(model).
		Where("business_id = ?", businessId).
		Select("id, name").
		Order("name").
		Find(&pool).Error
	if err != nil {
		return nil, utils.NewStorageError(err)
	}

	attached, err := attachedTargetIds(ctx, businessId, leadId, kind)
	if err != nil {
		return nil, err
	}

	return AvailableTargets(pool, attached), nil
}

// AvailableTargets is the pure set difference: pool minus attached.
func AvailableTargets(pool []*AttachmentTarget, attachedIds []int) []*AttachmentTarget {
	attached := make(map[int]bool, len(attachedIds))
	for _, id := range attachedIds {
		attached[id] = true
	}
	available := make([]*AttachmentTarget, 0, len(pool))
	for _, target := range pool {
		if !attached[target.ID] {
			available = append(available, target)
		}
	}
	return available
}
