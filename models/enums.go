package models

import (
	"bitbucket.org/mmdatafocus/crm_backend/utils"
)

type LeadStatus string

const (
	LeadStatusActive LeadStatus = "active"
	LeadStatusWon    LeadStatus = "won"
	LeadStatusLost   LeadStatus = "lost"
)

// a closed lead keeps its stage frozen
func (s LeadStatus) IsClosed() bool {
	return s == LeadStatusWon || s == LeadStatusLost
}

func ParseLeadStatus(value string) (LeadStatus, error) {
	switch LeadStatus(value) {
	case LeadStatusActive, LeadStatusWon, LeadStatusLost:
		return LeadStatus(value), nil
	}
	return "", utils.NewValidationError("unknown lead status: " + value)
}

type AttachmentKind string

const (
	AttachmentKindProperty     AttachmentKind = "property"
	AttachmentKindActivity     AttachmentKind = "activity"
	AttachmentKindContact      AttachmentKind = "contact"
	AttachmentKindOrganization AttachmentKind = "organization"
)

func ParseAttachmentKind(value string) (AttachmentKind, error) {
	switch AttachmentKind(value) {
	case AttachmentKindProperty, AttachmentKindActivity,
		AttachmentKindContact, AttachmentKindOrganization:
		return AttachmentKind(value), nil
	}
	return "", utils.NewValidationError("unknown attachment kind: " + value)
}

func (k AttachmentKind) AttachAction() LeadActionType {
	return LeadActionType(string(k) + "_attached")
}

func (k AttachmentKind) DetachAction() LeadActionType {
	return LeadActionType(string(k) + "_detached")
}

type LeadActionType string

const (
	LeadActionCreated       LeadActionType = "lead_created"
	LeadActionUpdated       LeadActionType = "lead_updated"
	LeadActionStageMoved    LeadActionType = "stage_moved"
	LeadActionStatusChanged LeadActionType = "status_changed"
	LeadActionCommentAdded  LeadActionType = "comment_added"

	LeadActionPropertyAttached     LeadActionType = "property_attached"
	LeadActionPropertyDetached     LeadActionType = "property_detached"
	LeadActionActivityAttached     LeadActionType = "activity_attached"
	LeadActionActivityDetached     LeadActionType = "activity_detached"
	LeadActionContactAttached      LeadActionType = "contact_attached"
	LeadActionContactDetached      LeadActionType = "contact_detached"
	LeadActionOrganizationAttached LeadActionType = "organization_attached"
	LeadActionOrganizationDetached LeadActionType = "organization_detached"
)
