package models

import (
	"errors"

	"gorm.io/gorm"
)

var (
	// ErrNumberNotUsable is returned when a caller-id override does not
	// resolve to an owned, outbound-enabled number.
	ErrNumberNotUsable = errors.New("number not owned or not outbound enabled")
	// ErrTrunkMismatch is returned when a caller-id belongs to a
	// different trunk than the current call's.
	ErrTrunkMismatch = errors.New("number not valid for call trunk")
)

// PhoneNumber is a provisioned number owned by an organisation.
type PhoneNumber struct {
	ID     uint   `json:"id" gorm:"primaryKey"`
	Number string `json:"number" gorm:"size:64;uniqueIndex;not null"`
	OrgID  string `json:"orgId" gorm:"size:128;index;not null"`
	// Outbound marks the number usable as outbound caller-id.
	Outbound bool   `json:"outbound"`
	TrunkID  string `json:"trunkId,omitempty" gorm:"size:128;index"`
}

func (PhoneNumber) TableName() string {
	return "phone_numbers"
}

// Trunk is a carrier trunk record. CanRefer governs whether legs arriving
// on this trunk may be redirected with SIP REFER.
type Trunk struct {
	ID       uint   `json:"id" gorm:"primaryKey"`
	TrunkID  string `json:"trunkId" gorm:"size:128;uniqueIndex;not null"`
	OrgID    string `json:"orgId" gorm:"size:128;index;not null"`
	Name     string `json:"name" gorm:"size:128"`
	CanRefer bool   `json:"canRefer"`
	// OutboundNumber is the trunk's default outbound identity.
	OutboundNumber string `json:"outboundNumber,omitempty" gorm:"size:64"`
}

func (Trunk) TableName() string {
	return "trunks"
}

// ResolveCallerID validates a caller-id override for an organisation. The
// number must be owned by the org and enabled for outbound use; when the
// current call arrived on a trunk, it must also belong to that trunk.
func ResolveCallerID(db *gorm.DB, orgID, number, currentTrunkID string) (*PhoneNumber, error) {
	var owned PhoneNumber
	err := db.Where("number = ? AND org_id = ?", number, orgID).First(&owned).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNumberNotUsable
		}
		return nil, err
	}
	if !owned.Outbound {
		return nil, ErrNumberNotUsable
	}
	if currentTrunkID != "" && owned.TrunkID != "" && owned.TrunkID != currentTrunkID {
		return nil, ErrTrunkMismatch
	}
	return &owned, nil
}

// GetTrunk looks up a trunk by its identifier.
func GetTrunk(db *gorm.DB, trunkID string) (*Trunk, error) {
	var trunk Trunk
	if err := db.Where("trunk_id = ?", trunkID).First(&trunk).Error; err != nil {
		return nil, err
	}
	return &trunk, nil
}
