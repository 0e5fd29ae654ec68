package models

import (
	"fmt"
	"time"

	"gorm.io/gorm"
)

// CallStatus is the lifecycle state of a call leg.
type CallStatus string

const (
	CallStatusActive  CallStatus = "active"  // live session
	CallStatusBridged CallStatus = "bridged" // replaced by a transferred leg
	CallStatusEnded   CallStatus = "ended"
)

// Call is one telephony leg. A bridged/transferred leg links back to the
// call it replaced through ParentCallID.
type Call struct {
	ID        uint       `json:"id" gorm:"primaryKey"`
	CreatedAt time.Time  `json:"createdAt" gorm:"autoCreateTime"`
	UpdatedAt time.Time  `json:"updatedAt" gorm:"autoUpdateTime"`
	DeletedAt *time.Time `json:"-" gorm:"index"`

	CallID       string     `json:"callId" gorm:"size:128;uniqueIndex;not null"`
	CallerNumber string     `json:"callerNumber" gorm:"size:64;index"`
	CalledNumber string     `json:"calledNumber" gorm:"size:64;index"`
	TrunkID      string     `json:"trunkId,omitempty" gorm:"size:128;index"`
	Status       CallStatus `json:"status" gorm:"size:20;index"`

	ParentCallID *uint `json:"parentCallId,omitempty" gorm:"index"`

	StartedAt time.Time  `json:"startedAt"`
	EndedAt   *time.Time `json:"endedAt,omitempty"`
	EndReason string     `json:"endReason,omitempty" gorm:"size:200"`
}

func (Call) TableName() string {
	return "calls"
}

// CreateCall records a new live leg.
func CreateCall(db *gorm.DB, callID, caller, called, trunkID string) (*Call, error) {
	call := &Call{
		CallID:       callID,
		CallerNumber: caller,
		CalledNumber: called,
		TrunkID:      trunkID,
		Status:       CallStatusActive,
		StartedAt:    time.Now(),
	}
	if err := db.Create(call).Error; err != nil {
		return nil, fmt.Errorf("create call %s: %w", callID, err)
	}
	return call, nil
}

// EndCall marks a call ended. The first recorded end wins: a call already
// ended keeps its timestamp and reason, so a transfer outcome is not
// overwritten by the session's own terminal path.
func EndCall(db *gorm.DB, callID, reason string) error {
	var call Call
	if err := db.Where("call_id = ?", callID).First(&call).Error; err != nil {
		return fmt.Errorf("end call %s: %w", callID, err)
	}
	updates := map[string]any{}
	if call.EndReason == "" {
		updates["end_reason"] = reason
	}
	if call.EndedAt == nil {
		now := time.Now()
		updates["ended_at"] = &now
		if call.Status == CallStatusActive {
			updates["status"] = CallStatusEnded
		}
	}
	if len(updates) == 0 {
		return nil
	}
	return db.Model(&call).Updates(updates).Error
}

// CreateBridgedCall records the leg that replaces an original call after a
// transfer, linked through ParentCallID, and marks the original bridged.
func CreateBridgedCall(db *gorm.DB, parentCallID, newCallID, caller, called, trunkID string) (*Call, error) {
	var parent Call
	if err := db.Where("call_id = ?", parentCallID).First(&parent).Error; err != nil {
		return nil, fmt.Errorf("bridged call parent %s: %w", parentCallID, err)
	}
	bridged := &Call{
		CallID:       newCallID,
		CallerNumber: caller,
		CalledNumber: called,
		TrunkID:      trunkID,
		Status:       CallStatusActive,
		ParentCallID: &parent.ID,
		StartedAt:    time.Now(),
	}
	err := db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(bridged).Error; err != nil {
			return err
		}
		return tx.Model(&parent).Update("status", CallStatusBridged).Error
	})
	if err != nil {
		return nil, fmt.Errorf("create bridged call %s: %w", newCallID, err)
	}
	return bridged, nil
}
