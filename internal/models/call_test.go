package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func setupCallTestDB(t *testing.T) *gorm.DB {
	return setupTestDB(t, &Call{})
}

func TestCall_TableName(t *testing.T) {
	var call Call
	assert.Equal(t, "calls", call.TableName())
}

func TestCreateCall(t *testing.T) {
	db := setupCallTestDB(t)

	call, err := CreateCall(db, "call-1", "+441234567890", "+442071234567", "trunk-a")
	require.NoError(t, err)
	assert.Equal(t, CallStatusActive, call.Status)
	assert.False(t, call.StartedAt.IsZero())
	assert.Nil(t, call.EndedAt)

	// CallID is unique.
	_, err = CreateCall(db, "call-1", "+441234567890", "+442071234567", "trunk-a")
	require.Error(t, err)
}

func TestEndCall(t *testing.T) {
	db := setupCallTestDB(t)

	_, err := CreateCall(db, "call-1", "+441234567890", "+442071234567", "")
	require.NoError(t, err)

	err = EndCall(db, "call-1", "hangup")
	require.NoError(t, err)

	var ended Call
	require.NoError(t, db.Where("call_id = ?", "call-1").First(&ended).Error)
	assert.Equal(t, CallStatusEnded, ended.Status)
	assert.NotNil(t, ended.EndedAt)
	assert.Equal(t, "hangup", ended.EndReason)
}

func TestEndCall_FirstEndWins(t *testing.T) {
	db := setupCallTestDB(t)

	_, err := CreateCall(db, "call-1", "+441234567890", "+442071234567", "")
	require.NoError(t, err)
	require.NoError(t, EndCall(db, "call-1", "transferred"))

	var first Call
	require.NoError(t, db.Where("call_id = ?", "call-1").First(&first).Error)

	// The session's own terminal path runs after a transfer has already
	// ended the record: timestamp and reason are both kept.
	require.NoError(t, EndCall(db, "call-1", "transport close"))

	var second Call
	require.NoError(t, db.Where("call_id = ?", "call-1").First(&second).Error)
	assert.Equal(t, "transferred", second.EndReason)
	require.NotNil(t, second.EndedAt)
	assert.True(t, second.EndedAt.Equal(*first.EndedAt))
}

func TestEndCall_NotFound(t *testing.T) {
	db := setupCallTestDB(t)

	err := EndCall(db, "missing", "hangup")
	require.Error(t, err)
}

func TestCreateBridgedCall(t *testing.T) {
	db := setupCallTestDB(t)

	parent, err := CreateCall(db, "call-1", "+441234567890", "+442071234567", "trunk-a")
	require.NoError(t, err)

	bridged, err := CreateBridgedCall(db, "call-1", "call-2", "+441234567890", "+447700900123", "trunk-a")
	require.NoError(t, err)
	require.NotNil(t, bridged.ParentCallID)
	assert.Equal(t, parent.ID, *bridged.ParentCallID)
	assert.Equal(t, CallStatusActive, bridged.Status)

	var updated Call
	require.NoError(t, db.Where("call_id = ?", "call-1").First(&updated).Error)
	assert.Equal(t, CallStatusBridged, updated.Status)
}

func TestCreateBridgedCall_MissingParent(t *testing.T) {
	db := setupCallTestDB(t)

	_, err := CreateBridgedCall(db, "missing", "call-2", "+441234567890", "+447700900123", "")
	require.Error(t, err)

	// Nothing was written.
	var count int64
	db.Model(&Call{}).Count(&count)
	assert.Equal(t, int64(0), count)
}
