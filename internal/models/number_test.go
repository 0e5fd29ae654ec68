package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func setupNumberTestDB(t *testing.T) *gorm.DB {
	db := setupTestDB(t, &PhoneNumber{}, &Trunk{})

	require.NoError(t, db.Create(&PhoneNumber{
		Number:   "+442071234567",
		OrgID:    "org-1",
		Outbound: true,
		TrunkID:  "trunk-a",
	}).Error)
	require.NoError(t, db.Create(&PhoneNumber{
		Number:   "+442071234568",
		OrgID:    "org-1",
		Outbound: false,
	}).Error)
	require.NoError(t, db.Create(&PhoneNumber{
		Number:   "+442071234569",
		OrgID:    "org-1",
		Outbound: true,
		TrunkID:  "trunk-b",
	}).Error)
	require.NoError(t, db.Create(&Trunk{
		TrunkID:  "trunk-a",
		OrgID:    "org-1",
		Name:     "Carrier A",
		CanRefer: true,
	}).Error)

	return db
}

func TestResolveCallerID_Owned(t *testing.T) {
	db := setupNumberTestDB(t)

	number, err := ResolveCallerID(db, "org-1", "+442071234567", "trunk-a")
	require.NoError(t, err)
	assert.Equal(t, "+442071234567", number.Number)
}

func TestResolveCallerID_NotOwned(t *testing.T) {
	db := setupNumberTestDB(t)

	_, err := ResolveCallerID(db, "org-2", "+442071234567", "")
	assert.ErrorIs(t, err, ErrNumberNotUsable)
}

func TestResolveCallerID_NotOutbound(t *testing.T) {
	db := setupNumberTestDB(t)

	_, err := ResolveCallerID(db, "org-1", "+442071234568", "")
	assert.ErrorIs(t, err, ErrNumberNotUsable)
}

func TestResolveCallerID_TrunkMismatch(t *testing.T) {
	db := setupNumberTestDB(t)

	_, err := ResolveCallerID(db, "org-1", "+442071234569", "trunk-a")
	assert.ErrorIs(t, err, ErrTrunkMismatch)
}

func TestResolveCallerID_NoTrunkOnCall(t *testing.T) {
	db := setupNumberTestDB(t)

	// A call with no trunk accepts any owned outbound number.
	number, err := ResolveCallerID(db, "org-1", "+442071234569", "")
	require.NoError(t, err)
	assert.Equal(t, "trunk-b", number.TrunkID)
}

func TestGetTrunk(t *testing.T) {
	db := setupNumberTestDB(t)

	trunk, err := GetTrunk(db, "trunk-a")
	require.NoError(t, err)
	assert.True(t, trunk.CanRefer)
	assert.Equal(t, "Carrier A", trunk.Name)

	_, err = GetTrunk(db, "missing")
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)
}
