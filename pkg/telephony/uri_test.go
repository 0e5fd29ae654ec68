package telephony

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReferURI(t *testing.T) {
	uri, err := ReferURI("+447700900123", "carrier.example.com")
	require.NoError(t, err)
	assert.Equal(t, "sip:+447700900123@carrier.example.com", uri)
}

func TestReferURI_DefaultHost(t *testing.T) {
	uri, err := ReferURI("+447700900123", "")
	require.NoError(t, err)
	assert.Contains(t, uri, "sip:+447700900123@")
}

func TestReferURI_Empty(t *testing.T) {
	_, err := ReferURI("  ", "carrier.example.com")
	require.Error(t, err)
}

func TestParseSIPUser(t *testing.T) {
	assert.Equal(t, "alice", ParseSIPUser("sip:alice@example.com"))
	assert.Equal(t, "+447700900123", ParseSIPUser("sip:+447700900123@carrier.example.com:5060"))
	// Plain numbers pass through untouched.
	assert.Equal(t, "+447700900123", ParseSIPUser("+447700900123"))
}
