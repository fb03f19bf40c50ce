package types_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.mau.fi/wasession/types"
)

func TestParseJID(t *testing.T) {
	jid, err := types.ParseJID("alice@s.whatsapp.net")
	require.NoError(t, err)
	assert.Equal(t, types.JID{User: "alice", Server: types.DefaultUserServer}, jid)

	jid, err = types.ParseJID("alice:3@s.whatsapp.net")
	require.NoError(t, err)
	assert.Equal(t, types.JID{User: "alice", Device: 3, Server: types.DefaultUserServer}, jid)

	jid, err = types.ParseJID("12345:2@lid")
	require.NoError(t, err)
	assert.Equal(t, types.JID{User: "12345", Device: 2, Server: types.HiddenUserServer}, jid)
	assert.True(t, jid.IsHidden())

	// Missing server defaults to the routable user server.
	jid, err = types.ParseJID("bob")
	require.NoError(t, err)
	assert.Equal(t, types.JID{User: "bob", Server: types.DefaultUserServer}, jid)
}

func TestParseJID_Malformed(t *testing.T) {
	for _, raw := range []string{"@s.whatsapp.net", ":3@s.whatsapp.net", "", "alice:x@s.whatsapp.net", "alice:99999999@s.whatsapp.net"} {
		_, err := types.ParseJID(raw)
		assert.ErrorIs(t, err, types.ErrMalformedJID, "input %q", raw)
	}
}

func TestJID_StringRoundTrip(t *testing.T) {
	for _, raw := range []string{"alice@s.whatsapp.net", "alice:3@s.whatsapp.net", "12345:2@lid", "123456789@g.us"} {
		jid, err := types.ParseJID(raw)
		require.NoError(t, err)
		assert.Equal(t, raw, jid.String())
		reparsed, err := types.ParseJID(jid.String())
		require.NoError(t, err)
		assert.Equal(t, jid, reparsed)
	}
}

func TestJID_SignalAddress(t *testing.T) {
	pn := types.JID{User: "12345", Device: 2, Server: types.DefaultUserServer}
	hidden := types.JID{User: "12345", Device: 2, Server: types.HiddenUserServer}

	// Same numeric user on the two servers must never share a storage key.
	assert.NotEqual(t, pn.SignalAddress().String(), hidden.SignalAddress().String())

	// Repeated calls with equal inputs are byte-identical.
	assert.Equal(t, pn.SignalAddress().String(), pn.SignalAddress().String())

	// Distinct devices get distinct keys.
	assert.NotEqual(t, pn.SignalAddress().String(), pn.WithDevice(3).SignalAddress().String())

	assert.Equal(t, "12345", pn.SignalAddress().Name())
	assert.Equal(t, uint32(2), pn.SignalAddress().DeviceID())
}

func TestJID_DeviceHelpers(t *testing.T) {
	jid := types.JID{User: "alice", Device: 5, Server: types.DefaultUserServer}
	assert.Equal(t, uint16(0), jid.ToNonDevice().Device)
	assert.Equal(t, uint16(7), jid.WithDevice(7).Device)
	assert.False(t, jid.IsEmpty())
	assert.True(t, types.JID{}.IsEmpty())
}
