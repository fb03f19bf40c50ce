// wasession - a session and identity layer for WhatsApp-style end-to-end encryption.
// Copyright (C) 2025 Tulir Asokan
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

// Package types contains the basic data types used by the wasession library.
package types

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"go.mau.fi/libsignal/protocol"
)

// Known JID servers.
const (
	// DefaultUserServer is the server for routable phone-number users.
	DefaultUserServer = "s.whatsapp.net"
	// HiddenUserServer is the server for anonymized (LID) users.
	HiddenUserServer = "lid"
	// GroupServer is the server for group chats.
	GroupServer = "g.us"
)

// ErrMalformedJID is returned by ParseJID if the address string can't be
// decoded into a user and device.
var ErrMalformedJID = errors.New("malformed address")

// JID represents one device of one conversational peer.
//
// Two JIDs are equal iff all fields match exactly, so the type can be used
// directly as a map key.
type JID struct {
	User   string
	Device uint16
	Server string
}

// NewJID creates a new routable JID with device 0.
func NewJID(user string) JID {
	return JID{User: user, Server: DefaultUserServer}
}

// NewHiddenJID creates a new anonymized (LID) JID with device 0.
func NewHiddenJID(user string) JID {
	return JID{User: user, Server: HiddenUserServer}
}

// ParseJID parses a JID out of the given string. The device part is optional
// and defaults to 0, the server part defaults to the routable user server.
//
//	alice@s.whatsapp.net   -> JID{User: "alice", Server: DefaultUserServer}
//	alice:3@s.whatsapp.net -> JID{User: "alice", Device: 3, Server: DefaultUserServer}
//	12345:2@lid            -> JID{User: "12345", Device: 2, Server: HiddenUserServer}
func ParseJID(raw string) (JID, error) {
	var jid JID
	userPart := raw
	if idx := strings.IndexByte(raw, '@'); idx >= 0 {
		userPart = raw[:idx]
		jid.Server = raw[idx+1:]
	} else {
		jid.Server = DefaultUserServer
	}
	if idx := strings.IndexByte(userPart, ':'); idx >= 0 {
		device, err := strconv.ParseUint(userPart[idx+1:], 10, 16)
		if err != nil {
			return JID{}, fmt.Errorf("%w: invalid device part %q", ErrMalformedJID, userPart[idx+1:])
		}
		jid.Device = uint16(device)
		userPart = userPart[:idx]
	}
	if len(userPart) == 0 {
		return JID{}, fmt.Errorf("%w: empty user part", ErrMalformedJID)
	}
	jid.User = userPart
	return jid, nil
}

// String converts the JID back to its string representation.
func (jid JID) String() string {
	if jid.Device > 0 {
		return fmt.Sprintf("%s:%d@%s", jid.User, jid.Device, jid.Server)
	}
	return fmt.Sprintf("%s@%s", jid.User, jid.Server)
}

// IsEmpty returns true if the JID has no user part.
func (jid JID) IsEmpty() bool {
	return len(jid.User) == 0
}

// IsHidden returns true if the JID is in the anonymized addressing scheme.
func (jid JID) IsHidden() bool {
	return jid.Server == HiddenUserServer
}

// ToNonDevice returns a version of the JID with the device ID removed.
func (jid JID) ToNonDevice() JID {
	jid.Device = 0
	return jid
}

// WithDevice returns a version of the JID with the given device ID.
func (jid JID) WithDevice(device uint16) JID {
	jid.Device = device
	return jid
}

// SignalAddress returns the Signal protocol address for the user.
//
// Hidden users get an agent suffix in the address name so the same numeric
// user on the hidden and routable servers can never share a ratchet state
// slot in storage.
func (jid JID) SignalAddress() *protocol.SignalAddress {
	user := jid.User
	if jid.Server == HiddenUserServer {
		user += "_1"
	}
	return protocol.NewSignalAddress(user, uint32(jid.Device))
}
