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

// Package wasession implements the session and identity layer of a
// WhatsApp-style end-to-end encrypted messaging protocol.
//
// It sits between a long-lived credentials blob, a pluggable key-value
// store (see the store subpackage) and the Signal protocol primitives from
// go.mau.fi/libsignal, and exposes encrypt/decrypt operations for direct
// and group messages. It does not implement any transport: parsing the
// outer message envelope and delivering ciphertexts is the caller's job.
package wasession

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"go.mau.fi/libsignal/serialize"

	"go.mau.fi/wasession/store"
	"go.mau.fi/wasession/types"
)

// pbSerializer converts ratchet state and wire messages to and from their
// protobuf form. This is the only serialization boundary between the
// repository and the primitive library; the store below it only ever sees
// opaque bytes.
var pbSerializer = serialize.NewProtoBufSerializer()

// Repository provides one-to-one and group message encryption and
// decryption on top of a key-value store and device credentials.
//
// Every operation reloads ratchet state from the store and writes it back
// before returning, so a crash between operations always leaves consistent
// persisted state. The flip side is that operations on the same address
// advance shared ratchet state and must be serialized by the caller (or
// through the store's transaction capability); operations on distinct
// addresses are fully independent.
type Repository struct {
	Store store.Store
	Creds *Credentials
	Log   zerolog.Logger

	signal *signalStore
}

// NewRepository wraps a store and device credentials in a Repository.
// The credentials' key material is validated here, since the ciphers
// assume it converts cleanly once operations are running.
func NewRepository(container store.Store, creds *Credentials, log zerolog.Logger) (*Repository, error) {
	identityKeyPair, err := creds.identityKeyPair()
	if err != nil {
		return nil, err
	}
	if _, err = creds.signedPreKeyRecord(); err != nil {
		return nil, err
	}
	return &Repository{
		Store: container,
		Creds: creds,
		Log:   log,
		signal: &signalStore{
			store:           container,
			creds:           creds,
			log:             log.With().Str("component", "signal_store").Logger(),
			identityKeyPair: identityKeyPair,
		},
	}, nil
}

// resolveAddress parses an address string and collapses the anonymized
// addressing scheme onto the canonical storage identity.
func (r *Repository) resolveAddress(ctx context.Context, address string) (types.JID, error) {
	jid, err := types.ParseJID(address)
	if err != nil {
		return types.JID{}, err
	}
	return r.normalizeJID(ctx, jid), nil
}

// AddressToString returns the canonical textual form of a resolved address.
// Callers use it for logging and keying outside this repository; two
// addresses that share a session always produce the same string.
func (r *Repository) AddressToString(ctx context.Context, address string) (string, error) {
	jid, err := r.resolveAddress(ctx, address)
	if err != nil {
		return "", err
	}
	return jid.SignalAddress().String(), nil
}

// Identity returns the identity key recorded for the given address, or nil
// if no message exchange has recorded one yet. The key is in its serialized
// public form, suitable for fingerprint comparison by the layer above.
func (r *Repository) Identity(ctx context.Context, address string) (*types.SignalIdentity, error) {
	jid, err := r.resolveAddress(ctx, address)
	if err != nil {
		return nil, err
	}
	key, err := r.signal.getOne(ctx, store.KindIdentity, jid.SignalAddress().String())
	if err != nil {
		return nil, fmt.Errorf("failed to load identity of %s: %w", jid, err)
	} else if key == nil {
		return nil, nil
	}
	return &types.SignalIdentity{Address: jid, Key: key}, nil
}
