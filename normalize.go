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

package wasession

import (
	"context"
	"fmt"

	"go.mau.fi/wasession/store"
	"go.mau.fi/wasession/types"
)

// normalizeJID collapses an anonymized (hidden-server) JID onto its
// canonical routable form using the identity-mapping table. The device part
// of the input is preserved on the result.
//
// Normalization never fails: if there is no mapping, or the lookup errors
// for any reason, the original JID is returned unchanged and the peer is
// keyed under its anonymized form. At worst that forks a duplicate session
// entry; a stale mapping table must never block messaging. A routable JID
// is returned as-is, which also makes normalization idempotent (canonical
// users are never re-mapped).
func (r *Repository) normalizeJID(ctx context.Context, jid types.JID) types.JID {
	if !jid.IsHidden() {
		return jid
	}
	mappings, err := r.Store.Get(ctx, store.KindLIDMapping, []string{jid.User})
	if err != nil {
		// Swallowed on purpose, but a real store failure is worth a log line.
		r.Log.Warn().Err(err).
			Str("address", jid.String()).
			Msg("Failed to look up identity mapping, using original address")
		return jid
	}
	rawTarget, ok := mappings[jid.User]
	if !ok || len(rawTarget) == 0 {
		return jid
	}
	target, err := types.ParseJID(string(rawTarget))
	if err != nil || target.IsHidden() {
		r.Log.Warn().
			Str("address", jid.String()).
			Str("mapping_target", string(rawTarget)).
			Msg("Ignoring unusable identity mapping entry")
		return jid
	}
	return target.WithDevice(jid.Device)
}

// StoreLIDMapping records that the given anonymized user resolves to the
// given canonical JID. The mapping is keyed by the bare user, so it covers
// all devices of the peer.
//
// Mappings are one hop only: the source must be a hidden user and the
// target must not be, so the table can never contain a cycle or map an id
// to itself.
func (r *Repository) StoreLIDMapping(ctx context.Context, hidden, target types.JID) error {
	if !hidden.IsHidden() || hidden.IsEmpty() {
		return fmt.Errorf("%w: source %q is not an anonymized user", ErrInvalidMapping, hidden)
	} else if target.IsHidden() || target.IsEmpty() {
		return fmt.Errorf("%w: target %q is not a canonical user", ErrInvalidMapping, target)
	}
	return r.Store.Put(ctx, store.Patch{
		store.KindLIDMapping: {
			hidden.User: []byte(target.ToNonDevice().String()),
		},
	})
}

// DeleteLIDMapping removes the identity mapping for the given anonymized
// user. Future lookups treat the user as its own canonical key.
func (r *Repository) DeleteLIDMapping(ctx context.Context, hidden types.JID) error {
	return r.Store.Put(ctx, store.Patch{
		store.KindLIDMapping: {
			hidden.User: nil,
		},
	})
}
