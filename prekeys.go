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

	"go.mau.fi/libsignal/keys/prekey"
	"go.mau.fi/libsignal/state/record"
	"go.mau.fi/libsignal/util/keyhelper"

	"go.mau.fi/wasession/store"
)

// GenerateAndStorePreKeys generates count fresh one-time pre-keys starting
// at the credentials' next pre-key ID, persists them, and advances the
// counter. The returned records are what the registration flow uploads to
// the key server; IDs are never reissued.
func (r *Repository) GenerateAndStorePreKeys(ctx context.Context, count int) ([]*record.PreKey, error) {
	if count <= 0 {
		return nil, fmt.Errorf("invalid pre-key count %d", count)
	}
	preKeys, err := keyhelper.GeneratePreKeys(int(r.Creds.NextPreKeyID), count, pbSerializer.PreKeyRecord)
	if err != nil {
		return nil, fmt.Errorf("failed to generate pre-keys: %w", err)
	}
	records := make(map[string][]byte, len(preKeys))
	for _, pk := range preKeys {
		records[preKeyID(pk.ID().Value)] = pk.Serialize()
	}
	err = r.Store.Put(ctx, store.Patch{store.KindPreKey: records})
	if err != nil {
		return nil, fmt.Errorf("failed to store pre-keys: %w", err)
	}
	r.Creds.NextPreKeyID += uint32(len(preKeys))
	r.Log.Debug().
		Int("count", len(preKeys)).
		Uint32("next_pre_key_id", r.Creds.NextPreKeyID).
		Msg("Generated and stored pre-keys")
	return preKeys, nil
}

// PreKeyBundle assembles the public pre-key bundle another party needs to
// establish a session with this device through InjectSession. The one-time
// pre-key should come from GenerateAndStorePreKeys (each one is consumed by
// a single peer).
func (r *Repository) PreKeyBundle(deviceID uint32, preKey *record.PreKey) (*prekey.Bundle, error) {
	identityKey, err := r.Creds.identityPublicKey()
	if err != nil {
		return nil, err
	}
	signedPreKey, err := r.Creds.signedPreKeyRecord()
	if err != nil {
		return nil, err
	}
	return prekey.NewBundle(
		r.Creds.RegistrationID,
		deviceID,
		preKey.ID(),
		signedPreKey.ID(),
		preKey.KeyPair().PublicKey(),
		signedPreKey.KeyPair().PublicKey(),
		signedPreKey.Signature(),
		identityKey,
	), nil
}
