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
	"errors"
	"fmt"
	"strconv"

	"github.com/rs/zerolog"
	groupRecord "go.mau.fi/libsignal/groups/state/record"
	"go.mau.fi/libsignal/keys/identity"
	"go.mau.fi/libsignal/protocol"
	"go.mau.fi/libsignal/state/record"
	signalstore "go.mau.fi/libsignal/state/store"

	"go.mau.fi/wasession/store"
)

// signalStore adapts the key-value store and device credentials to the
// store interfaces the primitive library's ciphers operate on. Records
// cross this boundary as opaque serialized bytes; the store itself never
// sees live ratchet state.
type signalStore struct {
	store store.Store
	creds *Credentials
	log   zerolog.Logger

	// Converted once at construction: the identity getters below have no
	// error return, so the credentials must be validated up front.
	identityKeyPair *identity.KeyPair
}

var _ signalstore.SignalProtocol = (*signalStore)(nil)

func (s *signalStore) getOne(ctx context.Context, kind store.Kind, id string) ([]byte, error) {
	records, err := s.store.Get(ctx, kind, []string{id})
	if err != nil {
		return nil, err
	}
	return records[id], nil
}

func (s *signalStore) putOne(ctx context.Context, kind store.Kind, id string, value []byte) error {
	return s.store.Put(ctx, store.Patch{kind: {id: value}})
}

// Identity key store

func (s *signalStore) GetIdentityKeyPair() *identity.KeyPair {
	return s.identityKeyPair
}

func (s *signalStore) GetLocalRegistrationID() uint32 {
	return s.creds.RegistrationID
}

func (s *signalStore) SaveIdentity(ctx context.Context, address *protocol.SignalAddress, identityKey *identity.Key) error {
	return s.putOne(ctx, store.KindIdentity, address.String(), identityKey.Serialize())
}

func (s *signalStore) IsTrustedIdentity(ctx context.Context, address *protocol.SignalAddress, identityKey *identity.Key) (bool, error) {
	// Trust-on-first-use. Verifying identity keys against an out-of-band
	// fingerprint is the responsibility of the layer above, not this one.
	return true, nil
}

// Session store

func (s *signalStore) LoadSession(ctx context.Context, address *protocol.SignalAddress) (*record.Session, error) {
	raw, err := s.getOne(ctx, store.KindSession, address.String())
	if err != nil {
		return nil, fmt.Errorf("failed to load session for %s: %w", address.String(), err)
	} else if raw == nil {
		return record.NewSession(pbSerializer.Session, pbSerializer.State), nil
	}
	session, err := record.NewSessionFromBytes(raw, pbSerializer.Session, pbSerializer.State)
	if err != nil {
		return nil, fmt.Errorf("failed to deserialize session for %s: %w", address.String(), err)
	}
	return session, nil
}

func (s *signalStore) StoreSession(ctx context.Context, address *protocol.SignalAddress, session *record.Session) error {
	return s.putOne(ctx, store.KindSession, address.String(), session.Serialize())
}

func (s *signalStore) ContainsSession(ctx context.Context, address *protocol.SignalAddress) (bool, error) {
	raw, err := s.getOne(ctx, store.KindSession, address.String())
	return raw != nil, err
}

func (s *signalStore) DeleteSession(ctx context.Context, address *protocol.SignalAddress) error {
	return s.putOne(ctx, store.KindSession, address.String(), nil)
}

func (s *signalStore) DeleteAllSessions(ctx context.Context) error {
	// The store contract has no per-kind scan; wiping sessions is only
	// possible through store-level clearing (e.g. logout).
	return errors.New("deleting all sessions is not supported")
}

func (s *signalStore) GetSubDeviceSessions(ctx context.Context, name string) ([]uint32, error) {
	// Not used by the ciphers; device lists come from the directory layer.
	return nil, nil
}

// Pre-key store

func preKeyID(id uint32) string {
	return strconv.FormatUint(uint64(id), 10)
}

func (s *signalStore) LoadPreKey(ctx context.Context, id uint32) (*record.PreKey, error) {
	raw, err := s.getOne(ctx, store.KindPreKey, preKeyID(id))
	if err != nil {
		return nil, fmt.Errorf("failed to load pre-key %d: %w", id, err)
	} else if raw == nil {
		return nil, nil
	}
	preKey, err := record.NewPreKeyFromBytes(raw, pbSerializer.PreKeyRecord)
	if err != nil {
		return nil, fmt.Errorf("failed to deserialize pre-key %d: %w", id, err)
	}
	return preKey, nil
}

func (s *signalStore) StorePreKey(ctx context.Context, id uint32, preKey *record.PreKey) error {
	return s.putOne(ctx, store.KindPreKey, preKeyID(id), preKey.Serialize())
}

func (s *signalStore) ContainsPreKey(ctx context.Context, id uint32) (bool, error) {
	raw, err := s.getOne(ctx, store.KindPreKey, preKeyID(id))
	return raw != nil, err
}

func (s *signalStore) RemovePreKey(ctx context.Context, id uint32) error {
	s.log.Debug().Uint32("pre_key_id", id).Msg("Removing used pre-key")
	return s.putOne(ctx, store.KindPreKey, preKeyID(id), nil)
}

// Signed pre-key store. The active signed pre-key lives in the credentials
// blob; rotated ones are kept in the key-value store.

func (s *signalStore) LoadSignedPreKey(ctx context.Context, id uint32) (*record.SignedPreKey, error) {
	if s.creds.SignedPreKey.KeyID == id {
		return s.creds.signedPreKeyRecord()
	}
	raw, err := s.getOne(ctx, store.KindSignedPreKey, preKeyID(id))
	if err != nil {
		return nil, fmt.Errorf("failed to load signed pre-key %d: %w", id, err)
	} else if raw == nil {
		return nil, nil
	}
	signedPreKey, err := record.NewSignedPreKeyFromBytes(raw, pbSerializer.SignedPreKeyRecord)
	if err != nil {
		return nil, fmt.Errorf("failed to deserialize signed pre-key %d: %w", id, err)
	}
	return signedPreKey, nil
}

func (s *signalStore) LoadSignedPreKeys(ctx context.Context) ([]*record.SignedPreKey, error) {
	active, err := s.creds.signedPreKeyRecord()
	if err != nil {
		return nil, err
	}
	return []*record.SignedPreKey{active}, nil
}

func (s *signalStore) StoreSignedPreKey(ctx context.Context, id uint32, signedPreKey *record.SignedPreKey) error {
	return s.putOne(ctx, store.KindSignedPreKey, preKeyID(id), signedPreKey.Serialize())
}

func (s *signalStore) ContainsSignedPreKey(ctx context.Context, id uint32) (bool, error) {
	if s.creds.SignedPreKey.KeyID == id {
		return true, nil
	}
	raw, err := s.getOne(ctx, store.KindSignedPreKey, preKeyID(id))
	return raw != nil, err
}

func (s *signalStore) RemoveSignedPreKey(ctx context.Context, id uint32) error {
	return s.putOne(ctx, store.KindSignedPreKey, preKeyID(id), nil)
}

// Sender key store

// senderKeyID composes the deterministic storage key for one sender's group
// ratchet. Equal inputs always produce byte-identical keys.
func senderKeyID(name *protocol.SenderKeyName) string {
	sender := name.Sender()
	return fmt.Sprintf("%s::%s::%d", name.GroupID(), sender.Name(), sender.DeviceID())
}

func (s *signalStore) LoadSenderKey(ctx context.Context, name *protocol.SenderKeyName) (*groupRecord.SenderKey, error) {
	raw, err := s.getOne(ctx, store.KindSenderKey, senderKeyID(name))
	if err != nil {
		return nil, fmt.Errorf("failed to load sender key %s: %w", senderKeyID(name), err)
	} else if raw == nil {
		// The group session builder expects an empty record it can fill in,
		// not a nil.
		return groupRecord.NewSenderKey(pbSerializer.SenderKeyRecord, pbSerializer.SenderKeyState), nil
	}
	senderKey, err := groupRecord.NewSenderKeyFromBytes(raw, pbSerializer.SenderKeyRecord, pbSerializer.SenderKeyState)
	if err != nil {
		return nil, fmt.Errorf("failed to deserialize sender key %s: %w", senderKeyID(name), err)
	}
	return senderKey, nil
}

func (s *signalStore) StoreSenderKey(ctx context.Context, name *protocol.SenderKeyName, senderKey *groupRecord.SenderKey) error {
	return s.putOne(ctx, store.KindSenderKey, senderKeyID(name), senderKey.Serialize())
}
