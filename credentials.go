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
	"fmt"
	"time"

	"go.mau.fi/libsignal/keys/identity"
	"go.mau.fi/libsignal/state/record"
	"go.mau.fi/libsignal/util/keyhelper"

	"go.mau.fi/wasession/types"
)

// Credentials is the long-lived identity of the local device. It is owned
// by the authentication subsystem and treated as read-mostly input here:
// the repository only advances the pre-key counters.
//
// The struct marshals to JSON with base64 key material, so the owner can
// persist it however it likes.
type Credentials struct {
	IdentityKey    types.KeyPair       `json:"identity_key"`
	SignedPreKey   types.SignedKeyPair `json:"signed_pre_key"`
	RegistrationID uint32              `json:"registration_id"`

	// Pre-key bookkeeping.
	NextPreKeyID            uint32 `json:"next_pre_key_id"`
	FirstUnuploadedPreKeyID uint32 `json:"first_unuploaded_pre_key_id"`

	// Pairing state, filled in by the registration flow.
	Me         *types.JID `json:"me,omitempty"`
	Registered bool       `json:"registered"`
}

// GenerateCredentials creates a fresh device identity: a new identity key
// pair, a signed pre-key with ID 1 and a random registration ID.
func GenerateCredentials() (*Credentials, error) {
	identityKeyPair, err := keyhelper.GenerateIdentityKeyPair()
	if err != nil {
		return nil, fmt.Errorf("failed to generate identity key pair: %w", err)
	}
	signedPreKey, err := keyhelper.GenerateSignedPreKey(identityKeyPair, 1, pbSerializer.SignedPreKeyRecord)
	if err != nil {
		return nil, fmt.Errorf("failed to generate signed pre-key: %w", err)
	}
	pubKey := identityKeyPair.PublicKey().PublicKey().PublicKey()
	privKey := identityKeyPair.PrivateKey().Serialize()
	signature := signedPreKey.Signature()
	now := time.Now().UTC()
	return &Credentials{
		IdentityKey: types.KeyPair{
			Public:  pubKey[:],
			Private: privKey[:],
		},
		SignedPreKey: types.SignedKeyPair{
			KeyPair:   types.NewKeyPairFromEC(signedPreKey.KeyPair()),
			KeyID:     signedPreKey.ID(),
			Signature: signature[:],
			Timestamp: &now,
		},
		RegistrationID:          keyhelper.GenerateRegistrationID(),
		NextPreKeyID:            1,
		FirstUnuploadedPreKeyID: 1,
	}, nil
}

// identityKeyPair converts the stored identity key into the primitive
// library's representation.
func (c *Credentials) identityKeyPair() (*identity.KeyPair, error) {
	pair, err := c.IdentityKey.ECPair()
	if err != nil {
		return nil, fmt.Errorf("invalid identity key: %w", err)
	}
	return identity.NewKeyPair(identity.NewKey(pair.PublicKey()), pair.PrivateKey()), nil
}

// signedPreKeyRecord converts the stored signed pre-key into the primitive
// library's record form.
func (c *Credentials) signedPreKeyRecord() (*record.SignedPreKey, error) {
	pair, err := c.SignedPreKey.ECPair()
	if err != nil {
		return nil, fmt.Errorf("invalid signed pre-key: %w", err)
	}
	if len(c.SignedPreKey.Signature) != 64 {
		return nil, fmt.Errorf("invalid signed pre-key signature length %d", len(c.SignedPreKey.Signature))
	}
	var sig [64]byte
	copy(sig[:], c.SignedPreKey.Signature)
	var timestamp int64
	if c.SignedPreKey.Timestamp != nil {
		timestamp = c.SignedPreKey.Timestamp.UnixMilli()
	}
	return record.NewSignedPreKey(c.SignedPreKey.KeyID, timestamp, pair, sig, pbSerializer.SignedPreKeyRecord), nil
}

// identityPublicKey returns the public half of the identity key in the
// primitive library's representation.
func (c *Credentials) identityPublicKey() (*identity.Key, error) {
	keyPair, err := c.identityKeyPair()
	if err != nil {
		return nil, err
	}
	return keyPair.PublicKey(), nil
}
