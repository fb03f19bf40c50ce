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

package types

import (
	"encoding/json"
	"fmt"
	"time"

	"go.mau.fi/libsignal/ecc"
)

// KeyPair is an asymmetric Curve25519 key pair. Key material is never logged
// by this library.
type KeyPair struct {
	Public  []byte
	Private []byte
}

// Zero overwrites the private key material. The pair must not be used
// afterwards.
func (kp *KeyPair) Zero() {
	for i := range kp.Private {
		kp.Private[i] = 0
	}
}

// ECPair converts the key pair into the representation the primitive
// library works with.
func (kp *KeyPair) ECPair() (*ecc.ECKeyPair, error) {
	if len(kp.Public) != 32 || len(kp.Private) != 32 {
		return nil, fmt.Errorf("invalid key pair: public %d bytes, private %d bytes", len(kp.Public), len(kp.Private))
	}
	var pub, priv [32]byte
	copy(pub[:], kp.Public)
	copy(priv[:], kp.Private)
	return ecc.NewECKeyPair(ecc.NewDjbECPublicKey(pub), ecc.NewDjbECPrivateKey(priv)), nil
}

// NewKeyPairFromEC converts a primitive library key pair into a KeyPair.
func NewKeyPairFromEC(pair *ecc.ECKeyPair) KeyPair {
	pub := pair.PublicKey().PublicKey()
	priv := pair.PrivateKey().Serialize()
	return KeyPair{Public: pub[:], Private: priv[:]}
}

type serializableKeyPair struct {
	Public  []byte `json:"public"`
	Private []byte `json:"private"`
}

func (kp KeyPair) MarshalJSON() ([]byte, error) {
	return json.Marshal(serializableKeyPair{Public: kp.Public, Private: kp.Private})
}

func (kp *KeyPair) UnmarshalJSON(data []byte) error {
	var skp serializableKeyPair
	if err := json.Unmarshal(data, &skp); err != nil {
		return err
	}
	kp.Public = skp.Public
	kp.Private = skp.Private
	return nil
}

// SignedKeyPair is a pre-key signed by the identity key.
type SignedKeyPair struct {
	KeyPair
	KeyID     uint32     `json:"key_id"`
	Signature []byte     `json:"signature"`
	Timestamp *time.Time `json:"timestamp,omitempty"`
}

// SignalIdentity is the known identity public key of one remote device.
type SignalIdentity struct {
	Address JID
	Key     []byte
}
