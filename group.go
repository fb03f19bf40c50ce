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

	"go.mau.fi/libsignal/groups"
	"go.mau.fi/libsignal/protocol"

	"go.mau.fi/wasession/store"
	"go.mau.fi/wasession/types"
)

// GroupEncryptedMessage is the result of encrypting one group message.
// The distribution payload must be delivered to all group members so their
// copy of the sender's group ratchet stays in sync.
type GroupEncryptedMessage struct {
	Ciphertext          []byte
	DistributionPayload []byte
}

// SenderKeyName returns the deterministic storage key for one member's
// group ratchet in one group. Equal inputs always produce byte-identical
// keys.
func SenderKeyName(groupID string, member types.JID) string {
	return senderKeyID(protocol.NewSenderKeyName(groupID, member.SignalAddress()))
}

// resolveSenderKeyName normalizes and resolves a member address into the
// primitive library's sender key name.
func (r *Repository) resolveSenderKeyName(ctx context.Context, groupID, memberAddress string) (*protocol.SenderKeyName, types.JID, error) {
	jid, err := r.resolveAddress(ctx, memberAddress)
	if err != nil {
		return nil, types.JID{}, err
	}
	return protocol.NewSenderKeyName(groupID, jid.SignalAddress()), jid, nil
}

// ProcessSenderKeyDistribution feeds a received distribution payload into
// the sender's group ratchet, creating the sender key record if it doesn't
// exist yet. Reprocessing the identical payload is harmless: the underlying
// primitive recognizes the chain state and won't regress it.
func (r *Repository) ProcessSenderKeyDistribution(ctx context.Context, groupID, senderAddress string, distributionPayload []byte) error {
	name, jid, err := r.resolveSenderKeyName(ctx, groupID, senderAddress)
	if err != nil {
		return err
	}
	skdm, err := protocol.NewSenderKeyDistributionMessageFromBytes(distributionPayload, pbSerializer.SenderKeyDistributionMessage)
	if err != nil {
		return fmt.Errorf("failed to parse sender key distribution message from %s: %w", jid, err)
	}
	builder := groups.NewGroupSessionBuilder(r.signal, pbSerializer)
	err = builder.Process(ctx, name, skdm)
	if err != nil {
		return fmt.Errorf("failed to process sender key distribution message from %s: %w", jid, err)
	}
	return nil
}

// EncryptGroupMessage encrypts a multicast message under our own group
// ratchet for the given group, creating the sender key record on first use.
// The returned distribution payload represents the current sender key state
// and must be broadcast so other members can call
// ProcessSenderKeyDistribution before decrypting.
func (r *Repository) EncryptGroupMessage(ctx context.Context, groupID, selfAddress string, plaintext []byte) (*GroupEncryptedMessage, error) {
	name, jid, err := r.resolveSenderKeyName(ctx, groupID, selfAddress)
	if err != nil {
		return nil, err
	}
	builder := groups.NewGroupSessionBuilder(r.signal, pbSerializer)
	skdm, err := builder.Create(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("failed to create sender key distribution message for %s in %s: %w", jid, groupID, err)
	}
	cipher := groups.NewGroupCipher(builder, name, r.signal)
	encrypted, err := cipher.Encrypt(ctx, plaintext)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt group message for %s: %w", groupID, err)
	}
	return &GroupEncryptedMessage{
		Ciphertext:          encrypted.SignedSerialize(),
		DistributionPayload: skdm.Serialize(),
	}, nil
}

// DecryptGroupMessage decrypts a multicast message using the sender's group
// ratchet. If no sender key record exists for the sender yet, it fails with
// ErrUnknownSender and the caller must deliver a distribution payload first.
func (r *Repository) DecryptGroupMessage(ctx context.Context, groupID, senderAddress string, ciphertext []byte) ([]byte, error) {
	name, jid, err := r.resolveSenderKeyName(ctx, groupID, senderAddress)
	if err != nil {
		return nil, err
	}
	keyID := senderKeyID(name)
	existing, err := r.Store.Get(ctx, store.KindSenderKey, []string{keyID})
	if err != nil {
		return nil, fmt.Errorf("failed to check for sender key %s: %w", keyID, err)
	}
	if _, ok := existing[keyID]; !ok {
		return nil, fmt.Errorf("%w (group %s, sender %s)", ErrUnknownSender, groupID, jid)
	}
	msg, err := protocol.NewSenderKeyMessageFromBytes(ciphertext, pbSerializer.SenderKeyMessage)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to parse sender key message: %w", ErrDecryptionFailure, err)
	}
	builder := groups.NewGroupSessionBuilder(r.signal, pbSerializer)
	cipher := groups.NewGroupCipher(builder, name, r.signal)
	plaintext, err := cipher.Decrypt(ctx, msg)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDecryptionFailure, err)
	}
	return plaintext, nil
}
