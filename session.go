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
	"go.mau.fi/libsignal/protocol"
	"go.mau.fi/libsignal/session"
)

// MessageType classifies a direct-message ciphertext.
type MessageType string

const (
	// MessageTypePreKey marks an initial message that carries the key
	// exchange material needed to establish the session.
	MessageTypePreKey MessageType = "pkmsg"
	// MessageTypeWhisper marks a steady-state double ratchet message.
	MessageTypeWhisper MessageType = "msg"
)

// EncryptedMessage is the result of encrypting one direct message.
type EncryptedMessage struct {
	Type       MessageType
	Ciphertext []byte
}

// EncryptMessage encrypts a direct message for the given address, advancing
// the ratchet. The updated session record is persisted before returning.
//
// The result is classified as a pre-key message while the session is still
// being established and as a whisper message once it's in steady state.
func (r *Repository) EncryptMessage(ctx context.Context, to string, plaintext []byte) (*EncryptedMessage, error) {
	jid, err := r.resolveAddress(ctx, to)
	if err != nil {
		return nil, err
	}
	address := jid.SignalAddress()
	builder := session.NewBuilderFromSignal(r.signal, address, pbSerializer)
	cipher := session.NewCipher(builder, address)
	ciphertext, err := cipher.Encrypt(ctx, plaintext)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt message for %s: %w", jid, err)
	}
	msgType := MessageTypeWhisper
	if ciphertext.Type() == protocol.PREKEY_TYPE {
		msgType = MessageTypePreKey
	}
	return &EncryptedMessage{
		Type:       msgType,
		Ciphertext: ciphertext.Serialize(),
	}, nil
}

// DecryptMessage decrypts a direct message from the given address,
// dispatching on the message type. On success the advanced session record
// is persisted; on failure the stored session is left untouched, so the
// caller may safely retry after fixing the cause (e.g. a session resync).
func (r *Repository) DecryptMessage(ctx context.Context, from string, msgType MessageType, ciphertext []byte) ([]byte, error) {
	jid, err := r.resolveAddress(ctx, from)
	if err != nil {
		return nil, err
	}
	address := jid.SignalAddress()
	builder := session.NewBuilderFromSignal(r.signal, address, pbSerializer)
	cipher := session.NewCipher(builder, address)
	switch msgType {
	case MessageTypePreKey:
		preKeyMsg, err := protocol.NewPreKeySignalMessageFromBytes(ciphertext, pbSerializer.PreKeySignalMessage, pbSerializer.SignalMessage)
		if err != nil {
			return nil, fmt.Errorf("%w: failed to parse pre-key message: %w", ErrDecryptionFailure, err)
		}
		plaintext, _, err := cipher.DecryptMessageReturnKey(ctx, preKeyMsg)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrDecryptionFailure, err)
		}
		return plaintext, nil
	case MessageTypeWhisper:
		msg, err := protocol.NewSignalMessageFromBytes(ciphertext, pbSerializer.SignalMessage)
		if err != nil {
			return nil, fmt.Errorf("%w: failed to parse message: %w", ErrDecryptionFailure, err)
		}
		plaintext, err := cipher.Decrypt(ctx, msg)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrDecryptionFailure, err)
		}
		return plaintext, nil
	default:
		return nil, fmt.Errorf("unsupported message type %q", msgType)
	}
}

// InjectSession proactively establishes an outgoing session from an
// out-of-band pre-key bundle, overwriting any existing session record for
// the resolved address. The first message encrypted afterwards will be a
// pre-key message.
func (r *Repository) InjectSession(ctx context.Context, to string, bundle *prekey.Bundle) error {
	jid, err := r.resolveAddress(ctx, to)
	if err != nil {
		return err
	}
	address := jid.SignalAddress()
	builder := session.NewBuilderFromSignal(r.signal, address, pbSerializer)
	err = builder.ProcessBundle(ctx, bundle)
	if err != nil {
		return fmt.Errorf("failed to process pre-key bundle for %s: %w", jid, err)
	}
	return nil
}
