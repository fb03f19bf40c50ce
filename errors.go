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
	"errors"
)

var (
	// ErrDecryptionFailure is returned when a ciphertext fails to
	// authenticate, is a replay outside the accepted window, or requires a
	// session that doesn't exist. The primitive library's error is attached
	// to the chain. The stored session is left untouched on failure.
	ErrDecryptionFailure = errors.New("failed to decrypt message")
	// ErrUnknownSender is returned by DecryptGroupMessage when no sender key
	// record exists for the sender. The caller should request or await a
	// distribution payload and retry.
	ErrUnknownSender = errors.New("no sender key found for sender")
	// ErrInvalidMapping is returned when storing an identity mapping that
	// would violate the one-hop invariant (self-maps or hidden targets).
	ErrInvalidMapping = errors.New("invalid identity mapping")
)
