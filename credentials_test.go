package wasession_test

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.mau.fi/wasession"
	"go.mau.fi/wasession/store"
)

func TestGenerateCredentials(t *testing.T) {
	creds, err := wasession.GenerateCredentials()
	require.NoError(t, err)
	assert.Len(t, creds.IdentityKey.Public, 32)
	assert.Len(t, creds.IdentityKey.Private, 32)
	assert.Len(t, creds.SignedPreKey.Public, 32)
	assert.Len(t, creds.SignedPreKey.Private, 32)
	assert.Len(t, creds.SignedPreKey.Signature, 64)
	assert.EqualValues(t, 1, creds.SignedPreKey.KeyID)
	assert.NotZero(t, creds.RegistrationID)
	assert.EqualValues(t, 1, creds.NextPreKeyID)
	assert.EqualValues(t, 1, creds.FirstUnuploadedPreKeyID)
	assert.False(t, creds.Registered)
	assert.Nil(t, creds.Me)

	other, err := wasession.GenerateCredentials()
	require.NoError(t, err)
	assert.NotEqual(t, creds.IdentityKey.Private, other.IdentityKey.Private)
}

func TestCredentials_JSONRoundTrip(t *testing.T) {
	creds, err := wasession.GenerateCredentials()
	require.NoError(t, err)

	data, err := json.Marshal(creds)
	require.NoError(t, err)
	var restored wasession.Credentials
	require.NoError(t, json.Unmarshal(data, &restored))
	assert.Equal(t, creds.IdentityKey, restored.IdentityKey)
	assert.Equal(t, creds.SignedPreKey.KeyPair, restored.SignedPreKey.KeyPair)
	assert.Equal(t, creds.SignedPreKey.Signature, restored.SignedPreKey.Signature)
	assert.Equal(t, creds.RegistrationID, restored.RegistrationID)

	// Restored credentials must still be able to mint working bundles.
	repo, err := wasession.NewRepository(store.NewMemoryStore(), &restored, zerolog.Nop())
	require.NoError(t, err)
	ctx := context.Background()
	preKeys, err := repo.GenerateAndStorePreKeys(ctx, 1)
	require.NoError(t, err)
	_, err = repo.PreKeyBundle(0, preKeys[0])
	require.NoError(t, err)
}

func TestNewRepository_ValidatesCredentials(t *testing.T) {
	creds, err := wasession.GenerateCredentials()
	require.NoError(t, err)
	creds.IdentityKey.Private = creds.IdentityKey.Private[:16]
	_, err = wasession.NewRepository(store.NewMemoryStore(), creds, zerolog.Nop())
	require.Error(t, err)

	creds, err = wasession.GenerateCredentials()
	require.NoError(t, err)
	creds.SignedPreKey.Signature = creds.SignedPreKey.Signature[:10]
	_, err = wasession.NewRepository(store.NewMemoryStore(), creds, zerolog.Nop())
	require.Error(t, err)
}

func TestGenerateAndStorePreKeys_AdvancesCounter(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)

	first, err := repo.GenerateAndStorePreKeys(ctx, 5)
	require.NoError(t, err)
	require.Len(t, first, 5)
	assert.EqualValues(t, 6, repo.Creds.NextPreKeyID)

	second, err := repo.GenerateAndStorePreKeys(ctx, 3)
	require.NoError(t, err)
	require.Len(t, second, 3)
	assert.EqualValues(t, 9, repo.Creds.NextPreKeyID)

	seen := make(map[uint32]bool)
	for _, pk := range append(first, second...) {
		id := pk.ID().Value
		assert.False(t, seen[id], "pre-key ID %d issued twice", id)
		seen[id] = true
	}
}

func TestGenerateAndStorePreKeys_InvalidCount(t *testing.T) {
	repo := newTestRepo(t)
	_, err := repo.GenerateAndStorePreKeys(context.Background(), 0)
	require.Error(t, err)
	_, err = repo.GenerateAndStorePreKeys(context.Background(), -3)
	require.Error(t, err)
}
