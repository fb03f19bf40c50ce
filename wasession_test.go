package wasession_test

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"go.mau.fi/wasession"
	"go.mau.fi/wasession/store"
)

func newTestRepo(t *testing.T) *wasession.Repository {
	t.Helper()
	creds, err := wasession.GenerateCredentials()
	require.NoError(t, err)
	repo, err := wasession.NewRepository(store.NewMemoryStore(), creds, zerolog.Nop())
	require.NoError(t, err)
	return repo
}

// establishSession makes from able to encrypt to toAddr by processing a
// pre-key bundle published by to, the same way the pairing flow would.
func establishSession(t *testing.T, ctx context.Context, from, to *wasession.Repository, toAddr string) {
	t.Helper()
	preKeys, err := to.GenerateAndStorePreKeys(ctx, 1)
	require.NoError(t, err)
	require.Len(t, preKeys, 1)
	bundle, err := to.PreKeyBundle(0, preKeys[0])
	require.NoError(t, err)
	require.NoError(t, from.InjectSession(ctx, toAddr, bundle))
}
