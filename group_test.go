package wasession_test

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.mau.fi/wasession"
	"go.mau.fi/wasession/types"
)

func testGroupID() string {
	return uuid.NewString() + "@g.us"
}

func TestGroup_RoundTrip(t *testing.T) {
	ctx := context.Background()
	alice := newTestRepo(t)
	bob := newTestRepo(t)
	groupID := testGroupID()

	encrypted, err := alice.EncryptGroupMessage(ctx, groupID, aliceAddr, []byte("hello group"))
	require.NoError(t, err)
	require.NotEmpty(t, encrypted.Ciphertext)
	require.NotEmpty(t, encrypted.DistributionPayload)

	require.NoError(t, bob.ProcessSenderKeyDistribution(ctx, groupID, aliceAddr, encrypted.DistributionPayload))
	plaintext, err := bob.DecryptGroupMessage(ctx, groupID, aliceAddr, encrypted.Ciphertext)
	require.NoError(t, err)
	assert.Equal(t, []byte("hello group"), plaintext)

	// Follow-up messages don't need a new distribution payload.
	second, err := alice.EncryptGroupMessage(ctx, groupID, aliceAddr, []byte("again"))
	require.NoError(t, err)
	assert.NotEqual(t, encrypted.Ciphertext, second.Ciphertext)
	plaintext, err = bob.DecryptGroupMessage(ctx, groupID, aliceAddr, second.Ciphertext)
	require.NoError(t, err)
	assert.Equal(t, []byte("again"), plaintext)
}

func TestGroup_UnknownSender(t *testing.T) {
	ctx := context.Background()
	alice := newTestRepo(t)
	bob := newTestRepo(t)
	groupID := testGroupID()

	encrypted, err := alice.EncryptGroupMessage(ctx, groupID, aliceAddr, []byte("early"))
	require.NoError(t, err)

	_, err = bob.DecryptGroupMessage(ctx, groupID, aliceAddr, encrypted.Ciphertext)
	require.ErrorIs(t, err, wasession.ErrUnknownSender)

	// After the distribution payload arrives, the same ciphertext decrypts.
	require.NoError(t, bob.ProcessSenderKeyDistribution(ctx, groupID, aliceAddr, encrypted.DistributionPayload))
	plaintext, err := bob.DecryptGroupMessage(ctx, groupID, aliceAddr, encrypted.Ciphertext)
	require.NoError(t, err)
	assert.Equal(t, []byte("early"), plaintext)
}

func TestGroup_ReprocessDistributionIdempotent(t *testing.T) {
	ctx := context.Background()
	alice := newTestRepo(t)
	bob := newTestRepo(t)
	groupID := testGroupID()

	first, err := alice.EncryptGroupMessage(ctx, groupID, aliceAddr, []byte("one"))
	require.NoError(t, err)
	require.NoError(t, bob.ProcessSenderKeyDistribution(ctx, groupID, aliceAddr, first.DistributionPayload))
	_, err = bob.DecryptGroupMessage(ctx, groupID, aliceAddr, first.Ciphertext)
	require.NoError(t, err)

	// The identical payload arrives again (retries happen); the ratchet
	// must not regress.
	require.NoError(t, bob.ProcessSenderKeyDistribution(ctx, groupID, aliceAddr, first.DistributionPayload))

	second, err := alice.EncryptGroupMessage(ctx, groupID, aliceAddr, []byte("two"))
	require.NoError(t, err)
	plaintext, err := bob.DecryptGroupMessage(ctx, groupID, aliceAddr, second.Ciphertext)
	require.NoError(t, err)
	assert.Equal(t, []byte("two"), plaintext)
}

func TestGroup_CorruptedCiphertext(t *testing.T) {
	ctx := context.Background()
	alice := newTestRepo(t)
	bob := newTestRepo(t)
	groupID := testGroupID()

	encrypted, err := alice.EncryptGroupMessage(ctx, groupID, aliceAddr, []byte("intact"))
	require.NoError(t, err)
	require.NoError(t, bob.ProcessSenderKeyDistribution(ctx, groupID, aliceAddr, encrypted.DistributionPayload))

	corrupted := append([]byte(nil), encrypted.Ciphertext...)
	corrupted[len(corrupted)/2] ^= 0x01
	_, err = bob.DecryptGroupMessage(ctx, groupID, aliceAddr, corrupted)
	require.ErrorIs(t, err, wasession.ErrDecryptionFailure)
}

func TestGroup_SendersIndependentPerGroup(t *testing.T) {
	ctx := context.Background()
	alice := newTestRepo(t)
	bob := newTestRepo(t)
	groupA := testGroupID()
	groupB := testGroupID()

	inA, err := alice.EncryptGroupMessage(ctx, groupA, aliceAddr, []byte("in A"))
	require.NoError(t, err)
	inB, err := alice.EncryptGroupMessage(ctx, groupB, aliceAddr, []byte("in B"))
	require.NoError(t, err)

	// Bob only knows alice's ratchet for group A.
	require.NoError(t, bob.ProcessSenderKeyDistribution(ctx, groupA, aliceAddr, inA.DistributionPayload))
	plaintext, err := bob.DecryptGroupMessage(ctx, groupA, aliceAddr, inA.Ciphertext)
	require.NoError(t, err)
	assert.Equal(t, []byte("in A"), plaintext)
	_, err = bob.DecryptGroupMessage(ctx, groupB, aliceAddr, inB.Ciphertext)
	require.ErrorIs(t, err, wasession.ErrUnknownSender)
}

func TestGroup_NormalizedAlias(t *testing.T) {
	ctx := context.Background()
	alice := newTestRepo(t)
	bob := newTestRepo(t)
	groupID := testGroupID()

	require.NoError(t, bob.StoreLIDMapping(ctx, types.NewHiddenJID("98765"), types.NewJID("alice")))

	encrypted, err := alice.EncryptGroupMessage(ctx, groupID, aliceAddr, []byte("dual addressed"))
	require.NoError(t, err)
	// The distribution arrives attributed to the anonymized form, the
	// message to the canonical one. Without normalization these would fork
	// into two desynchronized ratchets.
	require.NoError(t, bob.ProcessSenderKeyDistribution(ctx, groupID, "98765@lid", encrypted.DistributionPayload))
	plaintext, err := bob.DecryptGroupMessage(ctx, groupID, aliceAddr, encrypted.Ciphertext)
	require.NoError(t, err)
	assert.Equal(t, []byte("dual addressed"), plaintext)
}

func TestSenderKeyName_Deterministic(t *testing.T) {
	alice := types.NewJID("alice")
	name1 := wasession.SenderKeyName("g1@g.us", alice)
	name2 := wasession.SenderKeyName("g1@g.us", alice)
	assert.Equal(t, name1, name2)
	assert.NotEqual(t, name1, wasession.SenderKeyName("g2@g.us", alice))
	assert.NotEqual(t, name1, wasession.SenderKeyName("g1@g.us", types.NewJID("bob")))
	assert.NotEqual(t, name1, wasession.SenderKeyName("g1@g.us", alice.WithDevice(2)))
	// The anonymized form of the same user is a different sender until a
	// mapping says otherwise.
	assert.NotEqual(t, name1, wasession.SenderKeyName("g1@g.us", types.NewHiddenJID("alice")))
}
