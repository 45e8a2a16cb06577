package audit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sgx-ra/sgxra/crypto/keys"
	auditmemory "github.com/sgx-ra/sgxra/sp/audit/memory"
)

func TestSigner_SignAndVerify(t *testing.T) {
	key, err := keys.GenerateEd25519KeyPair()
	require.NoError(t, err)
	signer := NewSigner(key)

	r := NewRecord([4]byte{1, 2, 3, 4}, "OK", "", true, true, "pseudonym")
	require.NoError(t, signer.Sign(r))
	require.NoError(t, signer.Verify(r))

	r.QuoteStatus = "GROUP_OUT_OF_DATE"
	require.Error(t, signer.Verify(r))
}

func TestMemoryStore_PutGetListCount(t *testing.T) {
	store := auditmemory.NewStore()
	ctx := context.Background()

	key, err := keys.GenerateEd25519KeyPair()
	require.NoError(t, err)
	signer := NewSigner(key)

	r1 := NewRecord([4]byte{1}, "OK", "", true, true, "")
	require.NoError(t, signer.Sign(r1))
	require.NoError(t, store.Put(ctx, r1))

	time.Sleep(time.Millisecond)
	r2 := NewRecord([4]byte{2}, "OK", "", false, true, "")
	require.NoError(t, signer.Sign(r2))
	require.NoError(t, store.Put(ctx, r2))

	got, err := store.Get(ctx, r1.ID)
	require.NoError(t, err)
	require.Equal(t, r1.QuoteStatus, got.QuoteStatus)
	require.NoError(t, signer.Verify(got))

	list, err := store.List(ctx, 10, 0)
	require.NoError(t, err)
	require.Len(t, list, 2)
	require.Equal(t, r2.ID, list[0].ID) // newest first

	count, err := store.Count(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(2), count)
}

func TestMemoryStore_DeleteOlderThan(t *testing.T) {
	store := auditmemory.NewStore()
	ctx := context.Background()

	r := NewRecord([4]byte{1}, "OK", "", true, true, "")
	r.CreatedAt = time.Now().Add(-48 * time.Hour)
	require.NoError(t, store.Put(ctx, r))

	deleted, err := store.DeleteOlderThan(ctx, time.Now().Add(-24*time.Hour))
	require.NoError(t, err)
	require.Equal(t, int64(1), deleted)

	count, err := store.Count(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(0), count)
}
