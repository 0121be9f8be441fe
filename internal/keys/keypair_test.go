package keys

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/samuel0642/txengine/internal/types"
)

func TestKeyPair_AddressLength(t *testing.T) {
	kp, err := GenerateKeyPair()
	require.NoError(t, err)

	assert.Len(t, kp.Address(), types.AddressLength)
	assert.True(t, types.IsHexAddress(kp.Address()))
}

func TestKeyPair_SignVerify(t *testing.T) {
	kp, err := GenerateKeyPair()
	require.NoError(t, err)

	hash := types.HashBytes([]byte("message"))
	sig, err := kp.Sign(hash)
	require.NoError(t, err)

	assert.NoError(t, Verify(kp.PublicKey, hash, sig))

	other := types.HashBytes([]byte("other message"))
	assert.ErrorIs(t, Verify(kp.PublicKey, other, sig), ErrBadSignature)

	stranger, err := GenerateKeyPair()
	require.NoError(t, err)
	assert.ErrorIs(t, Verify(stranger.PublicKey, hash, sig), ErrBadSignature)
}

func TestKeyPair_MalformedInputs(t *testing.T) {
	kp, err := GenerateKeyPair()
	require.NoError(t, err)
	hash := types.HashBytes([]byte("message"))
	sig, err := kp.Sign(hash)
	require.NoError(t, err)

	assert.ErrorIs(t, Verify("zz", hash, sig), ErrMalformedKey)
	assert.ErrorIs(t, Verify(kp.PublicKey, "abcd", sig), ErrMalformedHash)
	assert.ErrorIs(t, Verify(kp.PublicKey, hash, ""), ErrMalformedSignature)

	_, err = kp.Sign("not-hex")
	assert.ErrorIs(t, err, ErrMalformedHash)
}

func TestKeyPair_FromPrivateKey(t *testing.T) {
	kp, err := GenerateKeyPair()
	require.NoError(t, err)

	restored, err := NewKeyPairFromPrivateKey(kp.PrivateKey)
	require.NoError(t, err)
	assert.Equal(t, kp.PublicKey, restored.PublicKey)

	_, err = NewKeyPairFromPrivateKey("00")
	assert.ErrorIs(t, err, ErrMalformedKey)
}

func TestKeyPair_SignTransaction(t *testing.T) {
	kp, err := GenerateKeyPair()
	require.NoError(t, err)

	tx := types.NewTransaction(kp.Address(), kp.Address(), 1, types.TxSend, "")
	require.NoError(t, kp.SignTransaction(tx))
	assert.NoError(t, SchnorrVerifier{}.Verify(tx.Sender, tx.Hash, tx.Signature))
}

func TestKeystore_SaveLoad(t *testing.T) {
	ks := NewKeystore()
	a, err := ks.GenerateAndAddKey()
	require.NoError(t, err)
	b, err := ks.GenerateAndAddKey()
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "keys.json")
	require.NoError(t, ks.Save(path))

	loaded, err := LoadKeystore(path)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{a.Address(), b.Address()}, loaded.ListAddresses())

	got, ok := loaded.GetKey(a.Address())
	require.True(t, ok)
	assert.Equal(t, a.PrivateKey, got.PrivateKey)

	empty, err := LoadKeystore(filepath.Join(t.TempDir(), "missing.json"))
	require.NoError(t, err)
	assert.Empty(t, empty.ListAddresses())
}
