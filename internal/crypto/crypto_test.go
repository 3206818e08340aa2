package crypto

import (
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGenerateSaltIsRandomAndSized(t *testing.T) {
	t.Parallel()

	first, err := GenerateSalt()
	require.NoError(t, err)
	second, err := GenerateSalt()
	require.NoError(t, err)

	raw, err := hex.DecodeString(first)
	require.NoError(t, err)
	require.Len(t, raw, SaltBytes)
	require.NotEqual(t, first, second)
}

func TestHashPasswordDeterministicPerSalt(t *testing.T) {
	t.Parallel()

	saltA := "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"
	saltB := "bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb"

	require.Equal(t, HashPassword("pw1", saltA), HashPassword("pw1", saltA))
	require.NotEqual(t, HashPassword("pw1", saltA), HashPassword("pw1", saltB))
	require.NotEqual(t, HashPassword("pw1", saltA), HashPassword("pw2", saltA))
}

func TestDataKeyRoundTrip(t *testing.T) {
	t.Parallel()

	encoded, err := GenerateDataKey()
	require.NoError(t, err)

	key, err := LoadDataKey(encoded)
	require.NoError(t, err)
	defer key.Destroy()

	blob, err := key.Seal("forecast", []byte("water level 4.2m"))
	require.NoError(t, err)
	require.NotContains(t, string(blob), "water level")

	plain, err := key.Open("forecast", blob)
	require.NoError(t, err)
	require.Equal(t, []byte("water level 4.2m"), plain)
}

func TestDataKeyOpenRejectsWrongEntryName(t *testing.T) {
	t.Parallel()

	encoded, err := GenerateDataKey()
	require.NoError(t, err)
	key, err := LoadDataKey(encoded)
	require.NoError(t, err)
	defer key.Destroy()

	blob, err := key.Seal("forecast", []byte("payload"))
	require.NoError(t, err)

	_, err = key.Open("other", blob)
	require.ErrorIs(t, err, ErrAuthenticationFailed)
}

func TestDataKeyOpenRejectsWrongKey(t *testing.T) {
	t.Parallel()

	encodedA, err := GenerateDataKey()
	require.NoError(t, err)
	encodedB, err := GenerateDataKey()
	require.NoError(t, err)

	keyA, err := LoadDataKey(encodedA)
	require.NoError(t, err)
	defer keyA.Destroy()
	keyB, err := LoadDataKey(encodedB)
	require.NoError(t, err)
	defer keyB.Destroy()

	blob, err := keyA.Seal("forecast", []byte("payload"))
	require.NoError(t, err)

	_, err = keyB.Open("forecast", blob)
	require.ErrorIs(t, err, ErrAuthenticationFailed)
}

func TestLoadDataKeyRejectsMalformedInput(t *testing.T) {
	t.Parallel()

	_, err := LoadDataKey("not-base64!!!")
	require.ErrorIs(t, err, ErrInvalidDataKey)

	_, err = LoadDataKey("c2hvcnQ=")
	require.ErrorIs(t, err, ErrInvalidDataKey)
}
