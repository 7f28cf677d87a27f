package crypto

import (
	"encoding/base64"
	"os"
	"path/filepath"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Well-known private key 0x...01 and its derived address.
const (
	testKeyHex  = "0000000000000000000000000000000000000000000000000000000000000001"
	testAddress = "0x7E5F4552091A69125d5DfCb7b8C2659029395Bdf"
)

var sigPattern = regexp.MustCompile(`^0x[0-9a-f]{130}$`)

func TestEncryptDecryptRoundTrip(t *testing.T) {
	blob, err := EncryptKey("0x"+testKeyHex, "hunter2")
	require.NoError(t, err)

	got, err := DecryptKey(blob, "hunter2")
	require.NoError(t, err)
	assert.Equal(t, testKeyHex, got)
}

func TestDecryptKey_WrongPassword(t *testing.T) {
	blob, err := EncryptKey(testKeyHex, "correct")
	require.NoError(t, err)

	_, err = DecryptKey(blob, "wrong")
	assert.ErrorContains(t, err, "decryption failed")
}

func TestEncryptKey_Validation(t *testing.T) {
	_, err := EncryptKey(testKeyHex, "")
	assert.Error(t, err)

	_, err = EncryptKey("not-hex", "pw")
	assert.Error(t, err)

	// 31-byte key is rejected.
	_, err = EncryptKey(testKeyHex[:62], "pw")
	assert.ErrorContains(t, err, "32-byte")
}

func TestLoadKey(t *testing.T) {
	t.Run("raw key strips prefix", func(t *testing.T) {
		got, err := LoadKey(KeyConfig{RawPrivateKey: "0x" + testKeyHex})
		require.NoError(t, err)
		assert.Equal(t, testKeyHex, got)
	})

	t.Run("encrypted file", func(t *testing.T) {
		blob, err := EncryptKey(testKeyHex, "pw")
		require.NoError(t, err)
		path := filepath.Join(t.TempDir(), "key.json")
		require.NoError(t, os.WriteFile(path, blob, 0o600))

		got, err := LoadKey(KeyConfig{EncryptedKeyPath: path, KeyPassword: "pw"})
		require.NoError(t, err)
		assert.Equal(t, testKeyHex, got)
	})

	t.Run("no source", func(t *testing.T) {
		_, err := LoadKey(KeyConfig{})
		assert.ErrorContains(t, err, "no private key source")
	})
}

func TestHMACAuth_L2HeadersAt(t *testing.T) {
	auth := &HMACAuth{
		Key:        "api-key",
		Secret:     base64.StdEncoding.EncodeToString([]byte("secret-bytes")),
		Passphrase: "pass",
	}

	h := auth.L2HeadersAt(testAddress, "POST", "/order", `{"x":1}`, 1700000000)
	assert.Equal(t, testAddress, h["POLY_ADDRESS"])
	assert.Equal(t, "api-key", h["POLY_API_KEY"])
	assert.Equal(t, "1700000000", h["POLY_TIMESTAMP"])
	assert.Equal(t, "pass", h["POLY_PASSPHRASE"])
	assert.NotEmpty(t, h["POLY_SIGNATURE"])

	// Same inputs produce the same signature.
	h2 := auth.L2HeadersAt(testAddress, "POST", "/order", `{"x":1}`, 1700000000)
	assert.Equal(t, h["POLY_SIGNATURE"], h2["POLY_SIGNATURE"])

	// Any input change breaks the signature.
	h3 := auth.L2HeadersAt(testAddress, "GET", "/order", `{"x":1}`, 1700000000)
	assert.NotEqual(t, h["POLY_SIGNATURE"], h3["POLY_SIGNATURE"])
}

func TestHMACAuth_Configured(t *testing.T) {
	assert.False(t, (&HMACAuth{}).Configured())
	assert.False(t, (&HMACAuth{Key: "k", Secret: "s"}).Configured())
	assert.True(t, (&HMACAuth{Key: "k", Secret: "s", Passphrase: "p"}).Configured())
}

func TestHMACAuth_StringRedacts(t *testing.T) {
	auth := &HMACAuth{Key: "abcdef123456", Secret: "topsecretvalue"}
	s := auth.String()
	assert.NotContains(t, s, "123456")
	assert.NotContains(t, s, "secretvalue")
	assert.Contains(t, s, "abcd")
}

func TestNewSigner_Address(t *testing.T) {
	s, err := NewSigner("0x"+testKeyHex, 137)
	require.NoError(t, err)
	assert.Equal(t, testAddress, s.Address().Hex())

	_, err = NewSigner("zz", 137)
	assert.Error(t, err)
}

func TestSignAuthMessage(t *testing.T) {
	s, err := NewSigner(testKeyHex, 137)
	require.NoError(t, err)

	sig, err := s.SignAuthMessage(s.Address().Hex(), 1700000000, 0)
	require.NoError(t, err)
	assert.Regexp(t, sigPattern, sig)

	// Deterministic: same message, same signature.
	sig2, err := s.SignAuthMessage(s.Address().Hex(), 1700000000, 0)
	require.NoError(t, err)
	assert.Equal(t, sig, sig2)

	// Timestamp changes the digest.
	sig3, err := s.SignAuthMessage(s.Address().Hex(), 1700000001, 0)
	require.NoError(t, err)
	assert.NotEqual(t, sig, sig3)
}

func TestSignOrder(t *testing.T) {
	s, err := NewSigner(testKeyHex, 137)
	require.NoError(t, err)

	order := OrderPayload{
		Salt:          "123456789",
		Maker:         s.Address().Hex(),
		Signer:        s.Address().Hex(),
		Taker:         "0x0000000000000000000000000000000000000000",
		TokenID:       "71321045679252212594626385532706912750332728571942532289631379312455583992563",
		MakerAmount:   "50000000",
		TakerAmount:   "100000000",
		Expiration:    "0",
		Nonce:         "0",
		FeeRateBps:    "0",
		Side:          0,
		SignatureType: 0,
	}

	sig, err := s.SignOrder(order, false)
	require.NoError(t, err)
	assert.Regexp(t, sigPattern, sig)

	// The neg-risk exchange has its own domain separator.
	negSig, err := s.SignOrder(order, true)
	require.NoError(t, err)
	assert.NotEqual(t, sig, negSig)
}

func TestSignOrder_InvalidNumber(t *testing.T) {
	s, err := NewSigner(testKeyHex, 137)
	require.NoError(t, err)

	_, err = s.SignOrder(OrderPayload{Salt: "not-a-number"}, false)
	assert.ErrorContains(t, err, "invalid salt")
}
