package token

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/systmms/rekey/pkg/secrets"
)

const (
	secretA = "a8Kd93mPqX0vLw2NzT7bY5cR1eU4iO6sGh3jF9kD2lA0pQ7w"
	secretB = "Pz7Qw2Er5Ty8Ui1Op4As6Df9Gh3Jk0Lz2Xc5Vb8Nm1Qa4Ws7"
)

var fixedNow = time.Date(2025, 3, 14, 9, 26, 53, 0, time.UTC)

func TestMintIsDeterministic(t *testing.T) {
	t.Parallel()

	first, err := Mint(secrets.Anon, secretA, "rekey", fixedNow)
	require.NoError(t, err)
	second, err := Mint(secrets.Anon, secretA, "rekey", fixedNow)
	require.NoError(t, err)

	assert.Equal(t, first.Value, second.Value)
	assert.Equal(t, fixedNow.Add(Lifetime), first.ExpiresAt)
}

func TestMintDiffersAcrossTime(t *testing.T) {
	t.Parallel()

	first, err := Mint(secrets.Anon, secretA, "rekey", fixedNow)
	require.NoError(t, err)
	later, err := Mint(secrets.Anon, secretA, "rekey", fixedNow.Add(time.Minute))
	require.NoError(t, err)

	assert.NotEqual(t, first.Value, later.Value)

	// Both remain valid under the same secret.
	_, err = Verify(first.Value, secretA)
	require.NoError(t, err)
	_, err = Verify(later.Value, secretA)
	require.NoError(t, err)
}

func TestMintSignatureDependsOnSecret(t *testing.T) {
	t.Parallel()

	a, err := Mint(secrets.ServiceRole, secretA, "rekey", fixedNow)
	require.NoError(t, err)
	b, err := Mint(secrets.ServiceRole, secretB, "rekey", fixedNow)
	require.NoError(t, err)

	pa := strings.Split(a.Value, ".")
	pb := strings.Split(b.Value, ".")
	require.Len(t, pa, 3)
	require.Len(t, pb, 3)

	assert.Equal(t, pa[0], pb[0], "header is secret independent")
	assert.Equal(t, pa[1], pb[1], "payload is secret independent")
	assert.NotEqual(t, pa[2], pb[2], "signature must change with the secret")
}

func TestMintMatchesCompactHMACConstruction(t *testing.T) {
	t.Parallel()

	tok, err := Mint(secrets.Anon, secretA, "rekey", fixedNow)
	require.NoError(t, err)

	parts := strings.Split(tok.Value, ".")
	require.Len(t, parts, 3)

	mac := hmac.New(sha256.New, []byte(secretA))
	mac.Write([]byte(parts[0] + "." + parts[1]))
	assert.Equal(t, base64.RawURLEncoding.EncodeToString(mac.Sum(nil)), parts[2])

	headerJSON, err := base64.RawURLEncoding.DecodeString(parts[0])
	require.NoError(t, err)
	var header map[string]string
	require.NoError(t, json.Unmarshal(headerJSON, &header))
	assert.Equal(t, "HS256", header["alg"])
	assert.Equal(t, "JWT", header["typ"])

	payloadJSON, err := base64.RawURLEncoding.DecodeString(parts[1])
	require.NoError(t, err)
	var payload map[string]interface{}
	require.NoError(t, json.Unmarshal(payloadJSON, &payload))
	assert.Equal(t, "anon", payload["role"])
	assert.Equal(t, "rekey", payload["iss"])
	assert.EqualValues(t, fixedNow.Unix(), payload["iat"])
	assert.EqualValues(t, fixedNow.Unix()+315360000, payload["exp"])
}

func TestVerifyRoundTrip(t *testing.T) {
	t.Parallel()

	for _, role := range secrets.Roles() {
		tok, err := Mint(role, secretA, "rekey", fixedNow)
		require.NoError(t, err)

		claims, err := Verify(tok.Value, secretA)
		require.NoError(t, err)
		assert.Equal(t, role, claims.Role)
		assert.Equal(t, "rekey", claims.Issuer)

		_, err = Verify(tok.Value, secretB)
		assert.ErrorIs(t, err, ErrInvalidSignature)
	}
}

func TestVerifyRejectsOtherAlgorithms(t *testing.T) {
	t.Parallel()

	// {"alg":"none","typ":"JWT"}.{"role":"anon"}.
	unsigned := "eyJhbGciOiJub25lIiwidHlwIjoiSldUIn0.eyJyb2xlIjoiYW5vbiJ9."
	_, err := Verify(unsigned, secretA)
	assert.Error(t, err)
}

func TestMintPairSharesIssuedAt(t *testing.T) {
	t.Parallel()

	anon, service, err := MintPair(secretA, "rekey", fixedNow)
	require.NoError(t, err)

	assert.Equal(t, secrets.Anon, anon.Role)
	assert.Equal(t, secrets.ServiceRole, service.Role)
	assert.Equal(t, anon.IssuedAt, service.IssuedAt)
	assert.NotEqual(t, anon.Value, service.Value)
}

func TestMintRejectsEmptySecret(t *testing.T) {
	t.Parallel()

	_, err := Mint(secrets.Anon, "", "rekey", fixedNow)
	assert.Error(t, err)
}

func TestIsPlaceholder(t *testing.T) {
	t.Parallel()

	real, err := Mint(secrets.Anon, secretA, "rekey", fixedNow)
	require.NoError(t, err)
	demo, err := Mint(secrets.Anon, secretA, "supabase-demo", fixedNow)
	require.NoError(t, err)

	assert.False(t, IsPlaceholder(real.Value))
	assert.True(t, IsPlaceholder(demo.Value))
	assert.True(t, IsPlaceholder(""))
	assert.True(t, IsPlaceholder("not-a-token"))
	assert.True(t, IsPlaceholder("your-anon-key"))
}

func TestDecode(t *testing.T) {
	t.Parallel()

	tok, err := Mint(secrets.ServiceRole, secretA, "rekey", fixedNow)
	require.NoError(t, err)

	claims, err := Decode(tok.Value)
	require.NoError(t, err)
	assert.Equal(t, secrets.ServiceRole, claims.Role)
}
