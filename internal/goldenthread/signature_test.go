package goldenthread

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testCanonical = "approved_at=2025-01-15T10:30:00Z|approved_by=ciso@corp.com|ticket_id=FIN-1234"

func rsaPEM(t *testing.T, pub *rsa.PublicKey) []byte {
	t.Helper()

	der, err := x509.MarshalPKIXPublicKey(pub)
	require.NoError(t, err)

	return pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der})
}

func ecdsaPEM(t *testing.T, pub *ecdsa.PublicKey) []byte {
	t.Helper()

	der, err := x509.MarshalPKIXPublicKey(pub)
	require.NoError(t, err)

	return pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der})
}

func rsaSign(t *testing.T, priv *rsa.PrivateKey, canonical string) string {
	t.Helper()

	digest := sha256.Sum256([]byte(canonical))

	sig, err := rsa.SignPKCS1v15(rand.Reader, priv, crypto.SHA256, digest[:])
	require.NoError(t, err)

	return AlgRSASHA256 + ":" + base64.StdEncoding.EncodeToString(sig)
}

func ecdsaSign(t *testing.T, priv *ecdsa.PrivateKey, canonical string) string {
	t.Helper()

	digest := sha256.Sum256([]byte(canonical))

	sig, err := ecdsa.SignASN1(rand.Reader, priv, digest[:])
	require.NoError(t, err)

	return AlgECDSAP256 + ":" + base64.StdEncoding.EncodeToString(sig)
}

func TestVerifySignature_RSA_PEM_RoundTrips(t *testing.T) {
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	sig := rsaSign(t, priv, testCanonical)

	err = VerifySignature(sig, testCanonical, rsaPEM(t, &priv.PublicKey))
	assert.NoError(t, err)
}

func TestVerifySignature_ECDSA_PEM_RoundTrips(t *testing.T) {
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	sig := ecdsaSign(t, priv, testCanonical)

	err = VerifySignature(sig, testCanonical, ecdsaPEM(t, &priv.PublicKey))
	assert.NoError(t, err)
}

func TestVerifySignature_RSA_JWK_RoundTrips(t *testing.T) {
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	sig := rsaSign(t, priv, testCanonical)

	n := base64.RawURLEncoding.EncodeToString(priv.PublicKey.N.Bytes())
	e := base64.RawURLEncoding.EncodeToString([]byte{0x01, 0x00, 0x01}) // 65537

	jwk := []byte(fmt.Sprintf(`{"kty":"RSA","n":%q,"e":%q}`, n, e))

	err = VerifySignature(sig, testCanonical, jwk)
	assert.NoError(t, err)
}

func TestVerifySignature_ECDSA_JWK_RoundTrips(t *testing.T) {
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	sig := ecdsaSign(t, priv, testCanonical)

	x := base64.RawURLEncoding.EncodeToString(priv.PublicKey.X.Bytes())
	y := base64.RawURLEncoding.EncodeToString(priv.PublicKey.Y.Bytes())

	jwk := []byte(fmt.Sprintf(`{"kty":"EC","crv":"P-256","x":%q,"y":%q}`, x, y))

	err = VerifySignature(sig, testCanonical, jwk)
	assert.NoError(t, err)
}

func TestVerifySignature_JWK_UnsupportedKty_ReturnsKeyParseError(t *testing.T) {
	jwk := []byte(`{"kty":"oct","k":"c2VjcmV0"}`)

	err := VerifySignature(AlgRSASHA256+":AA==", testCanonical, jwk)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrKeyParse)
}

func TestVerifySignature_JWK_UnsupportedCurve_ReturnsKeyParseError(t *testing.T) {
	jwk := []byte(`{"kty":"EC","crv":"P-384","x":"AA","y":"AA"}`)

	err := VerifySignature(AlgECDSAP256+":AA==", testCanonical, jwk)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrKeyParse)
}

func TestVerifySignature_AlgorithmMismatch_KeyIsRSAButSigClaimsECDSA(t *testing.T) {
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	sig := AlgECDSAP256 + ":" + base64.StdEncoding.EncodeToString([]byte("not-a-real-signature"))

	err = VerifySignature(sig, testCanonical, rsaPEM(t, &priv.PublicKey))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAlgorithmMismatch)
}

func TestVerifySignature_TamperedCanonical_FailsVerification(t *testing.T) {
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	sig := rsaSign(t, priv, testCanonical)

	err = VerifySignature(sig, testCanonical+"tampered", rsaPEM(t, &priv.PublicKey))
	assert.Error(t, err)
}

func TestVerifySignature_MalformedSignatureString_ReturnsFormatError(t *testing.T) {
	err := VerifySignature("not-a-valid-signature", testCanonical, []byte(`{"kty":"RSA","n":"AA","e":"AQAB"}`))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSignatureFormat)
}

func TestVerifySignature_UnparseablePublicKey_ReturnsKeyParseError(t *testing.T) {
	err := VerifySignature(AlgRSASHA256+":AA==", testCanonical, []byte("not pem or jwk"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrKeyParse)
}
