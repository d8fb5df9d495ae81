package goldenthread

import (
	"bytes"
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
	"math/big"
	"strings"
)

// Algorithm names accepted in the "{ALG}:{BASE64}" signature format.
const (
	AlgRSASHA256  = "RSA-SHA256"
	AlgECDSAP256  = "ECDSA-P256"
	sigPartsCount = 2
)

var (
	// ErrSignatureFormat is returned when the signature string doesn't match "ALG:BASE64".
	ErrSignatureFormat = errors.New("signature format invalid, expected ALG:BASE64")
	// ErrAlgorithmMismatch is returned when the signature names an algorithm this verifier doesn't support.
	ErrAlgorithmMismatch = errors.New("signature algorithm mismatch")
	// ErrKeyParse is returned when the public key PEM cannot be parsed.
	ErrKeyParse = errors.New("failed to parse public key")
)

// ParseSignature splits a "{ALG}:{BASE64}" signature into its algorithm and
// decoded bytes.
func ParseSignature(sig string) (algorithm string, decoded []byte, err error) {
	parts := strings.SplitN(sig, ":", sigPartsCount)
	if len(parts) != sigPartsCount {
		return "", nil, ErrSignatureFormat
	}

	decoded, err = base64.StdEncoding.DecodeString(parts[1])
	if err != nil {
		return "", nil, fmt.Errorf("%w: %w", ErrSignatureFormat, err)
	}

	return parts[0], decoded, nil
}

// VerifySignature verifies sig (format "{ALG}:{BASE64}") over canonical
// using the imported public key. The key may be PEM-encoded (SubjectPublicKeyInfo)
// or a JSON Web Key — the two are told apart by whether the input looks like a
// JSON object. It reports algorithm-mismatch and parse errors as distinct
// failure reasons.
func VerifySignature(sig, canonical string, publicKey []byte) error {
	algorithm, decoded, err := ParseSignature(sig)
	if err != nil {
		return err
	}

	pub, err := importPublicKey(publicKey)
	if err != nil {
		return err
	}

	digest := sha256.Sum256([]byte(canonical))

	switch algorithm {
	case AlgRSASHA256:
		rsaPub, ok := pub.(*rsa.PublicKey)
		if !ok {
			return fmt.Errorf("%w: key is not RSA", ErrAlgorithmMismatch)
		}

		if err := rsa.VerifyPKCS1v15(rsaPub, crypto.SHA256, digest[:], decoded); err != nil {
			return fmt.Errorf("rsa signature verification failed: %w", err)
		}

		return nil
	case AlgECDSAP256:
		ecdsaPub, ok := pub.(*ecdsa.PublicKey)
		if !ok {
			return fmt.Errorf("%w: key is not ECDSA", ErrAlgorithmMismatch)
		}

		if !ecdsa.VerifyASN1(ecdsaPub, digest[:], decoded) {
			return errors.New("ecdsa signature verification failed")
		}

		return nil
	default:
		return fmt.Errorf("%w: %q", ErrAlgorithmMismatch, algorithm)
	}
}

// jwkKey is the subset of RFC 7517 fields this verifier understands: an RSA
// key (n, e) or an EC P-256 key (crv, x, y).
type jwkKey struct {
	Kty string `json:"kty"`
	Crv string `json:"crv"`
	N   string `json:"n"`
	E   string `json:"e"`
	X   string `json:"x"`
	Y   string `json:"y"`
}

// importPublicKey imports a public key supplied either as a PEM-encoded
// SubjectPublicKeyInfo block or a single JSON Web Key object. A JWK is
// recognized by its leading '{' once surrounding whitespace is stripped.
func importPublicKey(raw []byte) (crypto.PublicKey, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) > 0 && trimmed[0] == '{' {
		return importJWK(trimmed)
	}

	block, _ := pem.Decode(raw)
	if block == nil {
		return nil, ErrKeyParse
	}

	pub, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrKeyParse, err)
	}

	return pub, nil
}

// importJWK decodes a single RSA or EC P-256 JSON Web Key into the
// corresponding stdlib public key type.
func importJWK(raw []byte) (crypto.PublicKey, error) {
	var key jwkKey

	if err := json.Unmarshal(raw, &key); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrKeyParse, err)
	}

	switch key.Kty {
	case "RSA":
		return jwkRSAPublicKey(key.N, key.E)
	case "EC":
		return jwkECDSAPublicKey(key.Crv, key.X, key.Y)
	default:
		return nil, fmt.Errorf("%w: unsupported JWK kty %q", ErrKeyParse, key.Kty)
	}
}

func jwkRSAPublicKey(n, e string) (*rsa.PublicKey, error) {
	nBytes, err := base64.RawURLEncoding.DecodeString(n)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrKeyParse, err)
	}

	eBytes, err := base64.RawURLEncoding.DecodeString(e)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrKeyParse, err)
	}

	exponent := 0
	for _, b := range eBytes {
		exponent = exponent<<8 | int(b)
	}

	return &rsa.PublicKey{N: new(big.Int).SetBytes(nBytes), E: exponent}, nil
}

func jwkECDSAPublicKey(crv, x, y string) (*ecdsa.PublicKey, error) {
	if crv != "P-256" {
		return nil, fmt.Errorf("%w: unsupported JWK curve %q", ErrKeyParse, crv)
	}

	xBytes, err := base64.RawURLEncoding.DecodeString(x)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrKeyParse, err)
	}

	yBytes, err := base64.RawURLEncoding.DecodeString(y)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrKeyParse, err)
	}

	return &ecdsa.PublicKey{
		Curve: elliptic.P256(),
		X:     new(big.Int).SetBytes(xBytes),
		Y:     new(big.Int).SetBytes(yBytes),
	}, nil
}
