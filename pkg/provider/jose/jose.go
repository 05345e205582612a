/*
Copyright 2023 EscherCloud.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package jose

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/sha512"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"strings"

	jose "github.com/go-jose/go-jose/v3"
	"github.com/go-jose/go-jose/v3/jwt"
	"github.com/spf13/pflag"
)

var (
	// ErrKeyFormat is raised when something is wrong with the
	// signing key material.
	ErrKeyFormat = errors.New("key format error")

	// ErrAlgorithm is raised when an algorithm is requested that the
	// signing key cannot satisfy.
	ErrAlgorithm = errors.New("unsupported signing algorithm")
)

// Options configures where signing key material comes from.
type Options struct {
	// SigningKeyPath identifies a PEM encoded private key used to sign
	// ID Tokens.  Key rotation happens by replacing the file and
	// restarting, tokens signed with the old key fail verification so
	// keep rotations aligned with token lifetimes.
	SigningKeyPath string
}

// AddFlags registers flags with the provided flag set.
func (o *Options) AddFlags(f *pflag.FlagSet) {
	f.StringVar(&o.SigningKeyPath, "jose-signing-key", "/var/lib/secrets/oidc/tls.key", "PEM encoded private key used to sign ID Tokens.")
}

// Signer owns the provider's signing key and produces compact JWS.
// The key is read-only after construction so a single instance is safe
// for concurrent use by all endpoint handlers.
type Signer struct {
	key crypto.Signer
	kid string
}

// NewSigner wraps an existing private key.  The key id is a JWK SHA-256
// thumbprint, like X.509 subject key identifiers but for naked keys.
func NewSigner(key crypto.Signer) (*Signer, error) {
	jwk := jose.JSONWebKey{
		Key: key.Public(),
	}

	thumbprint, err := jwk.Thumbprint(crypto.SHA256)
	if err != nil {
		return nil, fmt.Errorf("%w: unable to derive key id", ErrKeyFormat)
	}

	return &Signer{
		key: key,
		kid: base64.RawURLEncoding.EncodeToString(thumbprint),
	}, nil
}

// NewSignerFromOptions loads the private key named by the options.
func NewSignerFromOptions(o *Options) (*Signer, error) {
	data, err := os.ReadFile(o.SigningKeyPath)
	if err != nil {
		return nil, err
	}

	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("%w: no PEM data in %s", ErrKeyFormat, o.SigningKeyPath)
	}

	key, err := parsePrivateKey(block.Bytes)
	if err != nil {
		return nil, err
	}

	return NewSigner(key)
}

func parsePrivateKey(der []byte) (crypto.Signer, error) {
	if key, err := x509.ParsePKCS8PrivateKey(der); err == nil {
		signer, ok := key.(crypto.Signer)
		if !ok {
			return nil, fmt.Errorf("%w: PKCS8 key is not a signer", ErrKeyFormat)
		}

		return signer, nil
	}

	if key, err := x509.ParsePKCS1PrivateKey(der); err == nil {
		return key, nil
	}

	if key, err := x509.ParseECPrivateKey(der); err == nil {
		return key, nil
	}

	return nil, fmt.Errorf("%w: unrecognized private key encoding", ErrKeyFormat)
}

// KeyID returns the signing key identifier as published in the JWKS.
func (s *Signer) KeyID() string {
	return s.kid
}

// DefaultAlgorithm returns the natural JWS algorithm for the key type.
func (s *Signer) DefaultAlgorithm() string {
	switch key := s.key.Public().(type) {
	case *ecdsa.PublicKey:
		switch key.Curve {
		case elliptic.P384():
			return string(jose.ES384)
		case elliptic.P521():
			return string(jose.ES512)
		default:
			return string(jose.ES256)
		}
	case *rsa.PublicKey:
		return string(jose.RS256)
	default:
		return ""
	}
}

// supportsAlgorithm tells you whether the key can sign with the algorithm.
func (s *Signer) supportsAlgorithm(alg string) bool {
	switch s.key.Public().(type) {
	case *rsa.PublicKey:
		return strings.HasPrefix(alg, "RS") || strings.HasPrefix(alg, "PS")
	case *ecdsa.PublicKey:
		return s.DefaultAlgorithm() == alg
	default:
		return false
	}
}

// Sign serializes the claims as a compact JWS using the requested algorithm.
func (s *Signer) Sign(alg string, claims any) (string, error) {
	if !s.supportsAlgorithm(alg) {
		return "", fmt.Errorf("%w: %s", ErrAlgorithm, alg)
	}

	signingKey := jose.SigningKey{
		Algorithm: jose.SignatureAlgorithm(alg),
		Key:       s.key,
	}

	options := &jose.SignerOptions{}
	options = options.WithType("JWT")
	options.WithHeader("kid", s.kid)

	signer, err := jose.NewSigner(signingKey, options)
	if err != nil {
		return "", fmt.Errorf("failed to create signer: %w", err)
	}

	token, err := jwt.Signed(signer).Claims(claims).CompactSerialize()
	if err != nil {
		return "", fmt.Errorf("failed to create token: %w", err)
	}

	return token, nil
}

// JWKS returns the public signing key as a JSON Web Key Set.
func (s *Signer) JWKS() *jose.JSONWebKeySet {
	return &jose.JSONWebKeySet{
		Keys: []jose.JSONWebKey{
			{
				Key:   s.key.Public(),
				KeyID: s.kid,
				Use:   "sig",
			},
		},
	}
}

// LeftHash implements the c_hash/at_hash construction: hash the ASCII value
// with the digest matching the ID Token signature algorithm's width, keep
// the left half, base64url encode without padding.
func LeftHash(alg, value string) (string, error) {
	var sum []byte

	// The hash is selected by the signature algorithm's digest width,
	// not its family.
	switch {
	case strings.HasSuffix(alg, "256"):
		digest := sha256.Sum256([]byte(value))
		sum = digest[:]
	case strings.HasSuffix(alg, "384"):
		digest := sha512.Sum384([]byte(value))
		sum = digest[:]
	case strings.HasSuffix(alg, "512"):
		digest := sha512.Sum512([]byte(value))
		sum = digest[:]
	default:
		return "", fmt.Errorf("%w: no hash for %s", ErrAlgorithm, alg)
	}

	return base64.RawURLEncoding.EncodeToString(sum[:len(sum)/2]), nil
}
