// Package scheme implements the supported signature schemes behind a single
// Provider interface.
//
// The set of schemes is closed: ECDSA over secp256k1 and BLS over BLS12-381
// (keys in G1, signatures in G2). Every provider works on raw byte encodings
// so that callers can persist keys and signatures without knowing the
// scheme's internal types.
package scheme

import (
	"fmt"
	"io"
	"strings"

	"sigtool.dev/sigtool/sigerr"
)

// Scheme identifies a signature algorithm family. The zero value is invalid.
type Scheme uint8

const (
	ECDSA Scheme = iota + 1
	BLS
)

// All lists the supported schemes in a stable order.
var All = []Scheme{ECDSA, BLS}

// String returns the short CLI name ("ecdsa", "bls").
func (s Scheme) String() string {
	switch s {
	case ECDSA:
		return "ecdsa"
	case BLS:
		return "bls"
	default:
		return fmt.Sprintf("scheme(%d)", uint8(s))
	}
}

// Algorithm returns the precise algorithm label.
func (s Scheme) Algorithm() string {
	switch s {
	case ECDSA:
		return "ECDSA-secp256k1"
	case BLS:
		return "BLS12-381-min-pk"
	default:
		return "unknown"
	}
}

func (s Scheme) Valid() bool { return s == ECDSA || s == BLS }

// ParseScheme accepts a short name or an algorithm label, case-insensitively.
func ParseScheme(v string) (Scheme, error) {
	v = strings.TrimSpace(v)
	for _, s := range All {
		if strings.EqualFold(v, s.String()) || strings.EqualFold(v, s.Algorithm()) {
			return s, nil
		}
	}
	return 0, sigerr.New(sigerr.KindUsage, "unsupported signature scheme %q (expected ecdsa or bls)", v)
}

func (s Scheme) MarshalText() ([]byte, error) {
	if !s.Valid() {
		return nil, sigerr.New(sigerr.KindUsage, "invalid scheme %d", uint8(s))
	}
	return []byte(s.String()), nil
}

func (s *Scheme) UnmarshalText(b []byte) error {
	v, err := ParseScheme(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// Signature is a scheme-tagged signature value.
type Signature struct {
	Scheme Scheme
	Bytes  []byte
}

// Provider generates keys, signs and verifies for one scheme.
type Provider interface {
	Scheme() Scheme

	// Generate draws a fresh keypair from rand. A short or failing source
	// yields a KindKeyGeneration error.
	Generate(rand io.Reader) (pub, priv []byte, err error)

	// Sign fails with KindInvalidKey if priv is malformed for the scheme.
	Sign(priv, msg []byte) ([]byte, error)

	// Verify returns false, not an error, for a well-sized signature that
	// does not match. KindMalformedSignature is reserved for byte strings
	// that cannot be this scheme's signature encoding at all.
	Verify(pub, msg, sig []byte) (bool, error)

	// PublicKey derives the public key encoding from priv.
	PublicKey(priv []byte) ([]byte, error)

	ValidatePublicKey(pub []byte) error
	ValidatePrivateKey(priv []byte) error
}

// For returns the provider for s.
func For(s Scheme) (Provider, error) {
	switch s {
	case ECDSA:
		return ecdsaProvider{}, nil
	case BLS:
		return blsProvider{}, nil
	default:
		return nil, sigerr.New(sigerr.KindUsage, "unsupported signature scheme %s", s)
	}
}

// MustFor is like For but panics on an unsupported scheme.
func MustFor(s Scheme) Provider {
	p, err := For(s)
	if err != nil {
		panic(err)
	}
	return p
}
