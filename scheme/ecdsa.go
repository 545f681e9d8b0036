package scheme

import (
	"crypto/sha256"
	"io"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"

	"sigtool.dev/sigtool/sigerr"
)

const (
	ECDSAPrivateKeySize = 32
	ECDSAPublicKeySize  = 33 // SEC1 compressed
	ECDSASignatureSize  = 64 // r || s
)

// ecdsaProvider signs sha256(msg) over secp256k1. Nonces are derived with
// RFC 6979, so a given key and message always yield the same signature.
type ecdsaProvider struct{}

func (ecdsaProvider) Scheme() Scheme { return ECDSA }

func (ecdsaProvider) Generate(rand io.Reader) ([]byte, []byte, error) {
	// Out-of-range draws are retried by the library; bound them.
	src := &limitedSource{rand: rand, max: 8 * ECDSAPrivateKeySize}
	priv, err := secp256k1.GeneratePrivateKeyFromRand(src)
	if err != nil {
		if sigerr.IsKind(err, sigerr.KindKeyGeneration) {
			return nil, nil, err
		}
		return nil, nil, sigerr.Wrap(sigerr.KindKeyGeneration, err, "generate ecdsa key")
	}
	defer priv.Zero()
	return priv.PubKey().SerializeCompressed(), priv.Serialize(), nil
}

func (p ecdsaProvider) Sign(priv, msg []byte) ([]byte, error) {
	key, err := parseECDSAPrivateKey(priv)
	if err != nil {
		return nil, err
	}
	defer key.Zero()

	digest := sha256.Sum256(msg)
	sig := ecdsa.Sign(key, digest[:])

	r, s := sig.R(), sig.S()
	out := make([]byte, ECDSASignatureSize)
	r.PutBytesUnchecked(out[:32])
	s.PutBytesUnchecked(out[32:])
	return out, nil
}

func (p ecdsaProvider) Verify(pub, msg, sig []byte) (bool, error) {
	if len(sig) != ECDSASignatureSize {
		return false, sigerr.New(sigerr.KindMalformedSignature,
			"ecdsa signature must be %d bytes, got %d", ECDSASignatureSize, len(sig))
	}
	key, err := parseECDSAPublicKey(pub)
	if err != nil {
		return false, err
	}

	var r, s secp256k1.ModNScalar
	// A scalar >= n cannot come from a signer: such a signature is well
	// formed but never valid.
	if r.SetByteSlice(sig[:32]) || s.SetByteSlice(sig[32:]) {
		return false, nil
	}
	digest := sha256.Sum256(msg)
	return ecdsa.NewSignature(&r, &s).Verify(digest[:], key), nil
}

func (ecdsaProvider) PublicKey(priv []byte) ([]byte, error) {
	key, err := parseECDSAPrivateKey(priv)
	if err != nil {
		return nil, err
	}
	defer key.Zero()
	return key.PubKey().SerializeCompressed(), nil
}

func (ecdsaProvider) ValidatePublicKey(pub []byte) error {
	_, err := parseECDSAPublicKey(pub)
	return err
}

func (ecdsaProvider) ValidatePrivateKey(priv []byte) error {
	key, err := parseECDSAPrivateKey(priv)
	if err != nil {
		return err
	}
	key.Zero()
	return nil
}

func parseECDSAPrivateKey(priv []byte) (*secp256k1.PrivateKey, error) {
	if len(priv) != ECDSAPrivateKeySize {
		return nil, sigerr.New(sigerr.KindInvalidKey,
			"ecdsa private key must be %d bytes, got %d", ECDSAPrivateKeySize, len(priv))
	}
	var k secp256k1.ModNScalar
	if overflow := k.SetByteSlice(priv); overflow || k.IsZero() {
		k.Zero()
		return nil, sigerr.New(sigerr.KindInvalidKey, "ecdsa private key out of range")
	}
	return secp256k1.NewPrivateKey(&k), nil
}

func parseECDSAPublicKey(pub []byte) (*secp256k1.PublicKey, error) {
	if len(pub) == BLSPublicKeySize {
		return nil, sigerr.New(sigerr.KindSchemeMismatch,
			"%d-byte public key is a bls key, not an ecdsa key", len(pub))
	}
	if len(pub) != ECDSAPublicKeySize {
		return nil, sigerr.New(sigerr.KindInvalidKey,
			"ecdsa public key must be %d bytes, got %d", ECDSAPublicKeySize, len(pub))
	}
	key, err := secp256k1.ParsePubKey(pub)
	if err != nil {
		return nil, sigerr.Wrap(sigerr.KindInvalidKey, err, "invalid ecdsa public key")
	}
	return key, nil
}
