package scheme

import (
	"io"

	"github.com/cloudflare/circl/ecc/bls12381"
	"github.com/cloudflare/circl/sign/bls"

	"sigtool.dev/sigtool/sigerr"
)

const (
	BLSPrivateKeySize = bls12381.ScalarSize
	BLSPublicKeySize  = bls12381.G1SizeCompressed
	BLSSignatureSize  = bls12381.G2SizeCompressed

	blsIKMSize = 32
)

// blsProvider implements the basic BLS scheme with public keys in G1 and
// signatures in G2. Signing is deterministic.
type blsProvider struct{}

type blsKeyGroup = bls.KeyG1SigG2

func (blsProvider) Scheme() Scheme { return BLS }

func (blsProvider) Generate(rand io.Reader) ([]byte, []byte, error) {
	ikm, err := readEntropy(rand, blsIKMSize)
	if err != nil {
		return nil, nil, err
	}
	defer wipe(ikm)

	sk, err := bls.KeyGen[blsKeyGroup](ikm, nil, nil)
	if err != nil {
		return nil, nil, sigerr.Wrap(sigerr.KindKeyGeneration, err, "generate bls key")
	}
	priv, err := sk.MarshalBinary()
	if err != nil {
		return nil, nil, sigerr.Wrap(sigerr.KindKeyGeneration, err, "encode bls private key")
	}
	pub, err := sk.PublicKey().MarshalBinary()
	if err != nil {
		wipe(priv)
		return nil, nil, sigerr.Wrap(sigerr.KindKeyGeneration, err, "encode bls public key")
	}
	return pub, priv, nil
}

func (blsProvider) Sign(priv, msg []byte) ([]byte, error) {
	sk, err := parseBLSPrivateKey(priv)
	if err != nil {
		return nil, err
	}
	return bls.Sign(sk, msg), nil
}

func (blsProvider) Verify(pub, msg, sig []byte) (bool, error) {
	if len(sig) != BLSSignatureSize {
		return false, sigerr.New(sigerr.KindMalformedSignature,
			"bls signature must be %d bytes, got %d", BLSSignatureSize, len(sig))
	}
	pk, err := parseBLSPublicKey(pub)
	if err != nil {
		return false, err
	}
	// Bytes that do not decode to a G2 point are rejected by Verify itself.
	return bls.Verify(pk, msg, sig), nil
}

func (blsProvider) PublicKey(priv []byte) ([]byte, error) {
	sk, err := parseBLSPrivateKey(priv)
	if err != nil {
		return nil, err
	}
	pub, err := sk.PublicKey().MarshalBinary()
	if err != nil {
		return nil, sigerr.Wrap(sigerr.KindInvalidKey, err, "encode bls public key")
	}
	return pub, nil
}

func (blsProvider) ValidatePublicKey(pub []byte) error {
	_, err := parseBLSPublicKey(pub)
	return err
}

func (blsProvider) ValidatePrivateKey(priv []byte) error {
	_, err := parseBLSPrivateKey(priv)
	return err
}

// AggregateBLS combines BLS signatures into a single signature.
func AggregateBLS(sigs [][]byte) ([]byte, error) {
	if len(sigs) == 0 {
		return nil, sigerr.New(sigerr.KindMalformedSignature, "no signatures to aggregate")
	}
	in := make([]bls.Signature, 0, len(sigs))
	for i, s := range sigs {
		if len(s) != BLSSignatureSize {
			return nil, sigerr.New(sigerr.KindMalformedSignature,
				"signature %d: bls signature must be %d bytes, got %d", i, BLSSignatureSize, len(s))
		}
		in = append(in, s)
	}
	agg, err := bls.Aggregate(blsKeyGroup{}, in)
	if err != nil {
		return nil, sigerr.Wrap(sigerr.KindMalformedSignature, err, "aggregate bls signatures")
	}
	return agg, nil
}

// VerifyAggregateBLS checks an aggregate signature produced by every key in
// pubs over the same message.
func VerifyAggregateBLS(pubs [][]byte, msg, agg []byte) (bool, error) {
	if len(pubs) == 0 {
		return false, sigerr.New(sigerr.KindUsage, "no public keys given")
	}
	if len(agg) != BLSSignatureSize {
		return false, sigerr.New(sigerr.KindMalformedSignature,
			"bls signature must be %d bytes, got %d", BLSSignatureSize, len(agg))
	}
	keys := make([]*bls.PublicKey[blsKeyGroup], 0, len(pubs))
	msgs := make([][]byte, 0, len(pubs))
	for _, p := range pubs {
		pk, err := parseBLSPublicKey(p)
		if err != nil {
			return false, err
		}
		keys = append(keys, pk)
		msgs = append(msgs, msg)
	}
	return bls.VerifyAggregate(keys, msgs, agg), nil
}

func parseBLSPrivateKey(priv []byte) (*bls.PrivateKey[blsKeyGroup], error) {
	if len(priv) != BLSPrivateKeySize {
		return nil, sigerr.New(sigerr.KindInvalidKey,
			"bls private key must be %d bytes, got %d", BLSPrivateKeySize, len(priv))
	}
	sk := new(bls.PrivateKey[blsKeyGroup])
	if err := sk.UnmarshalBinary(priv); err != nil {
		return nil, sigerr.Wrap(sigerr.KindInvalidKey, err, "invalid bls private key")
	}
	return sk, nil
}

func parseBLSPublicKey(pub []byte) (*bls.PublicKey[blsKeyGroup], error) {
	if len(pub) == ECDSAPublicKeySize {
		return nil, sigerr.New(sigerr.KindSchemeMismatch,
			"%d-byte public key is an ecdsa key, not a bls key", len(pub))
	}
	if len(pub) != BLSPublicKeySize {
		return nil, sigerr.New(sigerr.KindInvalidKey,
			"bls public key must be %d bytes, got %d", BLSPublicKeySize, len(pub))
	}
	pk := new(bls.PublicKey[blsKeyGroup])
	if err := pk.UnmarshalBinary(pub); err != nil {
		return nil, sigerr.Wrap(sigerr.KindInvalidKey, err, "invalid bls public key")
	}
	if !pk.Validate() {
		return nil, sigerr.New(sigerr.KindInvalidKey, "bls public key is not a valid G1 element")
	}
	return pk, nil
}
