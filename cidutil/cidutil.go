// Package cidutil derives content identifiers used as key fingerprints.
package cidutil

import (
	"github.com/ipfs/go-cid"
	"github.com/multiformats/go-multihash"
)

// KeyID returns the fingerprint of a public key: a CIDv1 string using the
// "raw" multicodec and a sha2-256 multihash of the encoded key.
func KeyID(pub []byte) string {
	id, err := KeyCID(pub)
	if err != nil {
		// multihash.Sum only errors for invalid inputs; with SHA2_256 and -1 length,
		// this should be unreachable.
		return ""
	}
	return id.String()
}

// KeyCID is KeyID returning the parsed cid.Cid.
func KeyCID(pub []byte) (cid.Cid, error) {
	sum, err := multihash.Sum(pub, multihash.SHA2_256, -1)
	if err != nil {
		return cid.Undef, err
	}
	return cid.NewCidV1(cid.Raw, sum), nil
}

// MatchesKey reports whether keyID is the fingerprint of pub. Any valid
// CID encoding of the same hash matches.
func MatchesKey(keyID string, pub []byte) bool {
	got, err := cid.Decode(keyID)
	if err != nil || !got.Defined() {
		return false
	}
	want, err := KeyCID(pub)
	if err != nil {
		return false
	}
	return got.Equals(want)
}
