package keys

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"time"

	"sigtool.dev/sigtool/cidutil"
	"sigtool.dev/sigtool/scheme"
	"sigtool.dev/sigtool/sigerr"
)

// MaxNameLength bounds key names so they stay valid file names everywhere.
const MaxNameLength = 64

// Record is a stored keypair.
type Record struct {
	Name       string
	Scheme     scheme.Scheme
	PublicKey  []byte
	PrivateKey []byte
	KeyID      string
	CreatedAt  time.Time
}

// Identity is the public part of a Record, as returned by listings.
type Identity struct {
	Name      string
	Scheme    scheme.Scheme
	KeyID     string
	CreatedAt time.Time
}

// CheckKeyName validates a key name.
func CheckKeyName(name string) error {
	if name == "" {
		return sigerr.New(sigerr.KindUsage, "key name cannot be empty")
	}
	if len(name) > MaxNameLength {
		return sigerr.New(sigerr.KindUsage, "key name longer than %d characters", MaxNameLength)
	}
	for _, char := range name {
		if (char >= 'a' && char <= 'z') || (char >= 'A' && char <= 'Z') || (char >= '0' && char <= '9') || char == '-' || char == '_' {
			continue
		}
		return sigerr.New(sigerr.KindUsage, "invalid character %q in key name", char)
	}
	return nil
}

// NewRecord builds a Record for a freshly generated keypair, filling in the
// key identifier.
func NewRecord(name string, s scheme.Scheme, pub, priv []byte, createdAt time.Time) Record {
	return Record{
		Name:       name,
		Scheme:     s,
		PublicKey:  pub,
		PrivateKey: priv,
		KeyID:      cidutil.KeyID(pub),
		CreatedAt:  createdAt.UTC().Truncate(time.Second),
	}
}

// Validate checks that r is internally consistent: a valid name, a supported
// scheme, well-formed keys for that scheme, a public key that belongs to the
// private key and a matching key identifier.
func (r Record) Validate() error {
	if err := CheckKeyName(r.Name); err != nil {
		return err
	}
	p, err := scheme.For(r.Scheme)
	if err != nil {
		return sigerr.Wrap(sigerr.KindInvalidKey, err, "key %q", r.Name)
	}
	if err := p.ValidatePublicKey(r.PublicKey); err != nil {
		return sigerr.Wrap(sigerr.KindInvalidKey, err, "key %q", r.Name)
	}
	derived, err := p.PublicKey(r.PrivateKey)
	if err != nil {
		return sigerr.Wrap(sigerr.KindInvalidKey, err, "key %q", r.Name)
	}
	if !bytes.Equal(derived, r.PublicKey) {
		return sigerr.New(sigerr.KindInvalidKey, "key %q: public key does not match private key", r.Name)
	}
	if !cidutil.MatchesKey(r.KeyID, r.PublicKey) {
		return sigerr.New(sigerr.KindInvalidKey, "key %q: key id %q does not match public key", r.Name, r.KeyID)
	}
	return nil
}

func (r Record) Identity() Identity {
	return Identity{Name: r.Name, Scheme: r.Scheme, KeyID: r.KeyID, CreatedAt: r.CreatedAt}
}

// Clone returns a deep copy of r.
func (r Record) Clone() Record {
	r.PublicKey = bytes.Clone(r.PublicKey)
	r.PrivateKey = bytes.Clone(r.PrivateKey)
	return r
}

// Wipe zeroes the private key material in place.
func (r *Record) Wipe() {
	clear(r.PrivateKey)
}

const recordVersion = 1

// recordFile is the on-disk JSON form of a Record.
type recordFile struct {
	Version    int           `json:"version"`
	Name       string        `json:"name"`
	Scheme     scheme.Scheme `json:"scheme"`
	KeyID      string        `json:"key_id"`
	CreatedAt  time.Time     `json:"created_at"`
	PublicKey  string        `json:"public_key"`
	PrivateKey string        `json:"private_key,omitempty"`
}

func encodeRecord(r Record) ([]byte, error) {
	data, err := json.MarshalIndent(recordFile{
		Version:    recordVersion,
		Name:       r.Name,
		Scheme:     r.Scheme,
		KeyID:      r.KeyID,
		CreatedAt:  r.CreatedAt.UTC(),
		PublicKey:  hex.EncodeToString(r.PublicKey),
		PrivateKey: hex.EncodeToString(r.PrivateKey),
	}, "", "  ")
	if err != nil {
		return nil, sigerr.Wrap(sigerr.KindStorage, err, "encode key %q", r.Name)
	}
	return append(data, '\n'), nil
}

func decodeRecord(data []byte) (Record, error) {
	var f recordFile
	if err := json.Unmarshal(data, &f); err != nil {
		return Record{}, sigerr.Wrap(sigerr.KindInvalidKey, err, "decode key record")
	}
	if f.Version != recordVersion {
		return Record{}, sigerr.New(sigerr.KindInvalidKey, "unsupported key record version %d", f.Version)
	}
	pub, err := hex.DecodeString(f.PublicKey)
	if err != nil {
		return Record{}, sigerr.Wrap(sigerr.KindInvalidKey, err, "key %q: public key", f.Name)
	}
	priv, err := hex.DecodeString(f.PrivateKey)
	if err != nil {
		return Record{}, sigerr.Wrap(sigerr.KindInvalidKey, err, "key %q: private key", f.Name)
	}
	return Record{
		Name:       f.Name,
		Scheme:     f.Scheme,
		PublicKey:  pub,
		PrivateKey: priv,
		KeyID:      f.KeyID,
		CreatedAt:  f.CreatedAt,
	}, nil
}

// decodeIdentity reads only the public fields of a record file.
func decodeIdentity(data []byte) (Identity, error) {
	var f struct {
		Version   int           `json:"version"`
		Name      string        `json:"name"`
		Scheme    scheme.Scheme `json:"scheme"`
		KeyID     string        `json:"key_id"`
		CreatedAt time.Time     `json:"created_at"`
	}
	if err := json.Unmarshal(data, &f); err != nil {
		return Identity{}, sigerr.Wrap(sigerr.KindInvalidKey, err, "decode key record")
	}
	if f.Version != recordVersion {
		return Identity{}, sigerr.New(sigerr.KindInvalidKey, "unsupported key record version %d", f.Version)
	}
	return Identity{Name: f.Name, Scheme: f.Scheme, KeyID: f.KeyID, CreatedAt: f.CreatedAt}, nil
}
