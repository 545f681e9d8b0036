package keys

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sigtool.dev/sigtool/scheme"
	"sigtool.dev/sigtool/sigerr"
)

func TestCheckKeyName(t *testing.T) {
	for _, ok := range []string{"k1", "A_b-9", strings.Repeat("x", MaxNameLength)} {
		assert.NoError(t, CheckKeyName(ok), ok)
	}
	for _, bad := range []string{"", "a b", "../k", "k.key", "ключ", strings.Repeat("x", MaxNameLength+1)} {
		assert.True(t, sigerr.IsKind(CheckKeyName(bad), sigerr.KindUsage), "%q", bad)
	}
}

func newTestRecord(t *testing.T, s scheme.Scheme) Record {
	t.Helper()
	r, err := scheme.SeedReader(make([]byte, scheme.SeedSize))
	require.NoError(t, err)
	pub, priv, err := scheme.MustFor(s).Generate(r)
	require.NoError(t, err)
	return NewRecord("k1", s, pub, priv, time.Date(2024, 1, 2, 3, 4, 5, 600, time.FixedZone("x", 3600)))
}

func TestRecordEncodingRoundTrip(t *testing.T) {
	for _, s := range scheme.All {
		rec := newTestRecord(t, s)
		require.NoError(t, rec.Validate())
		assert.Equal(t, time.UTC, rec.CreatedAt.Location())
		assert.Zero(t, rec.CreatedAt.Nanosecond())

		data, err := encodeRecord(rec)
		require.NoError(t, err)
		assert.Contains(t, string(data), `"scheme": "`+s.String()+`"`)

		got, err := decodeRecord(data)
		require.NoError(t, err)
		assert.Equal(t, rec, got)

		id, err := decodeIdentity(data)
		require.NoError(t, err)
		assert.Equal(t, rec.Identity(), id)
	}
}

func TestDecodeRecordRejects(t *testing.T) {
	for _, data := range []string{
		`{`,
		`{"version":2,"name":"k"}`,
		`{"version":1,"name":"k","scheme":"rsa"}`,
		`{"version":1,"name":"k","scheme":"ecdsa","public_key":"zz"}`,
	} {
		_, err := decodeRecord([]byte(data))
		assert.True(t, sigerr.IsKind(err, sigerr.KindInvalidKey), "%s: %v", data, err)
	}
}

func TestRecordValidateKeyID(t *testing.T) {
	rec := newTestRecord(t, scheme.ECDSA)
	rec.KeyID = "bafkqaaa"
	assert.True(t, sigerr.IsKind(rec.Validate(), sigerr.KindInvalidKey))
}

func TestRecordWipeAndClone(t *testing.T) {
	rec := newTestRecord(t, scheme.BLS)
	c := rec.Clone()
	rec.Wipe()
	assert.Equal(t, make([]byte, len(rec.PrivateKey)), rec.PrivateKey)
	assert.NoError(t, c.Validate())
}
