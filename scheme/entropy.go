package scheme

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"strings"

	"golang.org/x/crypto/hkdf"

	"sigtool.dev/sigtool/sigerr"
)

// SeedSize is the required length of a seed passed to SeedReader.
const SeedSize = 32

// entropyAttempts bounds how many times a failing source is retried.
const entropyAttempts = 3

var seedInfo = []byte("sigtool-keygen-v1")

// SeedReader returns a deterministic entropy stream expanded from seed with
// HKDF-SHA256. It is meant for reproducible demo keys and test vectors; the
// stream is exhausted after 8160 bytes.
func SeedReader(seed []byte) (io.Reader, error) {
	if len(seed) != SeedSize {
		return nil, sigerr.New(sigerr.KindUsage, "seed must be %d bytes, got %d", SeedSize, len(seed))
	}
	return hkdf.New(sha256.New, append([]byte(nil), seed...), nil, seedInfo), nil
}

// ParseSeedHex decodes a hex seed, accepting an optional 0x prefix.
func ParseSeedHex(seedHex string) ([]byte, error) {
	seedHex = strings.TrimSpace(seedHex)
	seedHex = strings.TrimPrefix(seedHex, "0x")
	data, err := hex.DecodeString(seedHex)
	if err != nil {
		return nil, sigerr.Wrap(sigerr.KindUsage, err, "invalid seed hex")
	}
	if len(data) != SeedSize {
		return nil, sigerr.New(sigerr.KindUsage, "expected seed length of %d bytes, got %d", SeedSize, len(data))
	}
	return data, nil
}

// readEntropy fills a fresh n-byte buffer from rand. Failed or empty reads
// are retried at most entropyAttempts times before giving up.
func readEntropy(rand io.Reader, n int) ([]byte, error) {
	if rand == nil {
		return nil, sigerr.New(sigerr.KindKeyGeneration, "no entropy source")
	}
	buf := make([]byte, n)
	var (
		filled   int
		failures int
		lastErr  error
	)
	for filled < n && failures < entropyAttempts {
		m, err := rand.Read(buf[filled:])
		filled += m
		if filled >= n {
			return buf, nil
		}
		switch {
		case errors.Is(err, io.EOF):
			lastErr = io.ErrUnexpectedEOF
			failures = entropyAttempts
		case err != nil:
			lastErr = err
			failures++
		case m == 0:
			lastErr = io.ErrNoProgress
			failures++
		}
	}
	if n == 0 {
		return buf, nil
	}
	wipe(buf)
	return nil, sigerr.Wrap(sigerr.KindKeyGeneration, lastErr, "read %d bytes of entropy", n)
}

// limitedSource hands out at most the bytes read by readEntropy, so that
// library key generators cannot block on a misbehaving reader.
type limitedSource struct {
	rand io.Reader
	used int
	max  int
}

func (l *limitedSource) Read(p []byte) (int, error) {
	if l.used+len(p) > l.max {
		return 0, sigerr.New(sigerr.KindKeyGeneration, "entropy budget exhausted")
	}
	b, err := readEntropy(l.rand, len(p))
	if err != nil {
		return 0, err
	}
	l.used += copy(p, b)
	return len(p), nil
}

func wipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
