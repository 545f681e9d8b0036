// Package signer is the scheme-agnostic signing service: it resolves key
// names through a keys.Store and dispatches to the matching scheme provider.
package signer

import (
	"context"
	"crypto/rand"
	"io"
	"iter"
	"time"

	"github.com/rs/zerolog"

	"sigtool.dev/sigtool/keys"
	"sigtool.dev/sigtool/scheme"
	"sigtool.dev/sigtool/sigerr"
	"sigtool.dev/sigtool/sigfile"
)

// Service holds no state beyond its store handle and is safe for concurrent
// use.
type Service struct {
	store keys.Store
	rand  io.Reader
	now   func() time.Time
	log   zerolog.Logger
}

type Option func(*Service)

// WithRand sets the entropy source for key generation. The default is
// crypto/rand.Reader.
func WithRand(r io.Reader) Option {
	return func(s *Service) { s.rand = r }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func WithLogger(l zerolog.Logger) Option {
	return func(s *Service) { s.log = l }
}

func New(store keys.Store, opts ...Option) *Service {
	s := &Service{
		store: store,
		rand:  rand.Reader,
		now:   time.Now,
		log:   zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Keygen generates a keypair under sch and stores it as name. The returned
// record carries no private key; the only copy lives in the store.
func (s *Service) Keygen(ctx context.Context, name string, sch scheme.Scheme) (keys.Record, error) {
	if err := keys.CheckKeyName(name); err != nil {
		return keys.Record{}, err
	}
	p, err := scheme.For(sch)
	if err != nil {
		return keys.Record{}, err
	}

	pub, priv, err := p.Generate(s.rand)
	if err != nil {
		s.log.Error().Err(err).Str("key", name).Str("scheme", sch.String()).Msg("key generation failed")
		return keys.Record{}, err
	}
	rec := keys.NewRecord(name, sch, pub, priv, s.now())
	defer rec.Wipe()

	if err := s.store.Insert(ctx, rec); err != nil {
		return keys.Record{}, err
	}
	s.log.Info().Str("key", name).Str("scheme", sch.String()).Str("key_id", rec.KeyID).Msg("key generated")

	out := rec.Clone()
	out.PrivateKey = nil
	return out, nil
}

// Sign signs msg with the named key and tags the result with its scheme.
func (s *Service) Sign(ctx context.Context, name string, msg []byte) (scheme.Signature, error) {
	rec, err := s.store.Get(ctx, name)
	if err != nil {
		return scheme.Signature{}, err
	}
	defer rec.Wipe()
	return s.sign(rec, msg)
}

func (s *Service) sign(rec keys.Record, msg []byte) (scheme.Signature, error) {
	p, err := scheme.For(rec.Scheme)
	if err != nil {
		return scheme.Signature{}, sigerr.Wrap(sigerr.KindInvalidKey, err, "key %q", rec.Name)
	}
	b, err := p.Sign(rec.PrivateKey, msg)
	if err != nil {
		return scheme.Signature{}, sigerr.Wrap(sigerr.KindInvalidKey, err, "sign with key %q", rec.Name)
	}
	s.log.Debug().Str("key", rec.Name).Str("scheme", rec.Scheme.String()).Int("msg_len", len(msg)).Msg("message signed")
	return scheme.Signature{Scheme: rec.Scheme, Bytes: b}, nil
}

// SignEnvelope is Sign returning the signature wrapped with the signing
// key's identity, ready for sigfile.
func (s *Service) SignEnvelope(ctx context.Context, name string, msg []byte) (sigfile.Envelope, error) {
	rec, err := s.store.Get(ctx, name)
	if err != nil {
		return sigfile.Envelope{}, err
	}
	defer rec.Wipe()
	sig, err := s.sign(rec, msg)
	if err != nil {
		return sigfile.Envelope{}, err
	}
	return sigfile.Envelope{
		Signature: sig,
		KeyName:   rec.Name,
		KeyID:     rec.KeyID,
		CreatedAt: s.now().UTC().Truncate(time.Second),
	}, nil
}

// Verify checks sig over msg against the named key. A signature that does
// not match is (false, nil); a signature of another scheme than the key's is
// a KindSchemeMismatch error.
func (s *Service) Verify(ctx context.Context, name string, msg []byte, sig scheme.Signature) (bool, error) {
	rec, err := s.store.Get(ctx, name)
	if err != nil {
		return false, err
	}
	rec.Wipe()

	if !sig.Scheme.Valid() {
		return false, sigerr.New(sigerr.KindMalformedSignature, "signature has unknown scheme %s", sig.Scheme)
	}
	if sig.Scheme != rec.Scheme {
		return false, sigerr.New(sigerr.KindSchemeMismatch,
			"%s signature cannot be checked against %s key %q", sig.Scheme, rec.Scheme, name)
	}
	p, err := scheme.For(rec.Scheme)
	if err != nil {
		return false, sigerr.Wrap(sigerr.KindInvalidKey, err, "key %q", name)
	}
	ok, err := p.Verify(rec.PublicKey, msg, sig.Bytes)
	if err != nil {
		return false, err
	}
	s.log.Debug().Str("key", name).Str("scheme", rec.Scheme.String()).Bool("valid", ok).Msg("signature verified")
	return ok, nil
}

// ListKeys yields the stored key identities in name order.
func (s *Service) ListKeys(ctx context.Context) iter.Seq2[keys.Identity, error] {
	return s.store.List(ctx)
}

// Aggregate combines BLS signatures over the same message into one.
func (s *Service) Aggregate(sigs []scheme.Signature) (scheme.Signature, error) {
	if len(sigs) == 0 {
		return scheme.Signature{}, sigerr.New(sigerr.KindUsage, "no signatures to aggregate")
	}
	raw := make([][]byte, 0, len(sigs))
	for i, sig := range sigs {
		if sig.Scheme != scheme.BLS {
			return scheme.Signature{}, sigerr.New(sigerr.KindSchemeMismatch,
				"signature %d is %s; only bls signatures can be aggregated", i, sig.Scheme)
		}
		raw = append(raw, sig.Bytes)
	}
	agg, err := scheme.AggregateBLS(raw)
	if err != nil {
		return scheme.Signature{}, err
	}
	return scheme.Signature{Scheme: scheme.BLS, Bytes: agg}, nil
}

// VerifyAggregate checks an aggregate signature in which every named key
// signed msg. Every key must be a BLS key and appear once.
func (s *Service) VerifyAggregate(ctx context.Context, names []string, msg []byte, sig scheme.Signature) (bool, error) {
	if len(names) == 0 {
		return false, sigerr.New(sigerr.KindUsage, "no keys given")
	}
	if sig.Scheme != scheme.BLS {
		return false, sigerr.New(sigerr.KindSchemeMismatch, "aggregate signature must be bls, got %s", sig.Scheme)
	}

	seen := make(map[string]bool, len(names))
	pubs := make([][]byte, 0, len(names))
	for _, name := range names {
		if seen[name] {
			return false, sigerr.New(sigerr.KindUsage, "key %q listed more than once", name)
		}
		seen[name] = true

		rec, err := s.store.Get(ctx, name)
		if err != nil {
			return false, err
		}
		rec.Wipe()
		if rec.Scheme != scheme.BLS {
			return false, sigerr.New(sigerr.KindSchemeMismatch, "key %q is %s; aggregate verification needs bls keys", name, rec.Scheme)
		}
		pubs = append(pubs, rec.PublicKey)
	}

	ok, err := scheme.VerifyAggregateBLS(pubs, msg, sig.Bytes)
	if err != nil {
		return false, err
	}
	s.log.Debug().Strs("keys", names).Bool("valid", ok).Msg("aggregate signature verified")
	return ok, nil
}
