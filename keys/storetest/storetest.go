// Package storetest is a conformance suite for keys.Store implementations.
package storetest

import (
	"bytes"
	"context"
	"crypto/sha256"
	"fmt"
	"sync"
	"testing"
	"time"

	"sigtool.dev/sigtool/keys"
	"sigtool.dev/sigtool/scheme"
	"sigtool.dev/sigtool/sigerr"
)

// NewStore constructs a fresh, empty store for a test.
// The returned store MUST be isolated from other tests.
type NewStore func(t *testing.T) keys.Store

// NewRecord returns a valid record for name, derived deterministically from
// the name so repeated calls yield identical keys.
func NewRecord(t testing.TB, name string, s scheme.Scheme) keys.Record {
	t.Helper()
	seed := sha256.Sum256([]byte("storetest/" + s.String() + "/" + name))
	r, err := scheme.SeedReader(seed[:])
	if err != nil {
		t.Fatalf("SeedReader failed: %v", err)
	}
	pub, priv, err := scheme.MustFor(s).Generate(r)
	if err != nil {
		t.Fatalf("Generate(%s) failed: %v", s, err)
	}
	return keys.NewRecord(name, s, pub, priv, time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC))
}

func Run(t *testing.T, newStore NewStore) {
	t.Helper()
	ctx := context.Background()

	t.Run("InsertGetRoundTrip", func(t *testing.T) {
		st := newStore(t)
		for _, s := range scheme.All {
			want := NewRecord(t, "k-"+s.String(), s)
			if err := st.Insert(ctx, want); err != nil {
				t.Fatalf("Insert(%s) failed: %v", s, err)
			}
			got, err := st.Get(ctx, want.Name)
			if err != nil {
				t.Fatalf("Get(%s) failed: %v", s, err)
			}
			if got.Name != want.Name || got.Scheme != want.Scheme || got.KeyID != want.KeyID {
				t.Fatalf("Get returned %+v, want %+v", got.Identity(), want.Identity())
			}
			if !bytes.Equal(got.PublicKey, want.PublicKey) || !bytes.Equal(got.PrivateKey, want.PrivateKey) {
				t.Fatalf("Get(%s) key bytes mismatch", s)
			}
			if !got.CreatedAt.Equal(want.CreatedAt) {
				t.Fatalf("CreatedAt mismatch: got %s want %s", got.CreatedAt, want.CreatedAt)
			}
		}
	})

	t.Run("GetReturnsCopy", func(t *testing.T) {
		st := newStore(t)
		rec := NewRecord(t, "copy", scheme.ECDSA)
		if err := st.Insert(ctx, rec); err != nil {
			t.Fatalf("Insert failed: %v", err)
		}
		rec.Wipe()
		got, err := st.Get(ctx, "copy")
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		got.Wipe()
		again, err := st.Get(ctx, "copy")
		if err != nil {
			t.Fatalf("Get after caller wipe failed: %v", err)
		}
		if err := again.Validate(); err != nil {
			t.Fatalf("stored record changed through caller slices: %v", err)
		}
	})

	t.Run("DuplicateNameRejected", func(t *testing.T) {
		st := newStore(t)
		first := NewRecord(t, "dup", scheme.ECDSA)
		if err := st.Insert(ctx, first); err != nil {
			t.Fatalf("Insert(1) failed: %v", err)
		}
		second := NewRecord(t, "dup", scheme.BLS)
		err := st.Insert(ctx, second)
		if !sigerr.IsKind(err, sigerr.KindDuplicateName) {
			t.Fatalf("Insert(2): got err=%v want DuplicateName", err)
		}
		got, err := st.Get(ctx, "dup")
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if got.Scheme != scheme.ECDSA || !bytes.Equal(got.PublicKey, first.PublicKey) {
			t.Fatalf("duplicate insert replaced the existing record")
		}
	})

	t.Run("NotFound", func(t *testing.T) {
		st := newStore(t)
		_, err := st.Get(ctx, "missing")
		if !sigerr.IsKind(err, sigerr.KindNotFound) {
			t.Fatalf("Get missing: got err=%v want NotFound", err)
		}
	})

	t.Run("RejectInvalidRecords", func(t *testing.T) {
		st := newStore(t)
		good := NewRecord(t, "good", scheme.BLS)

		badName := good.Clone()
		badName.Name = "../escape"
		if err := st.Insert(ctx, badName); !sigerr.IsKind(err, sigerr.KindUsage) {
			t.Fatalf("Insert bad name: got err=%v want Usage", err)
		}

		mismatched := good.Clone()
		mismatched.PublicKey = NewRecord(t, "other", scheme.BLS).PublicKey
		if err := st.Insert(ctx, mismatched); !sigerr.IsKind(err, sigerr.KindInvalidKey) {
			t.Fatalf("Insert mismatched keys: got err=%v want InvalidKey", err)
		}

		wrongScheme := good.Clone()
		wrongScheme.Scheme = scheme.ECDSA
		if err := st.Insert(ctx, wrongScheme); !sigerr.IsKind(err, sigerr.KindInvalidKey) {
			t.Fatalf("Insert wrong scheme: got err=%v want InvalidKey", err)
		}

		if _, err := st.Get(ctx, "good"); !sigerr.IsKind(err, sigerr.KindNotFound) {
			t.Fatalf("rejected record became visible: err=%v", err)
		}
	})

	t.Run("ListSortedIdentities", func(t *testing.T) {
		st := newStore(t)
		for _, name := range []string{"b", "a-b", "a", "Z", "a_b"} {
			if err := st.Insert(ctx, NewRecord(t, name, scheme.ECDSA)); err != nil {
				t.Fatalf("Insert(%s) failed: %v", name, err)
			}
		}
		var got []string
		for id, err := range st.List(ctx) {
			if err != nil {
				t.Fatalf("List yielded error: %v", err)
			}
			if id.KeyID == "" || id.Scheme != scheme.ECDSA {
				t.Fatalf("List yielded incomplete identity %+v", id)
			}
			got = append(got, id.Name)
		}
		want := []string{"Z", "a", "a-b", "a_b", "b"}
		if fmt.Sprint(got) != fmt.Sprint(want) {
			t.Fatalf("List order: got %v want %v", got, want)
		}
	})

	t.Run("ListEmptyAndEarlyStop", func(t *testing.T) {
		st := newStore(t)
		for range st.List(ctx) {
			t.Fatalf("empty store listed an entry")
		}
		for _, name := range []string{"x", "y", "z"} {
			if err := st.Insert(ctx, NewRecord(t, name, scheme.BLS)); err != nil {
				t.Fatalf("Insert(%s) failed: %v", name, err)
			}
		}
		n := 0
		for range st.List(ctx) {
			n++
			if n == 2 {
				break
			}
		}
		if n != 2 {
			t.Fatalf("early stop: got %d entries", n)
		}
	})

	t.Run("ConcurrentInsertSameName", func(t *testing.T) {
		st := newStore(t)
		const workers = 8
		recs := make([]keys.Record, workers)
		for i := range recs {
			recs[i] = NewRecord(t, "race", scheme.All[i%len(scheme.All)])
		}
		var wg sync.WaitGroup
		errs := make([]error, workers)
		for i := range workers {
			wg.Add(1)
			go func() {
				defer wg.Done()
				errs[i] = st.Insert(ctx, recs[i])
			}()
		}
		wg.Wait()

		ok := 0
		for i, err := range errs {
			switch {
			case err == nil:
				ok++
			case sigerr.IsKind(err, sigerr.KindDuplicateName):
			default:
				t.Fatalf("worker %d: unexpected error %v", i, err)
			}
		}
		if ok != 1 {
			t.Fatalf("expected exactly one successful insert, got %d", ok)
		}
		if _, err := st.Get(ctx, "race"); err != nil {
			t.Fatalf("Get after race failed: %v", err)
		}
	})
}
