package keys

import (
	"context"
	"iter"
)

// Store is a keyed collection of Records.
//
// Insert fails with KindDuplicateName if the name is taken and never
// replaces an existing record. Get fails with KindNotFound for an unknown
// name. List yields identities in ascending name order; an error is yielded
// in place of an entry that could not be read, and iteration may continue.
//
// Implementations must be safe for concurrent use; concurrent Inserts of
// the same name succeed for exactly one caller.
type Store interface {
	Insert(ctx context.Context, rec Record) error
	Get(ctx context.Context, name string) (Record, error)
	List(ctx context.Context) iter.Seq2[Identity, error]
}
