package firestore

import (
	"context"
	"errors"
	"fmt"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
)

// Decode reads a snapshot into a typed document struct.
func Decode[T any](snap *firestore.DocumentSnapshot) (T, error) {
	var target T
	if err := snap.DataTo(&target); err != nil {
		return target, fmt.Errorf("firestore: decode %s: %w", snap.Ref.ID, err)
	}
	return target, nil
}

// GetTx reads and decodes a document inside a transaction. found is false when the document is
// absent; any other error is wrapped.
func GetTx[T any](tx *firestore.Transaction, ref *firestore.DocumentRef, op string) (value T, found bool, err error) {
	snap, err := tx.Get(ref)
	if err != nil {
		if IsNotFound(err) {
			return value, false, nil
		}
		return value, false, WrapError(op, err)
	}
	value, err = Decode[T](snap)
	return value, err == nil, err
}

// Documents runs query and returns every snapshot, stopping at the first iterator error.
func Documents(ctx context.Context, query firestore.Query, op string) ([]*firestore.DocumentSnapshot, error) {
	iter := query.Documents(ctx)
	defer iter.Stop()

	var out []*firestore.DocumentSnapshot
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			return out, nil
		}
		if err != nil {
			return nil, WrapError(op, err)
		}
		out = append(out, snap)
	}
}
