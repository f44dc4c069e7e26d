package idempotency

import (
	"context"
	"errors"
	"time"

	"cloud.google.com/go/firestore"

	pfirestore "github.com/tryathome/orderflow/internal/platform/firestore"
)

const (
	recordsCollection = "idempotency_keys"
	seenCollection    = "processed_events"
)

// FirestoreStore persists records in Firestore. Expired documents are removed by CleanupExpired and
// can also be covered by a Firestore TTL policy on expiresAt.
type FirestoreStore struct {
	provider *pfirestore.Provider
}

// NewFirestoreStore constructs a store on the shared provider.
func NewFirestoreStore(provider *pfirestore.Provider) *FirestoreStore {
	return &FirestoreStore{provider: provider}
}

type recordDocument struct {
	Key             string              `firestore:"key"`
	Fingerprint     string              `firestore:"fingerprint"`
	Status          string              `firestore:"status"`
	ResponseStatus  int                 `firestore:"responseStatus"`
	ResponseHeaders map[string][]string `firestore:"responseHeaders"`
	ResponseBody    []byte              `firestore:"responseBody"`
	CreatedAt       time.Time           `firestore:"createdAt"`
	ExpiresAt       time.Time           `firestore:"expiresAt"`
}

func toDocument(r Record) recordDocument {
	return recordDocument{
		Key:             r.Key,
		Fingerprint:     r.Fingerprint,
		Status:          string(r.Status),
		ResponseStatus:  r.ResponseStatus,
		ResponseHeaders: r.ResponseHeaders,
		ResponseBody:    r.ResponseBody,
		CreatedAt:       r.CreatedAt,
		ExpiresAt:       r.ExpiresAt,
	}
}

func (d recordDocument) record() Record {
	return Record{
		Key:             d.Key,
		Fingerprint:     d.Fingerprint,
		Status:          Status(d.Status),
		ResponseStatus:  d.ResponseStatus,
		ResponseHeaders: d.ResponseHeaders,
		ResponseBody:    d.ResponseBody,
		CreatedAt:       d.CreatedAt,
		ExpiresAt:       d.ExpiresAt,
	}
}

func (s *FirestoreStore) doc(ctx context.Context, collection, id string) (*firestore.DocumentRef, error) {
	coll, err := s.provider.Collection(ctx, collection)
	if err != nil {
		return nil, err
	}
	return coll.Doc(id), nil
}

func (s *FirestoreStore) Reserve(ctx context.Context, key, fingerprint string, now time.Time, ttl time.Duration) (Reservation, error) {
	ref, err := s.doc(ctx, recordsCollection, documentID(key))
	if err != nil {
		return Reservation{}, err
	}
	now = now.UTC()
	var result Reservation
	err = s.provider.RunTransaction(ctx, func(_ context.Context, tx *firestore.Transaction) error {
		existing, found, err := pfirestore.GetTx[recordDocument](tx, ref, "idempotency.reserve")
		if err != nil {
			return err
		}
		if found && now.Before(existing.ExpiresAt) {
			result, err = reservationFor(existing.record(), fingerprint)
			return err
		}
		record := pendingRecord(key, fingerprint, now, effectiveTTL(ttl))
		result = Reservation{State: ReservationStateNew, Record: record}
		return tx.Set(ref, toDocument(record))
	})
	if err != nil {
		return Reservation{}, err
	}
	return result, nil
}

func (s *FirestoreStore) SaveResponse(ctx context.Context, key, fingerprint string, resp Response, now time.Time, ttl time.Duration) error {
	ref, err := s.doc(ctx, recordsCollection, documentID(key))
	if err != nil {
		return err
	}
	record := completedRecord(key, fingerprint, resp, now.UTC(), effectiveTTL(ttl))
	return s.provider.RunTransaction(ctx, func(_ context.Context, tx *firestore.Transaction) error {
		existing, found, err := pfirestore.GetTx[recordDocument](tx, ref, "idempotency.save")
		if err != nil {
			return err
		}
		if found && existing.Fingerprint != fingerprint {
			return ErrFingerprintMismatch
		}
		return tx.Set(ref, toDocument(record))
	})
}

func (s *FirestoreStore) Release(ctx context.Context, key string) error {
	ref, err := s.doc(ctx, recordsCollection, documentID(key))
	if err != nil {
		return err
	}
	if _, err := ref.Delete(ctx); err != nil && !pfirestore.IsNotFound(err) {
		return pfirestore.WrapError("idempotency.release", err)
	}
	return nil
}

func (s *FirestoreStore) CleanupExpired(ctx context.Context, now time.Time, limit int) (int, error) {
	if limit <= 0 {
		limit = 100
	}
	coll, err := s.provider.Collection(ctx, recordsCollection)
	if err != nil {
		return 0, err
	}
	docs, err := pfirestore.Documents(ctx, coll.Where("expiresAt", "<=", now.UTC()).Limit(limit), "idempotency.cleanup")
	if err != nil {
		return 0, err
	}
	client, err := s.provider.Client(ctx)
	if err != nil {
		return 0, err
	}
	writer := client.BulkWriter(ctx)
	for _, doc := range docs {
		if _, err := writer.Delete(doc.Ref); err != nil {
			writer.End()
			return 0, pfirestore.WrapError("idempotency.cleanup", err)
		}
	}
	writer.End()
	return len(docs), nil
}

type seenDocument struct {
	Scope     string    `firestore:"scope"`
	ID        string    `firestore:"id"`
	ExpiresAt time.Time `firestore:"expiresAt"`
}

func (s *FirestoreStore) FirstSeen(ctx context.Context, scope, id string, now time.Time, ttl time.Duration) (bool, error) {
	ref, err := s.doc(ctx, seenCollection, documentID(scope+"/"+id))
	if err != nil {
		return false, err
	}
	_, err = ref.Create(ctx, seenDocument{Scope: scope, ID: id, ExpiresAt: now.UTC().Add(effectiveTTL(ttl))})
	if err == nil {
		return true, nil
	}
	var fsErr *pfirestore.Error
	if wrapped := pfirestore.WrapError("idempotency.first_seen", err); errors.As(wrapped, &fsErr) && fsErr.IsConflict() {
		return false, nil
	}
	return false, pfirestore.WrapError("idempotency.first_seen", err)
}

func (s *FirestoreStore) Forget(ctx context.Context, scope, id string) error {
	ref, err := s.doc(ctx, seenCollection, documentID(scope+"/"+id))
	if err != nil {
		return err
	}
	if _, err := ref.Delete(ctx); err != nil {
		return pfirestore.WrapError("idempotency.forget", err)
	}
	return nil
}
