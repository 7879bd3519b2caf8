package kvstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// FirestoreStore maps each key to a document in a single collection. The
// document carries the serialized value in a "payload" field. Watch rides the
// collection snapshot listener, so changes made by any process surface here.
type FirestoreStore struct {
	client     *firestore.Client
	collection string

	mu       sync.Mutex
	watchers map[int]ChangeHandler
	nextID   int
	cancel   context.CancelFunc
	closed   bool
}

type firestoreDoc struct {
	Payload string `firestore:"payload"`
}

// NewFirestoreStore opens a client for projectID and stores values under the
// given collection (defaults to "carts").
func NewFirestoreStore(ctx context.Context, projectID, collection string) (*FirestoreStore, error) {
	if strings.TrimSpace(projectID) == "" {
		return nil, errors.New("kvstore: firestore project id is required")
	}
	if strings.TrimSpace(collection) == "" {
		collection = "carts"
	}
	client, err := firestore.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("kvstore: firestore client: %w", err)
	}

	listenCtx, cancel := context.WithCancel(context.Background())
	store := &FirestoreStore{
		client:     client,
		collection: collection,
		watchers:   make(map[int]ChangeHandler),
		cancel:     cancel,
	}
	go store.listen(listenCtx)
	return store, nil
}

// Get reads the document for key.
func (s *FirestoreStore) Get(ctx context.Context, key string) (string, bool, error) {
	if s.isClosed() {
		return "", false, ErrClosed
	}
	snap, err := s.client.Collection(s.collection).Doc(key).Get(ctx)
	if status.Code(err) == codes.NotFound {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("kvstore: firestore get: %w", err)
	}
	var doc firestoreDoc
	if err := snap.DataTo(&doc); err != nil {
		return "", false, fmt.Errorf("kvstore: firestore decode: %w", err)
	}
	return doc.Payload, true, nil
}

// Set writes the document for key, replacing any previous payload.
func (s *FirestoreStore) Set(ctx context.Context, key, value string) error {
	if s.isClosed() {
		return ErrClosed
	}
	_, err := s.client.Collection(s.collection).Doc(key).Set(ctx, firestoreDoc{Payload: value})
	if err != nil {
		return fmt.Errorf("kvstore: firestore set: %w", err)
	}
	return nil
}

// Delete removes the document for key. Missing documents are not an error.
func (s *FirestoreStore) Delete(ctx context.Context, key string) error {
	if s.isClosed() {
		return ErrClosed
	}
	_, err := s.client.Collection(s.collection).Doc(key).Delete(ctx)
	if err != nil && status.Code(err) != codes.NotFound {
		return fmt.Errorf("kvstore: firestore delete: %w", err)
	}
	return nil
}

// Watch registers a handler fed from the collection snapshot listener.
func (s *FirestoreStore) Watch(_ context.Context, fn ChangeHandler) (func(), error) {
	if fn == nil {
		return func() {}, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	id := s.nextID
	s.nextID++
	s.watchers[id] = fn
	return func() {
		s.mu.Lock()
		delete(s.watchers, id)
		s.mu.Unlock()
	}, nil
}

// Close stops the listener and releases the client.
func (s *FirestoreStore) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.watchers = make(map[int]ChangeHandler)
	cancel := s.cancel
	s.mu.Unlock()

	cancel()
	return s.client.Close()
}

func (s *FirestoreStore) listen(ctx context.Context) {
	snapshots := s.client.Collection(s.collection).Snapshots(ctx)
	defer snapshots.Stop()
	for {
		qsnap, err := snapshots.Next()
		if err != nil {
			return
		}
		for _, change := range qsnap.Changes {
			key := change.Doc.Ref.ID
			switch change.Kind {
			case firestore.DocumentAdded, firestore.DocumentModified:
				var doc firestoreDoc
				if err := change.Doc.DataTo(&doc); err != nil {
					continue
				}
				s.notify(key, doc.Payload, true)
			case firestore.DocumentRemoved:
				s.notify(key, "", false)
			}
		}
	}
}

func (s *FirestoreStore) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *FirestoreStore) notify(key, value string, ok bool) {
	s.mu.Lock()
	handlers := make([]ChangeHandler, 0, len(s.watchers))
	for _, fn := range s.watchers {
		handlers = append(handlers, fn)
	}
	s.mu.Unlock()
	for _, fn := range handlers {
		fn(key, value, ok)
	}
}
