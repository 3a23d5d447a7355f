// Package mongostore implements notification.Store on a MongoDB collection
// and exposes the collection's change stream as a realtime.ChangeSource.
package mongostore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"github.com/lalithlochan/courier/internal/notification"
)

// CollectionName is the collection holding one document per notification.
const CollectionName = "notifications"

// Store is a notification.Store backed by MongoDB. Batched mutations run in
// a multi-document transaction unless disabled with WithoutTransactions.
type Store struct {
	col          *mongo.Collection
	logger       *zap.Logger
	now          func() time.Time
	transactions bool
}

// Option configures a Store.
type Option func(*Store)

// WithoutTransactions runs batches as a count check followed by a single
// UpdateMany/DeleteMany. Needed on standalone servers, which reject
// transactions.
func WithoutTransactions() Option {
	return func(s *Store) { s.transactions = false }
}

// WithClock overrides the time source for createdAt and transition stamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New wraps col.
func New(col *mongo.Collection, logger *zap.Logger, opts ...Option) *Store {
	s := &Store{
		col:          col,
		logger:       logger,
		now:          func() time.Time { return time.Now().UTC() },
		transactions: true,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

var _ notification.Store = (*Store)(nil)

// Connect dials uri and verifies connectivity.
func Connect(ctx context.Context, uri, database string, logger *zap.Logger) (*mongo.Database, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("mongo connect: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("mongo ping: %w", err)
	}

	logger.Info("mongodb connection established", zap.String("database", database))
	return client.Database(database), nil
}

// EnsureIndexes creates the indexes the store's queries rely on.
func (s *Store) EnsureIndexes(ctx context.Context) error {
	_, err := s.col.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "fournisseurId", Value: 1}, {Key: "createdAt", Value: -1}, {Key: "_id", Value: -1}}},
		{Keys: bson.D{{Key: "fournisseurId", Value: 1}, {Key: "isRead", Value: 1}}},
		{Keys: bson.D{{Key: "fournisseurId", Value: 1}, {Key: "type", Value: 1}, {Key: "createdAt", Value: -1}}},
		{Keys: bson.D{{Key: "createdAt", Value: 1}}},
		{Keys: bson.D{{Key: "expiresAt", Value: 1}}, Options: options.Index().SetSparse(true)},
	})
	if err != nil {
		return unavailable(err)
	}
	return nil
}

func unavailable(err error) error {
	return fmt.Errorf("%w: %v", notification.ErrStoreUnavailable, err)
}

func (s *Store) Create(ctx context.Context, n *notification.Notification) (string, error) {
	if err := notification.CheckNew(n); err != nil {
		return "", err
	}

	doc := n.Clone()
	doc.ID = uuid.NewString()
	doc.CreatedAt = s.now().Truncate(time.Millisecond)
	if doc.Priority == "" {
		doc.Priority = notification.PriorityLow
	}

	if _, err := s.col.InsertOne(ctx, doc); err != nil {
		s.logger.Error("failed to insert notification",
			zap.String("supplier_id", doc.FournisseurID),
			zap.Error(err),
		)
		return "", unavailable(err)
	}

	n.ID = doc.ID
	n.CreatedAt = doc.CreatedAt
	return doc.ID, nil
}

func (s *Store) Get(ctx context.Context, recipientID, id string) (*notification.Notification, error) {
	var n notification.Notification
	err := s.col.FindOne(ctx, bson.M{"_id": id, "fournisseurId": recipientID}).Decode(&n)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, notification.ErrNotFound
	}
	if err != nil {
		return nil, unavailable(err)
	}
	return &n, nil
}

var newestFirst = bson.D{{Key: "createdAt", Value: -1}, {Key: "_id", Value: -1}}

func (s *Store) find(ctx context.Context, filter bson.M, limit int) ([]*notification.Notification, error) {
	opts := options.Find().SetSort(newestFirst)
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}

	cur, err := s.col.Find(ctx, filter, opts)
	if err != nil {
		return nil, unavailable(err)
	}
	defer func() {
		_ = cur.Close(ctx)
	}()

	list := make([]*notification.Notification, 0)
	if err := cur.All(ctx, &list); err != nil {
		return nil, unavailable(err)
	}
	return list, nil
}

// cursorFilter selects documents strictly after c in newest-first order.
func cursorFilter(c *notification.Cursor) bson.A {
	return bson.A{
		bson.M{"createdAt": bson.M{"$lt": c.CreatedAt}},
		bson.M{"createdAt": c.CreatedAt, "_id": bson.M{"$lt": c.ID}},
	}
}

func (s *Store) ListByRecipient(ctx context.Context, recipientID string, limit int, cursor *notification.Cursor) (notification.Page, error) {
	filter := bson.M{"fournisseurId": recipientID}
	if cursor != nil {
		filter["$or"] = cursorFilter(cursor)
	}

	fetch := 0
	if limit > 0 {
		fetch = limit + 1
	}
	items, err := s.find(ctx, filter, fetch)
	if err != nil {
		return notification.Page{}, err
	}

	var page notification.Page
	if limit > 0 && len(items) > limit {
		page.Items = items[:limit]
		page.Next = notification.CursorAfter(items[limit-1])
	} else {
		page.Items = items
	}
	return page, nil
}

// storeFilter translates f into a server-side query.
func storeFilter(recipientID string, f notification.StoreFilter) bson.M {
	filter := bson.M{"fournisseurId": recipientID}
	if f.Type != "" {
		filter["type"] = f.Type
	}
	if f.IsRead != nil {
		filter["isRead"] = *f.IsRead
	}
	if f.IsArchived != nil {
		filter["isArchived"] = *f.IsArchived
	}
	if f.From != nil || f.To != nil {
		created := bson.M{}
		if f.From != nil {
			created["$gte"] = *f.From
		}
		if f.To != nil {
			created["$lte"] = *f.To
		}
		filter["createdAt"] = created
	}
	return filter
}

func (s *Store) Query(ctx context.Context, recipientID string, f notification.StoreFilter) ([]*notification.Notification, error) {
	return s.find(ctx, storeFilter(recipientID, f), f.Limit)
}

// Search fetches the recipient's partition (optionally one type) and matches
// in memory.
func (s *Store) Search(ctx context.Context, recipientID, term string, t notification.Type) ([]*notification.Notification, error) {
	all, err := s.Query(ctx, recipientID, notification.StoreFilter{Type: t})
	if err != nil {
		return nil, err
	}
	out := make([]*notification.Notification, 0)
	for _, n := range all {
		if notification.MatchesSearch(n, term) {
			out = append(out, n)
		}
	}
	return out, nil
}

// setOnce builds a pipeline update that turns flag on and stamps field only
// if it is not stamped yet.
func setOnce(at time.Time, pairs ...string) mongo.Pipeline {
	set := bson.D{}
	for i := 0; i+1 < len(pairs); i += 2 {
		flag, stamp := pairs[i], pairs[i+1]
		set = append(set,
			bson.E{Key: flag, Value: true},
			bson.E{Key: stamp, Value: bson.M{"$ifNull": bson.A{"$" + stamp, at}}},
		)
	}
	return mongo.Pipeline{{{Key: "$set", Value: set}}}
}

func (s *Store) transition(ctx context.Context, recipientID, id string, pairs ...string) error {
	res, err := s.col.UpdateOne(ctx,
		bson.M{"_id": id, "fournisseurId": recipientID},
		setOnce(s.now(), pairs...),
	)
	if err != nil {
		return unavailable(err)
	}
	if res.MatchedCount == 0 {
		return notification.ErrNotFound
	}
	return nil
}

func (s *Store) MarkRead(ctx context.Context, recipientID, id string) error {
	return s.transition(ctx, recipientID, id, "isRead", "readAt")
}

func (s *Store) MarkArchived(ctx context.Context, recipientID, id string) error {
	return s.transition(ctx, recipientID, id, "isArchived", "archivedAt")
}

func (s *Store) RecordClick(ctx context.Context, recipientID, id string) error {
	return s.transition(ctx, recipientID, id, "clicked", "clickedAt", "actionTaken", "actionTakenAt")
}

func (s *Store) RecordEmailSent(ctx context.Context, recipientID, id string) error {
	return s.transition(ctx, recipientID, id, "emailSent", "emailSentAt")
}

func (s *Store) RecordSMSSent(ctx context.Context, recipientID, id string) error {
	return s.transition(ctx, recipientID, id, "smsSent", "smsSentAt")
}

func (s *Store) MarkManyRead(ctx context.Context, recipientID string, ids []string) error {
	at := s.now()
	return s.batch(ctx, recipientID, ids, func(ctx context.Context, filter bson.M) error {
		_, err := s.col.UpdateMany(ctx, filter, setOnce(at, "isRead", "readAt"))
		return err
	})
}

func (s *Store) MarkAllRead(ctx context.Context, recipientID string) (int64, error) {
	res, err := s.col.UpdateMany(ctx,
		bson.M{"fournisseurId": recipientID, "isRead": false},
		bson.M{"$set": bson.M{"isRead": true, "readAt": s.now()}},
	)
	if err != nil {
		return 0, unavailable(err)
	}
	return res.ModifiedCount, nil
}

func (s *Store) Delete(ctx context.Context, recipientID, id string) error {
	res, err := s.col.DeleteOne(ctx, bson.M{"_id": id, "fournisseurId": recipientID})
	if err != nil {
		return unavailable(err)
	}
	if res.DeletedCount == 0 {
		return notification.ErrNotFound
	}
	return nil
}

func (s *Store) DeleteMany(ctx context.Context, recipientID string, ids []string) error {
	return s.batch(ctx, recipientID, ids, func(ctx context.Context, filter bson.M) error {
		_, err := s.col.DeleteMany(ctx, filter)
		return err
	})
}

// batch checks that every id belongs to recipientID and then applies the
// mutation, all inside one transaction when enabled.
func (s *Store) batch(ctx context.Context, recipientID string, ids []string, apply func(context.Context, bson.M) error) error {
	ids = notification.UniqueIDs(ids)
	if len(ids) == 0 {
		return nil
	}
	filter := bson.M{"_id": bson.M{"$in": ids}, "fournisseurId": recipientID}

	run := func(ctx context.Context) error {
		n, err := s.col.CountDocuments(ctx, filter)
		if err != nil {
			return unavailable(err)
		}
		if n != int64(len(ids)) {
			return notification.ErrPartialBatch
		}
		if err := apply(ctx, filter); err != nil {
			return unavailable(err)
		}
		return nil
	}

	if !s.transactions {
		return run(ctx)
	}

	sess, err := s.col.Database().Client().StartSession()
	if err != nil {
		return unavailable(err)
	}
	defer sess.EndSession(ctx)

	_, err = sess.WithTransaction(ctx, func(sc mongo.SessionContext) (interface{}, error) {
		return nil, run(sc)
	})
	return err
}

func (s *Store) CountUnread(ctx context.Context, recipientID string) (int64, error) {
	n, err := s.col.CountDocuments(ctx, bson.M{"fournisseurId": recipientID, "isRead": false})
	if err != nil {
		return 0, unavailable(err)
	}
	return n, nil
}

func (s *Store) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.col.DeleteMany(ctx, bson.M{"createdAt": bson.M{"$lt": cutoff}})
	if err != nil {
		return 0, unavailable(err)
	}
	return res.DeletedCount, nil
}

func (s *Store) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.col.DeleteMany(ctx, bson.M{"expiresAt": bson.M{"$lte": now}})
	if err != nil {
		return 0, unavailable(err)
	}
	return res.DeletedCount, nil
}
