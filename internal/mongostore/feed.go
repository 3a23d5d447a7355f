package mongostore

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"github.com/lalithlochan/courier/internal/realtime"
)

// ChangeFeed turns the collection's change stream into change signals. It
// sees writes from any client of the collection, not just this service.
// Delete events carry no supplier, so every watcher is signalled for them.
type ChangeFeed struct {
	col    *mongo.Collection
	logger *zap.Logger
}

// NewChangeFeed requires a replica set or sharded cluster.
func NewChangeFeed(col *mongo.Collection, logger *zap.Logger) *ChangeFeed {
	return &ChangeFeed{col: col, logger: logger}
}

var _ realtime.ChangeSource = (*ChangeFeed)(nil)

// watchPipeline matches inserts, updates and replaces for recipientID, plus
// every delete.
func watchPipeline(recipientID string) mongo.Pipeline {
	return mongo.Pipeline{
		{{Key: "$match", Value: bson.M{"$or": bson.A{
			bson.M{"fullDocument.fournisseurId": recipientID},
			bson.M{"operationType": "delete"},
		}}}},
		{{Key: "$project", Value: bson.M{"operationType": 1}}},
	}
}

func (f *ChangeFeed) Watch(ctx context.Context, recipientID string) (<-chan realtime.Change, error) {
	stream, err := f.col.Watch(ctx, watchPipeline(recipientID),
		options.ChangeStream().SetFullDocument(options.UpdateLookup),
	)
	if err != nil {
		return nil, fmt.Errorf("open change stream: %w", err)
	}

	out := make(chan realtime.Change, 1)
	go func() {
		defer close(out)
		defer func() {
			_ = stream.Close(context.Background())
		}()

		for stream.Next(ctx) {
			select {
			case out <- realtime.Change{}:
			default:
			}
		}
		if ctx.Err() != nil {
			return
		}

		err := stream.Err()
		if err == nil {
			err = fmt.Errorf("change stream closed")
		}
		f.logger.Warn("change stream ended", zap.String("supplier_id", recipientID), zap.Error(err))
		select {
		case out <- realtime.Change{Err: err}:
		case <-ctx.Done():
		}
	}()
	return out, nil
}
