package mintevents

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoStore implements Store on a MongoDB collection.
// Documents use the camelCase field names the upstream producer writes.
type MongoStore struct {
	coll *mongo.Collection
}

func NewMongoStore(coll *mongo.Collection) *MongoStore {
	return &MongoStore{coll: coll}
}

// Init creates the lookup indexes. taskId is not declared unique because
// producers may already have written duplicate documents; upserts update all
// of them alike.
func (s *MongoStore) Init(ctx context.Context) error {
	_, err := s.coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "taskId", Value: 1}}},
		{Keys: bson.D{{Key: "ack", Value: 1}}},
	})
	if err != nil {
		return fmt.Errorf("failed to create mint event indexes: %w", err)
	}
	return nil
}

func (s *MongoStore) FindPending(ctx context.Context) ([]MintEvent, error) {
	opts := options.Find().SetSort(bson.D{{Key: "_id", Value: 1}})
	cur, err := s.coll.Find(ctx, bson.M{"ack": false}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to query pending mint events: %w", err)
	}

	var events []MintEvent
	if err := cur.All(ctx, &events); err != nil {
		return nil, fmt.Errorf("failed to decode pending mint events: %w", err)
	}
	return events, nil
}

func (s *MongoStore) UpsertByTaskID(ctx context.Context, taskID string, p Patch) error {
	_, err := s.coll.UpdateMany(ctx,
		bson.M{"taskId": taskID},
		mongoUpdate(p),
		options.Update().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert mint event %s: %w", taskID, err)
	}
	return nil
}

func (s *MongoStore) Get(ctx context.Context, taskID string) (MintEvent, error) {
	var ev MintEvent
	err := s.coll.FindOne(ctx, bson.M{"taskId": taskID}).Decode(&ev)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return MintEvent{}, ErrNotFound
		}
		return MintEvent{}, err
	}
	return ev, nil
}

// mongoUpdate renders p as a $set document. ack is only ever set to true;
// a freshly inserted document gets ack=false via $setOnInsert.
func mongoUpdate(p Patch) bson.D {
	set := bson.D{}
	add := func(key string, v any) {
		set = append(set, bson.E{Key: key, Value: v})
	}

	if p.TokenID != nil {
		add("tokenId", *p.TokenID)
	}
	if p.EdenSuccess != nil {
		add("edenSuccess", *p.EdenSuccess)
	}
	if p.ImageURI != nil {
		add("imageUri", *p.ImageURI)
	}
	if p.IPFSURI != nil {
		add("ipfsUri", *p.IPFSURI)
	}
	if p.IPFSImageURI != nil {
		add("ipfsImageUri", *p.IPFSImageURI)
	}
	if p.MetadataURI != nil {
		add("metadataUri", *p.MetadataURI)
	}
	if p.TxSuccess != nil {
		add("txSuccess", *p.TxSuccess)
	}
	if p.TxHash != nil {
		add("txHash", *p.TxHash)
	}
	if p.TxFailureReason != nil {
		add("txFailureReason", *p.TxFailureReason)
	}
	if p.TxAttempts != nil {
		add("txAttempts", *p.TxAttempts)
	}

	update := bson.D{}
	if p.Ack != nil && *p.Ack {
		add("ack", true)
	} else {
		update = append(update, bson.E{Key: "$setOnInsert", Value: bson.D{{Key: "ack", Value: false}}})
	}
	if len(set) > 0 {
		update = append(update, bson.E{Key: "$set", Value: set})
	}
	return update
}
