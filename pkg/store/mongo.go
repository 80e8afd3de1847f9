package store

import (
	"bytes"
	"context"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/gridfs"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/go-go-golems/parley/pkg/conversation"
)

// MongoStore persists conversations as single documents with their embedded
// interaction log, one document per conversation.
type MongoStore struct {
	collection *mongo.Collection
}

var _ ConversationStore = (*MongoStore)(nil)

func NewMongoStore(db *mongo.Database, collectionName string) *MongoStore {
	if collectionName == "" {
		collectionName = "conversations"
	}
	return &MongoStore{
		collection: db.Collection(collectionName),
	}
}

func (s *MongoStore) Save(ctx context.Context, c *conversation.Conversation) error {
	_, err := s.collection.ReplaceOne(ctx,
		bson.M{"_id": c.ID},
		c,
		options.Replace().SetUpsert(true),
	)
	return errors.Wrap(err, "failed to save conversation")
}

func (s *MongoStore) FindActive(ctx context.Context) (*conversation.Conversation, error) {
	res := s.collection.FindOne(ctx,
		bson.M{"closedAt": bson.M{"$exists": false}},
		options.FindOne().SetSort(bson.D{
			{Key: "openedAt", Value: -1},
			{Key: "_id", Value: -1},
		}),
	)

	var c conversation.Conversation
	err := res.Decode(&c)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to load active conversation")
	}
	return &c, nil
}

// GridFSAudioStore keeps interaction audio in a GridFS bucket, with the
// content type recorded in the file metadata.
type GridFSAudioStore struct {
	bucket *gridfs.Bucket
}

var _ AudioStore = (*GridFSAudioStore)(nil)

func NewGridFSAudioStore(db *mongo.Database, bucketName string) (*GridFSAudioStore, error) {
	if bucketName == "" {
		bucketName = "audio"
	}
	bucket, err := gridfs.NewBucket(db, options.GridFSBucket().SetName(bucketName))
	if err != nil {
		return nil, errors.Wrap(err, "failed to open gridfs bucket")
	}
	return &GridFSAudioStore{bucket: bucket}, nil
}

func (s *GridFSAudioStore) Put(_ context.Context, data []byte, contentType string) (conversation.AudioRef, error) {
	id, err := s.bucket.UploadFromStream(
		"audio",
		bytes.NewReader(data),
		options.GridFSUpload().SetMetadata(bson.M{"contentType": contentType}),
	)
	if err != nil {
		return conversation.AudioRef{}, errors.Wrap(err, "failed to store audio")
	}
	return conversation.AudioRef{Key: id.Hex(), ContentType: contentType}, nil
}

func (s *GridFSAudioStore) Get(_ context.Context, ref conversation.AudioRef) ([]byte, error) {
	id, err := primitive.ObjectIDFromHex(ref.Key)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid audio key %s", ref.Key)
	}

	var buf bytes.Buffer
	if _, err := s.bucket.DownloadToStream(id, &buf); err != nil {
		return nil, errors.Wrap(err, "failed to load audio")
	}
	return buf.Bytes(), nil
}
