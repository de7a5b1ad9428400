package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dreamerumesh/connecTu-backend/internal/models"
	"github.com/dreamerumesh/connecTu-backend/internal/visibility"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type MongoMessageStore struct {
	coll *mongo.Collection
}

func NewMongoMessageStore(ctx context.Context, db *mongo.Database) (*MongoMessageStore, error) {
	coll := db.Collection("messages")
	_, err := coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "chat_id", Value: 1}, {Key: "created_at", Value: -1}, {Key: "_id", Value: -1}},
			Options: options.Index().SetName("chat_created_idx"),
		},
		{
			Keys:    bson.D{{Key: "chat_id", Value: 1}, {Key: "receiver_id", Value: 1}, {Key: "status", Value: 1}},
			Options: options.Index().SetName("chat_receiver_status_idx"),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("create message indexes: %w", err)
	}
	return &MongoMessageStore{coll: coll}, nil
}

func (r *MongoMessageStore) Append(ctx context.Context, chatID, sender, receiver, content string, typ models.MessageType) (*models.Message, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	at := now()
	m := &models.Message{
		ID:         newID(),
		ChatID:     chatID,
		SenderID:   sender,
		ReceiverID: receiver,
		Type:       typ,
		Content:    content,
		Status:     models.StatusSent,
		Timestamps: models.Timestamps{SentAt: at},
		DeletedFor: []string{},
		CreatedAt:  at,
		UpdatedAt:  at,
	}
	if _, err := r.coll.InsertOne(ctx, m); err != nil {
		return nil, err
	}
	return m, nil
}

func (r *MongoMessageStore) Get(ctx context.Context, id string) (*models.Message, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var m models.Message
	if err := r.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&m); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &m, nil
}

func (r *MongoMessageStore) findAndUpdate(ctx context.Context, filter bson.M, update interface{}) (*models.Message, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	var m models.Message
	if err := r.coll.FindOneAndUpdate(ctx, filter, update, opts).Decode(&m); err != nil {
		return nil, err
	}
	return &m, nil
}

func (r *MongoMessageStore) Edit(ctx context.Context, id, requester, content string) (*models.Message, error) {
	at := now()
	filter := bson.M{"_id": id, "sender_id": requester, "is_deleted_for_everyone": false}
	update := bson.M{"$set": bson.M{
		"content":    content,
		"is_edited":  true,
		"edited_at":  at,
		"updated_at": at,
	}}
	m, err := r.findAndUpdate(ctx, filter, update)
	if errors.Is(err, mongo.ErrNoDocuments) {
		cur, gerr := r.Get(ctx, id)
		if gerr != nil {
			return nil, gerr
		}
		if cur.SenderID != requester {
			return nil, ErrNotSender
		}
		return nil, ErrMessageDeleted
	}
	return m, err
}

func (r *MongoMessageStore) DeleteForMe(ctx context.Context, id, requester string) (*models.Message, error) {
	filter := bson.M{
		"_id": id,
		"$or": bson.A{bson.M{"sender_id": requester}, bson.M{"receiver_id": requester}},
	}
	update := bson.M{"$addToSet": bson.M{"deleted_for": requester}}
	m, err := r.findAndUpdate(ctx, filter, update)
	if errors.Is(err, mongo.ErrNoDocuments) {
		if _, gerr := r.Get(ctx, id); gerr != nil {
			return nil, gerr
		}
		return nil, ErrNotParticipant
	}
	return m, err
}

func (r *MongoMessageStore) DeleteForEveryone(ctx context.Context, id, requester string) (*models.Message, bool, error) {
	at := now()
	filter := bson.M{"_id": id, "sender_id": requester, "is_deleted_for_everyone": false}
	update := bson.M{"$set": bson.M{
		"is_deleted_for_everyone": true,
		"content":                 models.Tombstone,
		"updated_at":              at,
	}}
	m, err := r.findAndUpdate(ctx, filter, update)
	if errors.Is(err, mongo.ErrNoDocuments) {
		cur, gerr := r.Get(ctx, id)
		if gerr != nil {
			return nil, false, gerr
		}
		if cur.SenderID != requester {
			return nil, false, ErrNotSender
		}
		return cur, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return m, true, nil
}

// advancePipeline moves a message to status and stamps the matching
// timestamp; reaching read also fills delivered_at when it was skipped.
func advancePipeline(status models.MessageStatus, at time.Time) mongo.Pipeline {
	set := bson.D{
		{Key: "status", Value: status},
		{Key: "updated_at", Value: at},
		{Key: "timestamps.delivered_at", Value: bson.M{"$ifNull": bson.A{"$timestamps.delivered_at", at}}},
	}
	if status == models.StatusRead {
		set = append(set, bson.E{Key: "timestamps.read_at", Value: at})
	}
	return mongo.Pipeline{{{Key: "$set", Value: set}}}
}

func (r *MongoMessageStore) AdvanceStatus(ctx context.Context, id string, status models.MessageStatus) (*models.Message, bool, error) {
	below := status.Below()
	if len(below) == 0 {
		m, err := r.Get(ctx, id)
		return m, false, err
	}
	filter := bson.M{"_id": id, "status": bson.M{"$in": below}}
	m, err := r.findAndUpdate(ctx, filter, advancePipeline(status, now()))
	if errors.Is(err, mongo.ErrNoDocuments) {
		cur, gerr := r.Get(ctx, id)
		return cur, false, gerr
	}
	if err != nil {
		return nil, false, err
	}
	return m, true, nil
}

func (r *MongoMessageStore) MarkAllRead(ctx context.Context, chatID, receiver string) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	filter := bson.M{
		"chat_id":     chatID,
		"receiver_id": receiver,
		"status":      bson.M{"$ne": models.StatusRead},
	}
	res, err := r.coll.UpdateMany(ctx, filter, advancePipeline(models.StatusRead, now()))
	if err != nil {
		return 0, err
	}
	return res.ModifiedCount, nil
}

func (r *MongoMessageStore) History(ctx context.Context, chatID string, rule visibility.Rule, page visibility.Page) ([]*models.Message, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	filter := rule.Filter(chatID)
	if !page.Before.IsZero() {
		created, _ := filter["created_at"].(bson.M)
		if created == nil {
			created = bson.M{}
		}
		created["$lt"] = page.Before
		filter["created_at"] = created
	}

	opts := options.Find()
	descending := page.Limit > 0
	if descending {
		opts.SetSort(bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: -1}}).SetLimit(page.Limit)
	} else {
		opts.SetSort(bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}})
	}

	cur, err := r.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	out := []*models.Message{}
	for cur.Next(ctx) {
		var m models.Message
		if err := cur.Decode(&m); err != nil {
			return nil, err
		}
		out = append(out, &m)
	}
	if err := cur.Err(); err != nil {
		return nil, err
	}
	if descending {
		for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
			out[i], out[j] = out[j], out[i]
		}
	}
	return out, nil
}

func (r *MongoMessageStore) LastVisible(ctx context.Context, chatID string, rule visibility.Rule) (*models.Message, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	opts := options.FindOne().SetSort(bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: -1}})
	var m models.Message
	if err := r.coll.FindOne(ctx, rule.Filter(chatID), opts).Decode(&m); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil
		}
		return nil, err
	}
	return &m, nil
}

func (r *MongoMessageStore) CountUnread(ctx context.Context, chatID string, rule visibility.Rule) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	filter := rule.Filter(chatID)
	filter["receiver_id"] = rule.Viewer
	filter["status"] = bson.M{"$ne": models.StatusRead}
	return r.coll.CountDocuments(ctx, filter)
}
