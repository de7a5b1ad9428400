package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/dreamerumesh/connecTu-backend/internal/models"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type MongoChatLedger struct {
	coll *mongo.Collection
}

func NewMongoChatLedger(ctx context.Context, db *mongo.Database) (*MongoChatLedger, error) {
	coll := db.Collection("chats")
	_, err := coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "pair_key", Value: 1}},
			Options: options.Index().SetUnique(true).SetName("pair_key_unique"),
		},
		{
			Keys:    bson.D{{Key: "participants", Value: 1}, {Key: "updated_at", Value: -1}},
			Options: options.Index().SetName("participants_updated_idx"),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("create chat indexes: %w", err)
	}
	return &MongoChatLedger{coll: coll}, nil
}

func (r *MongoChatLedger) findOne(ctx context.Context, filter bson.M) (*models.Chat, error) {
	var c models.Chat
	if err := r.coll.FindOne(ctx, filter).Decode(&c); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &c, nil
}

// FindOrCreate inserts first and falls back to the existing row on a
// duplicate pair_key, so concurrent callers always converge on one chat.
func (r *MongoChatLedger) FindOrCreate(ctx context.Context, a, b string) (*models.Chat, bool, error) {
	if a == b {
		return nil, false, ErrSameParticipant
	}
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	at := now()
	c := &models.Chat{
		ID:           newID(),
		Participants: models.SortedPair(a, b),
		PairKey:      models.PairKey(a, b),
		CreatedAt:    at,
		UpdatedAt:    at,
	}
	_, err := r.coll.InsertOne(ctx, c)
	if err == nil {
		return c, true, nil
	}
	if !mongo.IsDuplicateKeyError(err) {
		return nil, false, err
	}
	existing, err := r.findOne(ctx, bson.M{"pair_key": c.PairKey})
	if err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

func (r *MongoChatLedger) Get(ctx context.Context, id string) (*models.Chat, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	return r.findOne(ctx, bson.M{"_id": id})
}

func (r *MongoChatLedger) ListForUser(ctx context.Context, userID string, limit int64) ([]*models.Chat, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	opts := options.Find().SetSort(bson.D{{Key: "updated_at", Value: -1}})
	if limit > 0 {
		opts.SetLimit(limit)
	}
	cur, err := r.coll.Find(ctx, bson.M{"participants": userID}, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	out := []*models.Chat{}
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *MongoChatLedger) ListIDsForUser(ctx context.Context, userID string) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	opts := options.Find().SetProjection(bson.M{"_id": 1})
	cur, err := r.coll.Find(ctx, bson.M{"participants": userID}, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var ids []string
	for cur.Next(ctx) {
		var row struct {
			ID string `bson:"_id"`
		}
		if err := cur.Decode(&row); err != nil {
			return nil, err
		}
		ids = append(ids, row.ID)
	}
	return ids, cur.Err()
}

// SetClearWatermark uses $max so the watermark is replaced, never duplicated,
// and never moves backwards under concurrent clears.
func (r *MongoChatLedger) SetClearWatermark(ctx context.Context, chatID, userID string) (*models.Chat, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	filter := bson.M{"_id": chatID, "participants": userID}
	update := bson.M{"$max": bson.M{"cleared_at." + userID: now()}}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var c models.Chat
	err := r.coll.FindOneAndUpdate(ctx, filter, update, opts).Decode(&c)
	if errors.Is(err, mongo.ErrNoDocuments) {
		if _, gerr := r.findOne(ctx, bson.M{"_id": chatID}); gerr != nil {
			return nil, gerr
		}
		return nil, ErrNotParticipant
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *MongoChatLedger) TouchLastMessage(ctx context.Context, chatID string, snap models.LastMessage) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	filter := bson.M{
		"_id": chatID,
		"$or": bson.A{
			bson.M{"last_message": bson.M{"$exists": false}},
			bson.M{"last_message.time": bson.M{"$lte": snap.Time}},
		},
	}
	update := bson.M{"$set": bson.M{"last_message": snap, "updated_at": snap.Time}}
	_, err := r.coll.UpdateOne(ctx, filter, update)
	return err
}

func (r *MongoChatLedger) RefreshLastMessageText(ctx context.Context, chatID, messageID, text string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	filter := bson.M{"_id": chatID, "last_message.message_id": messageID}
	res, err := r.coll.UpdateOne(ctx, filter, bson.M{"$set": bson.M{"last_message.text": text}})
	if err != nil {
		return false, err
	}
	return res.MatchedCount > 0, nil
}
