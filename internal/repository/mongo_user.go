package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dreamerumesh/connecTu-backend/internal/models"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type MongoUserStore struct {
	coll *mongo.Collection
}

func NewMongoUserStore(ctx context.Context, db *mongo.Database) (*MongoUserStore, error) {
	coll := db.Collection("users")
	_, err := coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "phone", Value: 1}}, Options: options.Index().SetUnique(true).SetName("phone_unique")},
		{Keys: bson.D{{Key: "is_online", Value: 1}}, Options: options.Index().SetName("online_idx")},
	})
	if err != nil {
		return nil, fmt.Errorf("create user indexes: %w", err)
	}
	return &MongoUserStore{coll: coll}, nil
}

func (r *MongoUserStore) Create(ctx context.Context, u *models.User) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if u.ID == "" {
		u.ID = newID()
	}
	at := time.Now().UTC()
	u.CreatedAt, u.UpdatedAt = at, at
	if u.Contacts == nil {
		u.Contacts = []models.Contact{}
	}
	if _, err := r.coll.InsertOne(ctx, u); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return ErrDuplicate
		}
		return err
	}
	return nil
}

func (r *MongoUserStore) findOne(ctx context.Context, filter bson.M) (*models.User, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var u models.User
	if err := r.coll.FindOne(ctx, filter).Decode(&u); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &u, nil
}

func (r *MongoUserStore) GetByID(ctx context.Context, id string) (*models.User, error) {
	return r.findOne(ctx, bson.M{"_id": id})
}

func (r *MongoUserStore) GetByPhone(ctx context.Context, phone string) (*models.User, error) {
	return r.findOne(ctx, bson.M{"phone": phone})
}

func (r *MongoUserStore) find(ctx context.Context, filter bson.M) ([]*models.User, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	cur, err := r.coll.Find(ctx, filter)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	out := []*models.User{}
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *MongoUserStore) FindByPhones(ctx context.Context, phones []string) ([]*models.User, error) {
	return r.find(ctx, bson.M{"phone": bson.M{"$in": phones}})
}

func (r *MongoUserStore) GetMany(ctx context.Context, ids []string) (map[string]*models.User, error) {
	users, err := r.find(ctx, bson.M{"_id": bson.M{"$in": ids}})
	if err != nil {
		return nil, err
	}
	out := make(map[string]*models.User, len(users))
	for _, u := range users {
		out[u.ID] = u
	}
	return out, nil
}

func (r *MongoUserStore) update(ctx context.Context, id string, set bson.M) (*models.User, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	set["updated_at"] = time.Now().UTC()
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	var u models.User
	if err := r.coll.FindOneAndUpdate(ctx, bson.M{"_id": id}, bson.M{"$set": set}, opts).Decode(&u); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &u, nil
}

func (r *MongoUserStore) UpdateProfile(ctx context.Context, id string, upd models.ProfileUpdate) (*models.User, error) {
	set := bson.M{}
	if upd.Name != nil {
		set["name"] = *upd.Name
	}
	if upd.About != nil {
		set["about"] = *upd.About
	}
	if upd.ProfilePic != nil {
		set["profile_pic"] = *upd.ProfilePic
	}
	return r.update(ctx, id, set)
}

func (r *MongoUserStore) UpdateSettings(ctx context.Context, id string, s models.Settings) (*models.User, error) {
	return r.update(ctx, id, bson.M{"settings.read_receipts": s.ReadReceipts})
}

func (r *MongoUserStore) SetPresence(ctx context.Context, id string, online bool, lastSeen *time.Time) (*models.User, error) {
	set := bson.M{"is_online": online}
	if lastSeen != nil {
		set["last_seen"] = *lastSeen
	}
	return r.update(ctx, id, set)
}

func (r *MongoUserStore) SetStatus(ctx context.Context, id string, status models.UserStatus) (*models.User, error) {
	return r.update(ctx, id, bson.M{"status": status})
}

// AddContact pushes the contact only when the phone is not saved yet.
func (r *MongoUserStore) AddContact(ctx context.Context, id string, c models.Contact) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	filter := bson.M{"_id": id, "contacts.phone": bson.M{"$ne": c.Phone}}
	update := bson.M{
		"$push": bson.M{"contacts": c},
		"$set":  bson.M{"updated_at": time.Now().UTC()},
	}
	res, err := r.coll.UpdateOne(ctx, filter, update)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		if _, err := r.GetByID(ctx, id); err != nil {
			return err
		}
		return ErrDuplicate
	}
	return nil
}
