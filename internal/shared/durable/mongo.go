// Package durable MongoDB 驱动实现
package durable

import (
	"context"
	"fmt"
	"log"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

const mongoDatabase = "helpassist"

// mongoStore MongoDB 实现
type mongoStore struct {
	client        *mongo.Client
	conversations *mongo.Collection
	admins        *mongo.Collection
}

// openMongo 建立 MongoDB 连接
func openMongo(ctx context.Context, uri string) (Store, error) {
	client, err := mongo.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx, nil); err != nil {
		client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	db := client.Database(mongoDatabase)
	log.Printf("[Durable] Connected to MongoDB")
	return &mongoStore{
		client:        client,
		conversations: db.Collection("conversations"),
		admins:        db.Collection("admins"),
	}, nil
}

func (s *mongoStore) ConversationsForAdmin(ctx context.Context, adminID string) ([]string, error) {
	cursor, err := s.conversations.Find(ctx, bson.M{"admin_id": adminID, "status": "open"})
	if err != nil {
		return nil, fmt.Errorf("failed to query conversations for admin: %w", err)
	}
	defer cursor.Close(ctx)

	var ids []string
	for cursor.Next(ctx) {
		var c Conversation
		if err := cursor.Decode(&c); err != nil {
			return nil, err
		}
		ids = append(ids, c.ID)
	}
	return ids, cursor.Err()
}

func (s *mongoStore) AdminForConversation(ctx context.Context, conversationID string) (string, error) {
	var c Conversation
	err := s.conversations.FindOne(ctx, bson.M{"_id": conversationID}).Decode(&c)
	if err == mongo.ErrNoDocuments {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to query conversation owner: %w", err)
	}
	return c.AdminID, nil
}

func (s *mongoStore) OpenConversations(ctx context.Context) ([]Conversation, error) {
	cursor, err := s.conversations.Find(ctx, bson.M{"status": "open"})
	if err != nil {
		return nil, fmt.Errorf("failed to query open conversations: %w", err)
	}
	defer cursor.Close(ctx)

	var convs []Conversation
	if err := cursor.All(ctx, &convs); err != nil {
		return nil, err
	}
	return convs, nil
}

func (s *mongoStore) AdminIDs(ctx context.Context) ([]string, error) {
	cursor, err := s.admins.Find(ctx, bson.M{})
	if err != nil {
		return nil, fmt.Errorf("failed to query admins: %w", err)
	}
	defer cursor.Close(ctx)

	var ids []string
	for cursor.Next(ctx) {
		var doc struct {
			ID string `bson:"_id"`
		}
		if err := cursor.Decode(&doc); err != nil {
			return nil, err
		}
		ids = append(ids, doc.ID)
	}
	return ids, cursor.Err()
}

func (s *mongoStore) AdminByID(ctx context.Context, adminID string) (*Admin, error) {
	var a Admin
	err := s.admins.FindOne(ctx, bson.M{"_id": adminID}).Decode(&a)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query admin: %w", err)
	}
	return &a, nil
}

func (s *mongoStore) Close() error {
	return s.client.Disconnect(context.Background())
}
