package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/adhikara/voicewire/domain/entities"
	"github.com/adhikara/voicewire/domain/repositories"
)

type SessionRepository struct {
	collection *mongo.Collection
}

// NewSessionRepository creates a MongoDB-backed session repository.
func NewSessionRepository(db *mongo.Database) repositories.SessionRepository {
	return &SessionRepository{
		collection: db.Collection("conversations"),
	}
}

// Create implements repositories.SessionRepository
func (r *SessionRepository) Create(ctx context.Context, session *entities.ConversationSession) error {
	if session == nil {
		return errors.New("session cannot be nil")
	}
	if err := session.Validate(); err != nil {
		return err
	}

	now := time.Now()
	if session.CreatedAt.IsZero() {
		session.CreatedAt = now
	}
	if session.UpdatedAt.IsZero() {
		session.UpdatedAt = now
	}

	if _, err := r.collection.InsertOne(ctx, session); err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	return nil
}

// GetByID implements repositories.SessionRepository
func (r *SessionRepository) GetByID(ctx context.Context, id string) (*entities.ConversationSession, error) {
	if id == "" {
		return nil, errors.New("session ID cannot be empty")
	}

	var session entities.ConversationSession
	err := r.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&session)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, repositories.ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to get session %s: %w", id, err)
	}

	return &session, nil
}

// GetRecent implements repositories.SessionRepository
func (r *SessionRepository) GetRecent(ctx context.Context, limit int) ([]*entities.ConversationSession, error) {
	opts := options.Find().SetSort(bson.M{"updated_at": -1})
	if limit > 0 {
		opts = opts.SetLimit(int64(limit))
	}

	cursor, err := r.collection.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer cursor.Close(ctx)

	var sessions []*entities.ConversationSession
	if err := cursor.All(ctx, &sessions); err != nil {
		return nil, fmt.Errorf("failed to decode sessions: %w", err)
	}

	return sessions, nil
}

// Update implements repositories.SessionRepository
func (r *SessionRepository) Update(ctx context.Context, session *entities.ConversationSession) error {
	if session == nil {
		return errors.New("session cannot be nil")
	}
	if session.ID == "" {
		return errors.New("session ID cannot be empty")
	}

	update := bson.M{
		"$set": bson.M{
			"title":      session.Title,
			"messages":   session.Messages,
			"created_at": session.CreatedAt,
			"updated_at": session.UpdatedAt,
			"is_active":  session.IsActive,
		},
	}

	result, err := r.collection.UpdateOne(ctx, bson.M{"_id": session.ID}, update)
	if err != nil {
		return fmt.Errorf("failed to update session: %w", err)
	}

	if result.MatchedCount == 0 {
		return repositories.ErrSessionNotFound
	}
	return nil
}

// Delete implements repositories.SessionRepository
func (r *SessionRepository) Delete(ctx context.Context, id string) error {
	if id == "" {
		return errors.New("session ID cannot be empty")
	}

	result, err := r.collection.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	if result.DeletedCount == 0 {
		return repositories.ErrSessionNotFound
	}
	return nil
}
