package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/gema-platform/live-classroom/config"
)

const recordTTL = 24 * time.Hour

// Store keeps room presence and session records in redis. Rooms themselves
// are implicit; the peer sets are the only shared record of membership.
type Store struct {
	rdb *redis.Client
}

func NewStore(cfg config.RedisConfig) (*Store, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%s", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return &Store{rdb: rdb}, nil
}

func (s *Store) Close() error {
	return s.rdb.Close()
}

func (s *Store) AddPeer(ctx context.Context, room, peerID string) error {
	key := "room:" + room + ":peers"
	if err := s.rdb.SAdd(ctx, key, peerID).Err(); err != nil {
		return err
	}
	return s.rdb.Expire(ctx, key, recordTTL).Err()
}

func (s *Store) RemovePeer(ctx context.Context, room, peerID string) error {
	return s.rdb.SRem(ctx, "room:"+room+":peers", peerID).Err()
}

func (s *Store) PeerCount(ctx context.Context, room string) (int, error) {
	n, err := s.rdb.SCard(ctx, "room:"+room+":peers").Result()
	return int(n), err
}

// SessionRecord is the stored state of one live class session.
type SessionRecord struct {
	ID           string     `json:"id"`
	ClassroomID  string     `json:"classroomId"`
	StartedAt    time.Time  `json:"startedAt"`
	EndedAt      *time.Time `json:"endedAt,omitempty"`
	RecordingURL string     `json:"recordingUrl,omitempty"`
}

func sessionKey(classroomID, sessionID string) string {
	return "classroom:" + classroomID + ":session:" + sessionID
}

func (s *Store) SaveSession(ctx context.Context, rec *SessionRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	return s.rdb.Set(ctx, sessionKey(rec.ClassroomID, rec.ID), data, recordTTL).Err()
}

func (s *Store) GetSession(ctx context.Context, classroomID, sessionID string) (*SessionRecord, error) {
	data, err := s.rdb.Get(ctx, sessionKey(classroomID, sessionID)).Result()
	if err != nil {
		return nil, err
	}
	var rec SessionRecord
	if err := json.Unmarshal([]byte(data), &rec); err != nil {
		return nil, fmt.Errorf("parse session record: %w", err)
	}
	return &rec, nil
}
