// README: Redis-backed session store for assistant conversations.
package assistant

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const sessionKeyPrefix = "assistant:session:%s"

type Store struct {
	redis *redis.Client
	ttl   time.Duration
}

func NewStore(rdb *redis.Client, ttl time.Duration) *Store {
	return &Store{redis: rdb, ttl: ttl}
}

func sessionKey(id string) string {
	return fmt.Sprintf(sessionKeyPrefix, id)
}

// Get loads a session, returning an empty one when the key is absent or
// expired.
func (s *Store) Get(ctx context.Context, id string) (*Session, error) {
	val, err := s.redis.Get(ctx, sessionKey(id)).Result()
	if errors.Is(err, redis.Nil) {
		return &Session{ID: id}, nil
	}
	if err != nil {
		return nil, err
	}
	var sess Session
	if err := json.Unmarshal([]byte(val), &sess); err != nil {
		// A corrupt record is dropped rather than wedging the conversation.
		return &Session{ID: id}, nil
	}
	return &sess, nil
}

func (s *Store) Save(ctx context.Context, sess *Session) error {
	sess.UpdatedAt = time.Now()
	if len(sess.Turns) > maxTurns {
		sess.Turns = sess.Turns[len(sess.Turns)-maxTurns:]
	}
	raw, err := json.Marshal(sess)
	if err != nil {
		return err
	}
	return s.redis.Set(ctx, sessionKey(sess.ID), raw, s.ttl).Err()
}
