package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	// Key prefix for generation sessions
	sessionPrefix = "generation:session:"
	// Key for set of all known session IDs
	sessionIndexKey = "generation:sessions"
	// List of session IDs waiting for the worker
	queueKey = "generation:queue"
	// Key prefix for per-session processing locks
	sessionLockPrefix = "generation:lock:"
	// Key prefix for live previews
	previewPrefix = "preview:"
	// Key prefix for per-session preview version counters
	previewVersionPrefix = "preview_version:"
	// Key prefix for one-time CSRF tokens
	csrfTokenPrefix = "csrf:token:"
)

// releaseLockScript deletes the lock only while the caller still owns it
var releaseLockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// savePreviewScript never replaces a stored preview with an older version
var savePreviewScript = redis.NewScript(`
local current = redis.call("GET", KEYS[1])
if current then
	local stored = cjson.decode(current)["version"]
	if stored and stored >= tonumber(ARGV[2]) then
		return 0
	end
end
redis.call("SET", KEYS[1], ARGV[1], "PX", ARGV[3])
return 1
`)

// RedisStore keeps generation sessions, previews and CSRF tokens
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisStore connects to the Redis instance at redisURL (redis://host:port/db)
func NewRedisStore(redisURL string, ttl time.Duration) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid Redis URL: %w", err)
	}

	client := redis.NewClient(opts)

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return NewRedisStoreWithClient(client, ttl), nil
}

// NewRedisStoreWithClient wraps an existing client
func NewRedisStoreWithClient(client *redis.Client, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	return &RedisStore{
		client: client,
		ttl:    ttl,
	}
}

// SaveSession stores the session and refreshes its TTL
func (s *RedisStore) SaveSession(ctx context.Context, session *Session) error {
	if session.ID == "" {
		return errors.New("session ID is required")
	}

	data, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}

	if err := s.client.Set(ctx, sessionPrefix+session.ID, data, s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to store session: %w", err)
	}

	// Add to index for listing
	if err := s.client.SAdd(ctx, sessionIndexKey, session.ID).Err(); err != nil {
		return fmt.Errorf("failed to index session: %w", err)
	}

	return nil
}

// GetSession returns the session, or nil when it does not exist or expired
func (s *RedisStore) GetSession(ctx context.Context, sessionID string) (*Session, error) {
	data, err := s.client.Get(ctx, sessionPrefix+sessionID).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}

	var session Session
	if err := json.Unmarshal([]byte(data), &session); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session: %w", err)
	}

	return &session, nil
}

// sessionFetchBatch bounds the GETs sent in one pipeline
const sessionFetchBatch = 500

// CountSessionsByStatus tallies live sessions without decoding their plans or HTML
func (s *RedisStore) CountSessionsByStatus(ctx context.Context) (map[SessionStatus]int, error) {
	counts := make(map[SessionStatus]int, len(AllStatuses))
	err := s.eachSession(ctx, func(data string) error {
		var head struct {
			Status SessionStatus `json:"status"`
		}
		if err := json.Unmarshal([]byte(data), &head); err != nil {
			return fmt.Errorf("failed to unmarshal session: %w", err)
		}
		counts[head.Status]++
		return nil
	})
	if err != nil {
		return nil, err
	}
	return counts, nil
}

// eachSession loads indexed sessions in pipelined batches and prunes
// expired ids from the index.
func (s *RedisStore) eachSession(ctx context.Context, fn func(data string) error) error {
	ids, err := s.client.SMembers(ctx, sessionIndexKey).Result()
	if err != nil {
		return fmt.Errorf("failed to get session index: %w", err)
	}

	var expired []interface{}
	for start := 0; start < len(ids); start += sessionFetchBatch {
		batch := ids[start:min(start+sessionFetchBatch, len(ids))]

		cmds := make([]*redis.StringCmd, len(batch))
		_, err := s.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
			for i, id := range batch {
				cmds[i] = pipe.Get(ctx, sessionPrefix+id)
			}
			return nil
		})
		if err != nil && err != redis.Nil {
			return fmt.Errorf("failed to get sessions: %w", err)
		}

		for i, cmd := range cmds {
			data, err := cmd.Result()
			if err == redis.Nil {
				expired = append(expired, batch[i])
				continue
			}
			if err != nil {
				return fmt.Errorf("failed to get session: %w", err)
			}
			if err := fn(data); err != nil {
				return err
			}
		}
	}

	if len(expired) > 0 {
		s.client.SRem(ctx, sessionIndexKey, expired...)
	}
	return nil
}

// EnqueueSession appends a session ID to the work queue
func (s *RedisStore) EnqueueSession(ctx context.Context, sessionID string) error {
	if err := s.client.RPush(ctx, queueKey, sessionID).Err(); err != nil {
		return fmt.Errorf("failed to enqueue session: %w", err)
	}
	return nil
}

// DequeueSession pops the oldest queued session ID; "" when the queue is empty
func (s *RedisStore) DequeueSession(ctx context.Context) (string, error) {
	id, err := s.client.LPop(ctx, queueKey).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to dequeue session: %w", err)
	}
	return id, nil
}

// QueueLength returns the number of sessions waiting
func (s *RedisStore) QueueLength(ctx context.Context) (int64, error) {
	n, err := s.client.LLen(ctx, queueKey).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to get queue length: %w", err)
	}
	return n, nil
}

// AcquireSessionLock takes the processing lock for a session and returns
// the owner token needed to release it. ok is false when another holder
// owns the lock.
func (s *RedisStore) AcquireSessionLock(ctx context.Context, sessionID string, ttl time.Duration) (token string, ok bool, err error) {
	token = uuid.NewString()
	ok, err = s.client.SetNX(ctx, sessionLockPrefix+sessionID, token, ttl).Result()
	if err != nil {
		return "", false, fmt.Errorf("failed to acquire session lock: %w", err)
	}
	if !ok {
		return "", false, nil
	}
	return token, true, nil
}

// ReleaseSessionLock drops the processing lock if token still owns it.
// A lock that expired and was taken by someone else is left alone.
func (s *RedisStore) ReleaseSessionLock(ctx context.Context, sessionID, token string) error {
	if err := releaseLockScript.Run(ctx, s.client, []string{sessionLockPrefix + sessionID}, token).Err(); err != nil {
		return fmt.Errorf("failed to release session lock: %w", err)
	}
	return nil
}

// NextPreviewVersion atomically allocates the next preview version of a session
func (s *RedisStore) NextPreviewVersion(ctx context.Context, sessionID string) (int, error) {
	key := previewVersionPrefix + sessionID

	var incr *redis.IntCmd
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, key)
		pipe.Expire(ctx, key, s.ttl)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to allocate preview version: %w", err)
	}

	return int(incr.Val()), nil
}

// SavePreview stores the preview with the session TTL.
// A preview older than the stored one is dropped, so concurrent writers
// always leave the highest version behind.
func (s *RedisStore) SavePreview(ctx context.Context, preview *Preview) error {
	data, err := json.Marshal(preview)
	if err != nil {
		return fmt.Errorf("failed to marshal preview: %w", err)
	}

	keys := []string{previewPrefix + preview.SessionID}
	if err := savePreviewScript.Run(ctx, s.client, keys, data, preview.Version, s.ttl.Milliseconds()).Err(); err != nil {
		return fmt.Errorf("failed to store preview: %w", err)
	}

	return nil
}

// GetPreview returns the preview, or nil when none exists
func (s *RedisStore) GetPreview(ctx context.Context, sessionID string) (*Preview, error) {
	data, err := s.client.Get(ctx, previewPrefix+sessionID).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get preview: %w", err)
	}

	var preview Preview
	if err := json.Unmarshal([]byte(data), &preview); err != nil {
		return nil, fmt.Errorf("failed to unmarshal preview: %w", err)
	}

	return &preview, nil
}

// StoreCSRFToken stores a one-time CSRF token
func (s *RedisStore) StoreCSRFToken(ctx context.Context, token string, ttl time.Duration) error {
	if err := s.client.Set(ctx, csrfTokenPrefix+token, "1", ttl).Err(); err != nil {
		return fmt.Errorf("failed to store CSRF token: %w", err)
	}
	return nil
}

// ValidateAndConsumeCSRFToken deletes the token and reports whether it existed.
// DEL is atomic, so a token can be consumed only once.
func (s *RedisStore) ValidateAndConsumeCSRFToken(ctx context.Context, token string) (bool, error) {
	if token == "" {
		return false, nil
	}
	n, err := s.client.Del(ctx, csrfTokenPrefix+token).Result()
	if err != nil {
		return false, fmt.Errorf("failed to consume CSRF token: %w", err)
	}
	return n == 1, nil
}

// Close closes the Redis connection
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Health checks Redis connection health
func (s *RedisStore) Health(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
