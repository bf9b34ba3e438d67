package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/jsquire4/tool-forge-sub001/pkg/models"
)

const (
	redisMsgKeyFmt     = "conv:%s:msgs"
	redisActiveSetKey  = "sessions:active"
	redisSessionTTL    = 7 * 24 * time.Hour
	redisHistoryWindow = 500 // hard cap per session list
)

// RedisStore keeps each session as a list of JSON message rows under
// conv:<sid>:msgs, refreshing the TTL on every write. A sessions:active set
// tracks sessions that have not seen the completion marker. Ownership comes
// from the first row of the list.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore wraps an existing client.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func msgKey(sessionID string) string {
	return fmt.Sprintf(redisMsgKeyFmt, sessionID)
}

func (s *RedisStore) PersistMessage(ctx context.Context, msg *models.ConversationMessage) error {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.Stage == "" {
		msg.Stage = models.StageChat
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	raw, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("conversation: encode message: %w", err)
	}

	key := msgKey(msg.SessionID)
	pipe := s.client.TxPipeline()
	pipe.RPush(ctx, key, raw)
	pipe.LTrim(ctx, key, -redisHistoryWindow, -1)
	pipe.Expire(ctx, key, redisSessionTTL)
	if isCompleteMarker(msg.Role, msg.Content) {
		pipe.SRem(ctx, redisActiveSetKey, msg.SessionID)
	} else {
		pipe.SAdd(ctx, redisActiveSetKey, msg.SessionID)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("conversation: persist message: %w", err)
	}
	return nil
}

func (s *RedisStore) GetHistory(ctx context.Context, sessionID string, limit int) ([]models.ConversationMessage, error) {
	if limit <= 0 {
		limit = 25
	}
	raws, err := s.client.LRange(ctx, msgKey(sessionID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("conversation: load history: %w", err)
	}
	var all []models.ConversationMessage
	for _, raw := range raws {
		var m models.ConversationMessage
		if err := json.Unmarshal([]byte(raw), &m); err != nil {
			return nil, fmt.Errorf("conversation: decode message: %w", err)
		}
		if isCompleteMarker(m.Role, m.Content) {
			continue
		}
		all = append(all, m)
	}
	if len(all) > limit {
		all = all[len(all)-limit:]
	}
	return all, nil
}

func (s *RedisStore) ListSessions(ctx context.Context, userID string) ([]SessionSummary, error) {
	var summaries []SessionSummary
	var cursor uint64
	for {
		keys, next, err := s.client.Scan(ctx, cursor, "conv:*:msgs", 100).Result()
		if err != nil {
			return nil, fmt.Errorf("conversation: scan sessions: %w", err)
		}
		for _, key := range keys {
			summary, err := s.summarize(ctx, key, userID)
			if err != nil {
				return nil, err
			}
			if summary != nil {
				summaries = append(summaries, *summary)
			}
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return summaries, nil
}

// summarize builds one listing row if the session belongs to userID.
func (s *RedisStore) summarize(ctx context.Context, key, userID string) (*SessionSummary, error) {
	raws, err := s.client.LRange(ctx, key, 0, -1).Result()
	if err != nil || len(raws) == 0 {
		return nil, err
	}
	var first models.ConversationMessage
	if err := json.Unmarshal([]byte(raws[0]), &first); err != nil {
		return nil, fmt.Errorf("conversation: decode message: %w", err)
	}
	if first.UserID != userID {
		return nil, nil
	}
	summary := &SessionSummary{
		SessionID: first.SessionID,
		AgentID:   first.AgentID,
		FirstAt:   first.CreatedAt,
		LastAt:    first.CreatedAt,
	}
	for _, raw := range raws {
		var m models.ConversationMessage
		if err := json.Unmarshal([]byte(raw), &m); err != nil {
			return nil, fmt.Errorf("conversation: decode message: %w", err)
		}
		if isCompleteMarker(m.Role, m.Content) {
			continue
		}
		summary.MessageCount++
		if m.CreatedAt.After(summary.LastAt) {
			summary.LastAt = m.CreatedAt
		}
	}
	return summary, nil
}

func (s *RedisStore) DeleteSession(ctx context.Context, sessionID, userID string) error {
	owner, err := s.GetSessionUserID(ctx, sessionID)
	if err != nil {
		return err
	}
	if owner != userID {
		return ErrNotOwner
	}
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, msgKey(sessionID))
	pipe.SRem(ctx, redisActiveSetKey, sessionID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("conversation: delete session: %w", err)
	}
	return nil
}

func (s *RedisStore) GetSessionUserID(ctx context.Context, sessionID string) (string, error) {
	raw, err := s.client.LIndex(ctx, msgKey(sessionID), 0).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrSessionNotFound
	}
	if err != nil {
		return "", fmt.Errorf("conversation: read owner: %w", err)
	}
	var first models.ConversationMessage
	if err := json.Unmarshal([]byte(raw), &first); err != nil {
		return "", fmt.Errorf("conversation: decode message: %w", err)
	}
	return first.UserID, nil
}

func (s *RedisStore) GetIncompleteSessions(ctx context.Context) ([]string, error) {
	ids, err := s.client.SMembers(ctx, redisActiveSetKey).Result()
	if err != nil {
		return nil, fmt.Errorf("conversation: list incomplete: %w", err)
	}
	return ids, nil
}

func (s *RedisStore) Close() error {
	return nil
}

var _ Store = (*RedisStore)(nil)
