package store

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/lojasmm/shipbot/internal/session"
)

const sessionKeyPrefix = "session:"

// RedisStore keeps sessions in Redis with a sliding TTL, so several bot
// instances can share conversations. Expiry is left to Redis.
type RedisStore struct {
	redis  *redis.Client
	tracer trace.Tracer
	ttl    time.Duration
}

func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{
		redis:  client,
		tracer: otel.Tracer("shipbot.internal.store.redis"),
		ttl:    ttl,
	}
}

// NewRedisClient connects and pings the server.
func NewRedisClient(ctx context.Context, addr, password string, useTLS bool) (*redis.Client, error) {
	opts := &redis.Options{
		Addr:     addr,
		Password: password,
	}
	if useTLS {
		opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("store: redis ping: %w", err)
	}
	return client, nil
}

func sessionKey(userID string) string {
	return sessionKeyPrefix + userID
}

func (s *RedisStore) Load(ctx context.Context, userID string) (*session.Session, error) {
	ctx, span := s.tracer.Start(ctx, "store.redis.load", trace.WithAttributes(attribute.String("user", userID)))
	defer span.End()

	raw, err := s.redis.Get(ctx, sessionKey(userID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("store: redis get: %w", err)
	}

	var sess session.Session
	if err := json.Unmarshal(raw, &sess); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("store: decoding session: %w", err)
	}
	return &sess, nil
}

func (s *RedisStore) Save(ctx context.Context, sess *session.Session) error {
	ctx, span := s.tracer.Start(ctx, "store.redis.save", trace.WithAttributes(attribute.String("user", sess.UserID)))
	defer span.End()

	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("store: encoding session: %w", err)
	}
	if err := s.redis.Set(ctx, sessionKey(sess.UserID), data, s.ttl).Err(); err != nil {
		span.RecordError(err)
		return fmt.Errorf("store: redis set: %w", err)
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, userID string) error {
	ctx, span := s.tracer.Start(ctx, "store.redis.delete", trace.WithAttributes(attribute.String("user", userID)))
	defer span.End()

	if err := s.redis.Del(ctx, sessionKey(userID)).Err(); err != nil {
		span.RecordError(err)
		return fmt.Errorf("store: redis del: %w", err)
	}
	return nil
}
