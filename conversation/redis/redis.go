//
// Tencent is pleased to support the open source community by making tRPC available.
//
// Copyright (C) 2025 Tencent.
// All rights reserved.
//
// If you have downloaded a copy of the tRPC source code from Tencent,
// please note that tRPC source code is licensed under the  Apache 2.0 License,
// A copy of the Apache 2.0 License is included in this file.
//
//

// Package redis provides a redis backed conversation store.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"trpc.group/trpc-go/trpc-agent-checkpoint/conversation"
	"trpc.group/trpc-go/trpc-agent-checkpoint/model"
	storage "trpc.group/trpc-go/trpc-agent-checkpoint/storage/redis"
)

var _ conversation.Store = (*Store)(nil)

const (
	defaultKeyPrefix = "conv"

	fieldCreatedAt = "createdAt"
	fieldUpdatedAt = "updatedAt"
	fieldTotal     = "total"
)

// Options is the options for the redis conversation store.
type Options struct {
	url          string
	instanceName string
	redisClient  redis.UniversalClient
	keyPrefix    string
	ttl          time.Duration
}

// Option is the option for the redis conversation store.
type Option func(*Options)

// WithRedisClientURL builds the client from a redis url.
func WithRedisClientURL(url string) Option {
	return func(opts *Options) {
		opts.url = url
	}
}

// WithRedisInstance builds the client from a named instance registered in
// storage/redis. It is ignored when a url is set.
func WithRedisInstance(name string) Option {
	return func(opts *Options) {
		opts.instanceName = name
	}
}

// WithRedisClient uses an existing client.
func WithRedisClient(client redis.UniversalClient) Option {
	return func(opts *Options) {
		opts.redisClient = client
	}
}

// WithKeyPrefix sets the prefix of every key written by the store.
func WithKeyPrefix(prefix string) Option {
	return func(opts *Options) {
		if prefix != "" {
			opts.keyPrefix = prefix
		}
	}
}

// WithTTL refreshes the expiry of a conversation on every write. Zero keeps
// conversations forever.
func WithTTL(ttl time.Duration) Option {
	return func(opts *Options) {
		opts.ttl = ttl
	}
}

// Store is the redis conversation store.
// storage structure:
// Context: prefix:{sessionId} -> hash [createdAt, updatedAt (unix nano)]
// Messages: prefix:{sessionId}:msgs -> list [Message(json)]
// Stats: prefix:{sessionId}:stats -> hash [total, user, assistant, system]
type Store struct {
	opts   Options
	client redis.UniversalClient
}

// NewStore creates a new redis conversation store.
func NewStore(options ...Option) (*Store, error) {
	opts := Options{keyPrefix: defaultKeyPrefix}
	for _, option := range options {
		option(&opts)
	}
	client := opts.redisClient
	if client == nil {
		builderOpts, err := resolveBuilderOpts(opts)
		if err != nil {
			return nil, err
		}
		client, err = storage.GetClientBuilder()(builderOpts...)
		if err != nil {
			return nil, fmt.Errorf("create redis client: %w", err)
		}
	}
	return &Store{opts: opts, client: client}, nil
}

func resolveBuilderOpts(opts Options) ([]storage.ClientBuilderOpt, error) {
	if opts.url != "" {
		return []storage.ClientBuilderOpt{storage.WithClientBuilderURL(opts.url)}, nil
	}
	if opts.instanceName != "" {
		builderOpts, ok := storage.GetInstance(opts.instanceName)
		if !ok {
			return nil, fmt.Errorf("redis instance %s not found", opts.instanceName)
		}
		return builderOpts, nil
	}
	return nil, errors.New("redis client, url or instance name is required")
}

// Close closes the underlying client.
func (s *Store) Close() error {
	return s.client.Close()
}

// GetContext implements conversation.Store.
func (s *Store) GetContext(ctx context.Context, sessionID string) (*conversation.Context, error) {
	if sessionID == "" {
		return nil, conversation.ErrSessionIDRequired
	}
	fields, err := s.client.HGetAll(ctx, s.contextKey(sessionID)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis conversation store get context failed: %w", err)
	}
	if len(fields) == 0 {
		return nil, nil
	}
	return &conversation.Context{
		SessionID: sessionID,
		CreatedAt: parseNano(fields[fieldCreatedAt]),
		UpdatedAt: parseNano(fields[fieldUpdatedAt]),
	}, nil
}

// CreateContext implements conversation.Store.
func (s *Store) CreateContext(ctx context.Context, sessionID string) (*conversation.Context, error) {
	if sessionID == "" {
		return nil, conversation.ErrSessionIDRequired
	}
	now := strconv.FormatInt(time.Now().UnixNano(), 10)
	key := s.contextKey(sessionID)
	pipe := s.client.TxPipeline()
	pipe.HSetNX(ctx, key, fieldCreatedAt, now)
	pipe.HSetNX(ctx, key, fieldUpdatedAt, now)
	s.expire(ctx, pipe, sessionID)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("redis conversation store create context failed: %w", err)
	}
	return s.GetContext(ctx, sessionID)
}

// AddMessage implements conversation.Store.
func (s *Store) AddMessage(
	ctx context.Context,
	sessionID string,
	msg conversation.Message,
) (*conversation.Message, error) {
	if sessionID == "" {
		return nil, conversation.ErrSessionIDRequired
	}
	n, err := s.client.Exists(ctx, s.contextKey(sessionID)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis conversation store check context failed: %w", err)
	}
	if n == 0 {
		return nil, conversation.ErrContextNotFound
	}

	msg = conversation.Prepare(msg)
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("marshal message: %w", err)
	}

	statsKey := s.statsKey(sessionID)
	pipe := s.client.TxPipeline()
	pipe.RPush(ctx, s.messagesKey(sessionID), data)
	pipe.HIncrBy(ctx, statsKey, fieldTotal, 1)
	if roleCounted(msg.Role) {
		pipe.HIncrBy(ctx, statsKey, string(msg.Role), 1)
	}
	pipe.HSet(ctx, s.contextKey(sessionID), fieldUpdatedAt, strconv.FormatInt(msg.CreatedAt.UnixNano(), 10))
	s.expire(ctx, pipe, sessionID)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("redis conversation store add message failed: %w", err)
	}
	return &msg, nil
}

// GetContextStats implements conversation.Store.
func (s *Store) GetContextStats(ctx context.Context, sessionID string) (*conversation.Stats, error) {
	if sessionID == "" {
		return nil, conversation.ErrSessionIDRequired
	}
	fields, err := s.client.HGetAll(ctx, s.statsKey(sessionID)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis conversation store get stats failed: %w", err)
	}
	return &conversation.Stats{
		TotalMessages:     atoi(fields[fieldTotal]),
		UserMessages:      atoi(fields[string(model.RoleUser)]),
		AssistantMessages: atoi(fields[string(model.RoleAssistant)]),
		SystemMessages:    atoi(fields[string(model.RoleSystem)]),
	}, nil
}

// GetRoundWindowMessages implements conversation.Store. Without system
// filtering only the tail of the list is read.
func (s *Store) GetRoundWindowMessages(
	ctx context.Context,
	sessionID string,
	count int,
	excludeSystem bool,
) ([]conversation.Message, error) {
	if sessionID == "" {
		return nil, conversation.ErrSessionIDRequired
	}
	if count <= 0 {
		return []conversation.Message{}, nil
	}
	start := int64(0)
	if !excludeSystem {
		start = -int64(count)
	}
	raw, err := s.client.LRange(ctx, s.messagesKey(sessionID), start, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis conversation store get messages failed: %w", err)
	}
	msgs := make([]conversation.Message, 0, len(raw))
	for _, item := range raw {
		var m conversation.Message
		if err := json.Unmarshal([]byte(item), &m); err != nil {
			return nil, fmt.Errorf("unmarshal message: %w", err)
		}
		msgs = append(msgs, m)
	}
	return conversation.Window(msgs, count, excludeSystem), nil
}

func (s *Store) expire(ctx context.Context, pipe redis.Pipeliner, sessionID string) {
	if s.opts.ttl <= 0 {
		return
	}
	pipe.Expire(ctx, s.contextKey(sessionID), s.opts.ttl)
	pipe.Expire(ctx, s.messagesKey(sessionID), s.opts.ttl)
	pipe.Expire(ctx, s.statsKey(sessionID), s.opts.ttl)
}

func (s *Store) contextKey(sessionID string) string {
	return fmt.Sprintf("%s:{%s}", s.opts.keyPrefix, sessionID)
}

func (s *Store) messagesKey(sessionID string) string {
	return fmt.Sprintf("%s:{%s}:msgs", s.opts.keyPrefix, sessionID)
}

func (s *Store) statsKey(sessionID string) string {
	return fmt.Sprintf("%s:{%s}:stats", s.opts.keyPrefix, sessionID)
}

func roleCounted(r model.Role) bool {
	return r == model.RoleUser || r == model.RoleAssistant || r == model.RoleSystem
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}

func parseNano(s string) time.Time {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return time.Time{}
	}
	return time.Unix(0, n)
}
