// Package redisstore implements the primary inventory store on Redis lists.
//
// Each event's inventory is a list under "<prefix><eventID><suffix>"
// (default "event:<eventID>:tickets"). The head of the list is the next token
// to dispense. Pops run as a server-side Lua script so the removal and the
// length read happen in one indivisible step, even with many dispenser
// processes sharing the same Redis.
package redisstore

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/arloliu/dispenser/types"
)

// Default key layout.
const (
	DefaultKeyPrefix = "event:"
	DefaultKeySuffix = ":tickets"
)

// scanCount is the SCAN page size hint used by Snapshot.
const scanCount = 100

// popScript removes the head token and reports the list length afterwards.
// Replies {} when the list is empty or missing, {token, remaining} otherwise.
var popScript = redis.NewScript(`
local token = redis.call('LPOP', KEYS[1])
if not token then
	return {}
end
return {token, redis.call('LLEN', KEYS[1])}
`)

// Config controls the key layout.
type Config struct {
	// KeyPrefix is prepended to the event ID. Default: "event:".
	KeyPrefix string `yaml:"keyPrefix"`

	// KeySuffix is appended to the event ID. Default: ":tickets".
	KeySuffix string `yaml:"keySuffix"`
}

// Store is a types.PrimaryStore backed by Redis.
type Store struct {
	client redis.UniversalClient
	prefix string
	suffix string
}

var _ types.PrimaryStore = (*Store)(nil)

// New creates a Redis-backed primary store.
//
// The store does not own the client; closing it is the caller's job.
//
// Parameters:
//   - client: Connected go-redis client (single node, cluster or sentinel)
//   - cfg: Key layout; empty fields use the defaults
//
// Returns:
//   - *Store: Ready-to-use store
func New(client redis.UniversalClient, cfg Config) *Store {
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = DefaultKeyPrefix
	}
	if cfg.KeySuffix == "" {
		cfg.KeySuffix = DefaultKeySuffix
	}

	return &Store{
		client: client,
		prefix: cfg.KeyPrefix,
		suffix: cfg.KeySuffix,
	}
}

// Key returns the Redis key holding an event's inventory.
func (s *Store) Key(eventID string) string {
	return s.prefix + eventID + s.suffix
}

// Pop atomically removes the head token of the event's list.
func (s *Store) Pop(ctx context.Context, eventID string) (string, int, bool, error) {
	res, err := popScript.Run(ctx, s.client, []string{s.Key(eventID)}).Slice()
	if err != nil {
		return "", 0, false, classify(ctx, "pop", err)
	}

	return parsePopReply(res)
}

// Probe sends PING.
func (s *Store) Probe(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return classify(ctx, "ping", err)
	}

	return nil
}

// Snapshot reads every inventory list matching the key layout.
//
// Lists are discovered with SCAN, so a snapshot taken while other processes
// keep popping is not a point-in-time view. A list that fails to read is
// skipped and reported through the returned error.
func (s *Store) Snapshot(ctx context.Context) (map[string][]string, error) {
	inventory := make(map[string][]string)

	var errs []error
	iter := s.client.Scan(ctx, 0, s.prefix+"*"+s.suffix, scanCount).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		eventID, ok := s.eventID(key)
		if !ok {
			continue
		}

		tokens, err := s.client.LRange(ctx, key, 0, -1).Result()
		if err != nil {
			errs = append(errs, fmt.Errorf("event %s: %w", eventID, classify(ctx, "lrange", err)))
			continue
		}
		inventory[eventID] = tokens
	}

	if err := iter.Err(); err != nil {
		errs = append(errs, classify(ctx, "scan", err))
	}

	if len(errs) > 0 {
		return inventory, fmt.Errorf("%w: %w", types.ErrSnapshotIncomplete, errors.Join(errs...))
	}

	return inventory, nil
}

// Seed replaces an event's inventory with tokens, in dispense order.
//
// Parameters:
//   - ctx: Context for cancellation and deadline
//   - eventID: Event identifier
//   - tokens: Tokens to store; empty leaves the event without inventory
//
// Returns:
//   - error: Classified store error
func (s *Store) Seed(ctx context.Context, eventID string, tokens []string) error {
	key := s.Key(eventID)

	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		if len(tokens) > 0 {
			values := make([]any, len(tokens))
			for i, token := range tokens {
				values[i] = token
			}
			pipe.RPush(ctx, key, values...)
		}

		return nil
	})
	if err != nil {
		return classify(ctx, "seed", err)
	}

	return nil
}

// eventID extracts the event ID from an inventory key.
func (s *Store) eventID(key string) (string, bool) {
	if len(key) < len(s.prefix)+len(s.suffix) {
		return "", false
	}

	rest, ok := strings.CutPrefix(key, s.prefix)
	if !ok {
		return "", false
	}

	id, ok := strings.CutSuffix(rest, s.suffix)
	if !ok || id == "" {
		return "", false
	}

	return id, true
}

// parsePopReply interprets the pop script reply.
func parsePopReply(res []any) (string, int, bool, error) {
	switch len(res) {
	case 0:
		return "", 0, false, nil
	case 2:
		token, ok := res[0].(string)
		if !ok {
			return "", 0, false, fmt.Errorf("%w: token has type %T", types.ErrMalformedResponse, res[0])
		}

		remaining, ok := res[1].(int64)
		if !ok || remaining < 0 {
			return "", 0, false, fmt.Errorf("%w: remaining count %v", types.ErrMalformedResponse, res[1])
		}

		return token, int(remaining), true, nil
	default:
		return "", 0, false, fmt.Errorf("%w: pop reply has %d elements", types.ErrMalformedResponse, len(res))
	}
}

// classify maps a go-redis error onto the store error taxonomy.
func classify(ctx context.Context, op string, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}

	return fmt.Errorf("%w: redis %s: %w", types.ErrStoreUnavailable, op, err)
}
