// Package kvstore implements the primary inventory store on a NATS JetStream
// KeyValue bucket.
//
// Each event's inventory is one JSON document under its own key. Pops are
// optimistic compare-and-swap updates on the entry revision: two dispensers
// reading the same revision cannot both write, so the loser re-reads and tries
// again. That gives the same no-duplicate guarantee as a server-side script
// without any server-side code.
//
// Within one process, concurrent pops of the same event are combined: one
// caller leads a batch and removes as many tokens as there are waiting callers
// in a single update. Revision conflicts are then limited to races between
// processes.
package kvstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/puzpuzpuz/xsync/v4"
	"github.com/zeebo/xxh3"

	"github.com/arloliu/dispenser/internal/kvutil"
	"github.com/arloliu/dispenser/internal/natsutil"
	"github.com/arloliu/dispenser/types"
)

// DefaultBucket is the bucket used when Config.Bucket is empty.
const DefaultBucket = "ticket-inventory"

const (
	keyPrefix    = "event."
	plainPrefix  = keyPrefix + "id."
	hashedPrefix = keyPrefix + "hash."

	openAttempts = 3
)

// Config controls the bucket used by Open and Connect.
type Config struct {
	// Bucket is the KV bucket name. Default: "ticket-inventory".
	Bucket string `yaml:"bucket"`

	// Replicas is the bucket replication factor. Default: 1.
	Replicas int `yaml:"replicas"`

	// Memory selects in-memory stream storage instead of file storage.
	Memory bool `yaml:"memory"`
}

// inventory is the JSON document stored per event.
type inventory struct {
	Event  string   `json:"event"`
	Tokens []string `json:"tokens"`
}

// Store is a types.PrimaryStore backed by a JetStream KV bucket.
type Store struct {
	js       jetstream.JetStream
	bucket   jetstream.KeyValueConfig
	kv       atomic.Pointer[bucketRef]
	openMu   sync.Mutex
	batchers *xsync.Map[string, *popBatcher]
}

type bucketRef struct {
	kv jetstream.KeyValue
}

var _ types.PrimaryStore = (*Store)(nil)

// New wraps an existing KV bucket.
func New(kv jetstream.KeyValue) *Store {
	s := newStore()
	s.kv.Store(&bucketRef{kv: kv})

	return s
}

// Connect returns a store that opens its bucket on first use.
//
// No request is sent to the server, so Connect succeeds while NATS is
// unreachable. Until the bucket can be opened every operation fails with
// types.ErrStoreUnavailable, which lets the dispenser start in fallback mode
// and recover once the server is back.
//
// Parameters:
//   - nc: NATS connection, usually created with nats.RetryOnFailedConnect(true)
//   - cfg: Bucket configuration
//
// Returns:
//   - *Store: Store bound lazily to the bucket
//   - error: Non-nil only if a JetStream context cannot be created
func Connect(nc *nats.Conn, cfg Config) (*Store, error) {
	js, err := jetstream.New(nc)
	if err != nil {
		return nil, fmt.Errorf("jetstream: %w", err)
	}

	s := newStore()
	s.js = js
	s.bucket = bucketConfig(cfg)

	return s, nil
}

// Open creates or opens the inventory bucket on the given connection and
// fails if that is not possible right now.
//
// Parameters:
//   - ctx: Context bounding bucket creation
//   - nc: Connected NATS client
//   - cfg: Bucket configuration
//
// Returns:
//   - *Store: Store bound to the bucket
//   - error: types.ErrInvalidConfig for an incompatible existing bucket,
//     otherwise a classified store error
func Open(ctx context.Context, nc *nats.Conn, cfg Config) (*Store, error) {
	s, err := Connect(nc, cfg)
	if err != nil {
		return nil, err
	}

	kv, err := kvutil.EnsureBucket(ctx, s.js, s.bucket, openAttempts)
	if errors.Is(err, kvutil.ErrBucketMismatch) {
		return nil, fmt.Errorf("%w: %w", types.ErrInvalidConfig, err)
	}
	if err != nil {
		return nil, natsutil.Unavailable(ctx, "ensure bucket", err)
	}
	s.kv.Store(&bucketRef{kv: kv})

	return s, nil
}

func newStore() *Store {
	return &Store{batchers: xsync.NewMap[string, *popBatcher]()}
}

func bucketConfig(cfg Config) jetstream.KeyValueConfig {
	if cfg.Bucket == "" {
		cfg.Bucket = DefaultBucket
	}
	if cfg.Replicas <= 0 {
		cfg.Replicas = 1
	}

	storage := jetstream.FileStorage
	if cfg.Memory {
		storage = jetstream.MemoryStorage
	}

	return jetstream.KeyValueConfig{
		Bucket:      cfg.Bucket,
		Description: "ticket inventory",
		History:     1,
		Storage:     storage,
		Replicas:    cfg.Replicas,
	}
}

// keyValue returns the bucket, opening it if this has not happened yet.
func (s *Store) keyValue(ctx context.Context) (jetstream.KeyValue, error) {
	if ref := s.kv.Load(); ref != nil {
		return ref.kv, nil
	}

	s.openMu.Lock()
	defer s.openMu.Unlock()

	if ref := s.kv.Load(); ref != nil {
		return ref.kv, nil
	}

	kv, err := kvutil.EnsureBucket(ctx, s.js, s.bucket, 1)
	if err != nil {
		return nil, natsutil.Unavailable(ctx, "open bucket", err)
	}
	s.kv.Store(&bucketRef{kv: kv})

	return kv, nil
}

// Key returns the KV key holding an event's inventory.
//
// Event IDs made of KV-safe characters are used as-is; anything else is
// hashed so arbitrary IDs never produce an invalid key.
func Key(eventID string) string {
	if isKeyToken(eventID) {
		return plainPrefix + eventID
	}

	return hashedPrefix + strconv.FormatUint(xxh3.HashString(eventID), 16)
}

// Pop removes the first token of the event's inventory with a revision-checked update.
//
// A caller whose context ends while it is still queued behind another batch
// leaves without touching the inventory. Once its batch is running it waits
// for the outcome, so a popped token is never dropped on the floor.
func (s *Store) Pop(ctx context.Context, eventID string) (string, int, bool, error) {
	kv, err := s.keyValue(ctx)
	if err != nil {
		return "", 0, false, err
	}

	key := Key(eventID)
	b, _ := s.batchers.LoadOrCompute(key, func() (*popBatcher, bool) {
		return &popBatcher{}, false
	})

	w := &popWaiter{done: make(chan popResult, 1)}
	if !b.join(w) {
		var res popResult
		select {
		case res = <-w.done:
		case <-ctx.Done():
			if b.leave(w) {
				return "", 0, false, ctx.Err()
			}
			res = <-w.done
		}

		if !res.lead {
			return res.token, res.remaining, res.ok, res.err
		}
	}

	res := s.lead(ctx, kv, key, eventID, b, w)

	return res.token, res.remaining, res.ok, res.err
}

// lead runs one batch on behalf of every caller queued so far.
func (s *Store) lead(
	ctx context.Context,
	kv jetstream.KeyValue,
	key, eventID string,
	b *popBatcher,
	self *popWaiter,
) popResult {
	batch := b.take()

	results, err := popTokens(ctx, kv, key, eventID, len(batch))
	if err != nil && ctx.Err() != nil && !errors.Is(err, types.ErrStoreContention) {
		// Only this caller's context ended; the others retry under theirs.
		b.requeue(batch, self)
		return popResult{err: ctx.Err()}
	}

	b.handOff()

	var own popResult
	for i, w := range batch {
		res := popResult{err: err}
		if err == nil {
			res = results[i]
		}

		if w == self {
			own = res
			continue
		}
		w.done <- res
	}

	return own
}

// popTokens removes up to n tokens in one update and returns one result per
// requested token, in dispense order.
func popTokens(ctx context.Context, kv jetstream.KeyValue, key, eventID string, n int) ([]popResult, error) {
	conflicts := 0
	for {
		entry, err := kv.Get(ctx, key)
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			return make([]popResult, n), nil
		}
		if err != nil {
			return nil, contended(ctx, eventID, conflicts, natsutil.Unavailable(ctx, "get", err))
		}

		inv, err := decode(entry.Value())
		if err != nil {
			return nil, err
		}

		results := make([]popResult, n)
		taken := min(n, len(inv.Tokens))
		if taken == 0 {
			return results, nil
		}

		for i := range taken {
			results[i] = popResult{token: inv.Tokens[i], remaining: len(inv.Tokens) - i - 1, ok: true}
		}
		inv.Tokens = inv.Tokens[taken:]

		data, err := json.Marshal(inv)
		if err != nil {
			return nil, fmt.Errorf("encode inventory: %w", err)
		}

		_, err = kv.Update(ctx, key, data, entry.Revision())
		if err == nil {
			return results, nil
		}
		if !isRevisionConflict(err) {
			return nil, contended(ctx, eventID, conflicts, natsutil.Unavailable(ctx, "update", err))
		}

		conflicts++
		if ctx.Err() != nil {
			return nil, contended(ctx, eventID, conflicts, ctx.Err())
		}
	}
}

// contended reports a deadline reached while losing revision races as
// contention, since the store answered every request.
func contended(ctx context.Context, eventID string, conflicts int, err error) error {
	if conflicts == 0 || ctx.Err() == nil {
		return err
	}

	return fmt.Errorf("%w: event %s: %d revision conflicts: %w",
		types.ErrStoreContention, eventID, conflicts, err)
}

// Probe opens the bucket if needed and reads its status.
func (s *Store) Probe(ctx context.Context) error {
	kv, err := s.keyValue(ctx)
	if err != nil {
		return err
	}

	if _, err := kv.Status(ctx); err != nil {
		return natsutil.Unavailable(ctx, "status", err)
	}

	return nil
}

// Snapshot reads every inventory document in the bucket.
func (s *Store) Snapshot(ctx context.Context) (map[string][]string, error) {
	result := make(map[string][]string)

	kv, err := s.keyValue(ctx)
	if err != nil {
		return result, fmt.Errorf("%w: %w", types.ErrSnapshotIncomplete, err)
	}

	lister, err := kv.ListKeys(ctx)
	if err != nil {
		if errors.Is(err, jetstream.ErrNoKeysFound) {
			return result, nil
		}

		return result, fmt.Errorf("%w: %w", types.ErrSnapshotIncomplete, natsutil.Unavailable(ctx, "list keys", err))
	}
	defer func() { _ = lister.Stop() }()

	var errs []error
	for key := range lister.Keys() {
		if !strings.HasPrefix(key, keyPrefix) {
			continue
		}

		entry, err := kv.Get(ctx, key)
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			continue
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("key %s: %w", key, natsutil.Unavailable(ctx, "get", err)))
			continue
		}

		inv, err := decode(entry.Value())
		if err != nil {
			errs = append(errs, fmt.Errorf("key %s: %w", key, err))
			continue
		}
		result[inv.Event] = inv.Tokens
	}

	if ctx.Err() != nil {
		errs = append(errs, fmt.Errorf("list keys: %w", ctx.Err()))
	}

	if len(errs) > 0 {
		return result, fmt.Errorf("%w: %w", types.ErrSnapshotIncomplete, errors.Join(errs...))
	}

	return result, nil
}

// Seed replaces an event's inventory with tokens, in dispense order.
func (s *Store) Seed(ctx context.Context, eventID string, tokens []string) error {
	kv, err := s.keyValue(ctx)
	if err != nil {
		return err
	}

	if tokens == nil {
		tokens = []string{}
	}

	data, err := json.Marshal(inventory{Event: eventID, Tokens: tokens})
	if err != nil {
		return fmt.Errorf("encode inventory: %w", err)
	}

	if _, err := kv.Put(ctx, Key(eventID), data); err != nil {
		return natsutil.Unavailable(ctx, "put", err)
	}

	return nil
}

func decode(data []byte) (inventory, error) {
	var inv inventory
	if err := json.Unmarshal(data, &inv); err != nil {
		return inventory{}, fmt.Errorf("%w: %w", types.ErrMalformedResponse, err)
	}

	return inv, nil
}

// isRevisionConflict reports whether an update lost the compare-and-swap race.
func isRevisionConflict(err error) bool {
	if errors.Is(err, jetstream.ErrKeyExists) {
		return true
	}

	var apiErr *jetstream.APIError
	if errors.As(err, &apiErr) {
		return apiErr.ErrorCode == jetstream.JSErrCodeStreamWrongLastSequence
	}

	return false
}

// isKeyToken reports whether s can be used as a single KV key token.
func isKeyToken(s string) bool {
	if s == "" {
		return false
	}

	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '=':
		default:
			return false
		}
	}

	return true
}
