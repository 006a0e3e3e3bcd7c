package store

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/pebble"

	"parley/pkg/logger"
	"parley/pkg/models"
	"parley/pkg/utils"
)

var db *pebble.DB

// seq reduces key collisions when multiple messages share the same
// nanosecond timestamp. The padded counter also makes intra-nanosecond
// ordering deterministic.
var seq uint64

// ErrNotFound is returned when a message id does not resolve, either
// because it never existed or because it was hard-deleted.
var ErrNotFound = errors.New("message not found")

// flight serializes read-modify-write cycles per message id so two
// concurrent updates in this process cannot interleave. Lock striping
// keeps the set bounded for the process lifetime; distinct ids may share
// a stripe. Cross-process writers remain last-writer-wins.
var flight [64]sync.Mutex

func flightLock(key string) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return &flight[h.Sum32()%uint32(len(flight))]
}

// Open opens (or creates) a Pebble database at the given path and keeps
// a global handle for simple usage in this package.
func Open(path string) error {
	var err error
	logger.Info("opening_pebble_db", "path", path)
	db, err = pebble.Open(path, &pebble.Options{})
	if err != nil {
		logger.Error("pebble_open_failed", "path", path, "error", err)
		return err
	}
	logger.Info("pebble_opened", "path", path)
	return nil
}

// Close closes the opened pebble DB if present.
func Close() error {
	if db == nil {
		return nil
	}
	if err := db.Close(); err != nil {
		return err
	}
	db = nil
	logger.Info("pebble_closed")
	return nil
}

// Ready reports whether the store is opened and ready.
func Ready() bool {
	return db != nil
}

// Key format: conv:<conversation>:<dir>:msg:<unix_nano_padded>-<seq>
// The padded timestamp prefix keeps per-partition iteration in createdAt
// order, which is the ordering guarantee feeds rely on.
func primaryKey(p models.Partition, ts int64, s uint64) string {
	return fmt.Sprintf("conv:%s:%s:msg:%020d-%06d", p.Conversation, p.Direction, ts, s)
}

func partitionPrefix(p models.Partition) []byte {
	return []byte(fmt.Sprintf("conv:%s:%s:msg:", p.Conversation, p.Direction))
}

func indexKey(id string) []byte { return []byte("msgid:" + id) }

func corrKey(token string) []byte { return []byte("corr:" + token) }

// PartitionOf returns the partition a message belongs to.
func PartitionOf(m models.Message) models.Partition {
	return models.Partition{Conversation: m.Conversation, Direction: models.DirectionFor(m.Sender)}
}

// CreateMessage writes a new message into its partition. The store assigns
// id (when absent), the authoritative timestamp and the initial status,
// then notifies subscribers with an added event. The stored message is
// returned.
//
// Creates are idempotent per correlation token: a resend carrying a token
// that already committed returns the existing record instead of writing a
// second one.
func CreateMessage(m models.Message) (models.Message, error) {
	if db == nil {
		return models.Message{}, fmt.Errorf("pebble not opened; call store.Open first")
	}
	if m.Correlation != "" {
		l := flightLock("corr:" + m.Correlation)
		l.Lock()
		defer l.Unlock()
		existing, err := getByCorrelation(m.Correlation)
		if err == nil {
			logger.Info("message_create_deduped", "conversation", m.Conversation, "token", m.Correlation, "id", existing.ID)
			return existing, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return models.Message{}, err
		}
	}
	if m.ID == "" {
		m.ID = utils.GenID()
	}
	// createdAt is always store time; client-supplied values are ignored
	// so a single clock orders each partition.
	m.CreatedAt = time.Now().UTC().UnixNano()
	if m.Status == "" {
		m.Status = models.StatusSent
	}
	s := atomic.AddUint64(&seq, 1)
	p := PartitionOf(m)
	key := primaryKey(p, m.CreatedAt, s)

	data, err := json.Marshal(m)
	if err != nil {
		return models.Message{}, fmt.Errorf("failed to marshal message: %w", err)
	}
	if err := db.Set([]byte(key), data, pebble.Sync); err != nil {
		logger.Error("save_message_failed", "conversation", m.Conversation, "key", key, "error", err)
		return models.Message{}, err
	}
	if err := db.Set(indexKey(m.ID), []byte(key), pebble.Sync); err != nil {
		logger.Error("save_message_index_failed", "id", m.ID, "error", err)
		return models.Message{}, err
	}
	if m.Correlation != "" {
		if err := db.Set(corrKey(m.Correlation), []byte(key), pebble.Sync); err != nil {
			logger.Error("save_message_corr_index_failed", "token", m.Correlation, "error", err)
			return models.Message{}, err
		}
	}
	messagesCreated.Inc()
	logger.Info("message_saved", "conversation", m.Conversation, "dir", string(p.Direction), "id", m.ID)
	notify(Change{Kind: Added, Msg: m})
	return m, nil
}

// getByCorrelation resolves a correlation token to its committed record.
// A token whose index points at a since-deleted record reads as not found.
func getByCorrelation(token string) (models.Message, error) {
	v, closer, err := db.Get(corrKey(token))
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return models.Message{}, ErrNotFound
		}
		return models.Message{}, err
	}
	key := append([]byte(nil), v...)
	closer.Close()
	vv, closer2, err := db.Get(key)
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return models.Message{}, ErrNotFound
		}
		return models.Message{}, err
	}
	defer closer2.Close()
	var m models.Message
	if err := json.Unmarshal(vv, &m); err != nil {
		return models.Message{}, fmt.Errorf("invalid message JSON: %w", err)
	}
	return m, nil
}

// GetMessage returns the current record for a message id.
func GetMessage(id string) (models.Message, error) {
	if db == nil {
		return models.Message{}, fmt.Errorf("pebble not opened; call store.Open first")
	}
	key, err := resolve(id)
	if err != nil {
		return models.Message{}, err
	}
	v, closer, err := db.Get(key)
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return models.Message{}, ErrNotFound
		}
		return models.Message{}, err
	}
	defer closer.Close()
	var m models.Message
	if err := json.Unmarshal(v, &m); err != nil {
		return models.Message{}, fmt.Errorf("invalid message JSON: %w", err)
	}
	return m, nil
}

// UpdateMessage applies mutate to the current record under the per-id
// flight lock and persists the result in place. Subscribers are notified
// with a modified event. Returns the updated record.
func UpdateMessage(id string, mutate func(*models.Message) error) (models.Message, error) {
	if db == nil {
		return models.Message{}, fmt.Errorf("pebble not opened; call store.Open first")
	}
	l := flightLock(id)
	l.Lock()
	defer l.Unlock()

	key, err := resolve(id)
	if err != nil {
		return models.Message{}, err
	}
	v, closer, err := db.Get(key)
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return models.Message{}, ErrNotFound
		}
		return models.Message{}, err
	}
	var m models.Message
	uerr := json.Unmarshal(v, &m)
	closer.Close()
	if uerr != nil {
		return models.Message{}, fmt.Errorf("invalid message JSON: %w", uerr)
	}

	if err := mutate(&m); err != nil {
		return models.Message{}, err
	}

	data, err := json.Marshal(m)
	if err != nil {
		return models.Message{}, fmt.Errorf("failed to marshal message: %w", err)
	}
	if err := db.Set(key, data, pebble.Sync); err != nil {
		logger.Error("update_message_failed", "id", id, "error", err)
		return models.Message{}, err
	}
	messagesUpdated.Inc()
	logger.Info("message_updated", "conversation", m.Conversation, "id", id)
	notify(Change{Kind: Modified, Msg: m})
	return m, nil
}

// DeleteMessage removes a record and its id index. The record's last
// state is loaded first so subscribers receive a removed event carrying
// the partition it vanished from.
func DeleteMessage(id string) error {
	if db == nil {
		return fmt.Errorf("pebble not opened; call store.Open first")
	}
	l := flightLock(id)
	l.Lock()
	defer l.Unlock()

	key, err := resolve(id)
	if err != nil {
		return err
	}
	var m models.Message
	if v, closer, gerr := db.Get(key); gerr == nil {
		uerr := json.Unmarshal(v, &m)
		closer.Close()
		if uerr != nil {
			m = models.Message{ID: id}
		}
	}
	if err := db.Delete(key, pebble.Sync); err != nil {
		logger.Error("delete_message_failed", "id", id, "error", err)
		return err
	}
	if err := db.Delete(indexKey(id), pebble.Sync); err != nil {
		logger.Error("delete_message_index_failed", "id", id, "error", err)
		return err
	}
	if m.Correlation != "" {
		if err := db.Delete(corrKey(m.Correlation), pebble.Sync); err != nil {
			logger.Error("delete_message_corr_index_failed", "token", m.Correlation, "error", err)
			return err
		}
	}
	messagesDeleted.Inc()
	logger.Info("message_deleted", "conversation", m.Conversation, "id", id)
	if m.ID != "" && m.Conversation != "" {
		notify(Change{Kind: Removed, Msg: m})
	}
	return nil
}

// ListPartition returns all messages of one partition in createdAt order.
func ListPartition(p models.Partition) ([]models.Message, error) {
	if db == nil {
		return nil, fmt.Errorf("pebble not opened; call store.Open first")
	}
	prefix := partitionPrefix(p)
	iter, err := db.NewIter(&pebble.IterOptions{})
	if err != nil {
		return nil, err
	}
	defer iter.Close()
	var out []models.Message
	for iter.SeekGE(prefix); iter.Valid(); iter.Next() {
		if !bytes.HasPrefix(iter.Key(), prefix) {
			break
		}
		var m models.Message
		if err := json.Unmarshal(iter.Value(), &m); err != nil {
			logger.Warn("list_partition_bad_record", "key", string(iter.Key()), "error", err)
			continue
		}
		out = append(out, m)
	}
	return out, iter.Error()
}

// ListPartitionKeys returns the raw primary keys of a partition, oldest
// first. Used by the retention runner.
func ListPartitionKeys(p models.Partition) ([]string, error) {
	if db == nil {
		return nil, fmt.Errorf("pebble not opened; call store.Open first")
	}
	prefix := partitionPrefix(p)
	iter, err := db.NewIter(&pebble.IterOptions{})
	if err != nil {
		return nil, err
	}
	defer iter.Close()
	var out []string
	for iter.SeekGE(prefix); iter.Valid(); iter.Next() {
		if !bytes.HasPrefix(iter.Key(), prefix) {
			break
		}
		out = append(out, string(iter.Key()))
	}
	return out, iter.Error()
}

// ListConversations scans all partition keys and returns the distinct
// conversation ids present in the store.
func ListConversations() ([]string, error) {
	if db == nil {
		return nil, fmt.Errorf("pebble not opened; call store.Open first")
	}
	prefix := []byte("conv:")
	iter, err := db.NewIter(&pebble.IterOptions{})
	if err != nil {
		return nil, err
	}
	defer iter.Close()
	seen := map[string]struct{}{}
	var out []string
	for iter.SeekGE(prefix); iter.Valid(); iter.Next() {
		k := iter.Key()
		if !bytes.HasPrefix(k, prefix) {
			break
		}
		rest := k[len(prefix):]
		if i := bytes.IndexByte(rest, ':'); i > 0 {
			id := string(rest[:i])
			if _, ok := seen[id]; !ok {
				seen[id] = struct{}{}
				out = append(out, id)
			}
		}
	}
	return out, iter.Error()
}

func resolve(id string) ([]byte, error) {
	v, closer, err := db.Get(indexKey(id))
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	key := append([]byte(nil), v...)
	closer.Close()
	return key, nil
}
