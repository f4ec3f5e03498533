package bolt

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	bbolt "go.etcd.io/bbolt"

	"github.com/haukened/netpolicyd/internal/netpolicy/common/log"
	"github.com/haukened/netpolicyd/internal/netpolicy/domain"
)

var (
	bucketModes = []byte("modes")
	bucketLists = []byte("lists")
	bucketMeta  = []byte("meta")

	keyVersion = []byte("version")
	keyUpdated = []byte("updated")
)

// Target receives restored policy state. *policystore.Store satisfies it.
type Target interface {
	SetGlobalMode(mode domain.GlobalMode, enabled bool) bool
	AddToList(mode domain.GlobalMode, list domain.ListKind, uid domain.UID) (bool, error)
}

// Stats reports journal contents and metadata.
// Values are read in a cheap, read-only transaction.
type Stats struct {
	Version     uint64 // number of recorded mutations
	UpdatedUnix int64  // time of the last recorded mutation (0 if none)
	Enabled     int    // number of enabled modes
	Members     int    // total list memberships across every list
}

// Journal persists global modes and list membership in bbolt so the policy
// store can be rebuilt on startup.
type Journal struct {
	db     *bbolt.DB
	logger log.Logger
}

// New opens (or creates) a Bolt database at path and ensures buckets exist.
func New(path string, logger log.Logger) (*Journal, error) {
	if logger == nil {
		logger = log.NewNoopLogger()
	}
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open journal %s: %w", path, err)
	}
	if err := db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{bucketModes, bucketLists, bucketMeta} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init journal buckets: %w", err)
	}
	return &Journal{db: db, logger: logger}, nil
}

func (j *Journal) Close() error { return j.db.Close() }

// Record persists a mode or list event. Importance events are not persisted.
func (j *Journal) Record(ev domain.ChangeEvent) error {
	switch ev.Kind {
	case domain.ImportanceChanged:
		return nil
	case domain.ModeChanged:
		ev.Mode.MustBeValid()
	case domain.ListChanged:
		domain.MustHaveList(ev.Mode, ev.List)
	}
	return j.db.Update(func(tx *bbolt.Tx) error {
		switch ev.Kind {
		case domain.ModeChanged:
			if err := tx.Bucket(bucketModes).Put(modeKey(ev.Mode), boolValue(ev.Present)); err != nil {
				return err
			}
		case domain.ListChanged:
			b := tx.Bucket(bucketLists)
			k := listKey(ev.Mode, ev.List, ev.UID)
			var err error
			if ev.Present {
				err = b.Put(k, []byte{1})
			} else {
				err = b.Delete(k)
			}
			if err != nil {
				return err
			}
		default:
			return fmt.Errorf("record event %s: unsupported kind", ev.Kind)
		}
		return bumpMeta(tx.Bucket(bucketMeta), ev.At)
	})
}

// Restore replays persisted state into target. Entries that no longer decode
// to a valid mode or list are skipped with a warning.
func (j *Journal) Restore(target Target) error {
	var modes []domain.GlobalMode
	type membership struct {
		mode domain.GlobalMode
		list domain.ListKind
		uid  domain.UID
	}
	var members []membership

	err := j.db.View(func(tx *bbolt.Tx) error {
		if err := tx.Bucket(bucketModes).ForEach(func(k, v []byte) error {
			if len(k) != 1 || !domain.GlobalMode(k[0]).Valid() {
				j.logger.Warn(map[string]any{"key": fmt.Sprintf("%x", k)}, "Skipping unknown journal mode")
				return nil
			}
			if len(v) == 1 && v[0] == 1 {
				modes = append(modes, domain.GlobalMode(k[0]))
			}
			return nil
		}); err != nil {
			return err
		}
		return tx.Bucket(bucketLists).ForEach(func(k, _ []byte) error {
			mode, list, uid, ok := parseListKey(k)
			if !ok {
				j.logger.Warn(map[string]any{"key": fmt.Sprintf("%x", k)}, "Skipping unknown journal list entry")
				return nil
			}
			members = append(members, membership{mode, list, uid})
			return nil
		})
	})
	if err != nil {
		return fmt.Errorf("read journal: %w", err)
	}

	var errs []error
	for _, m := range members {
		if _, err := target.AddToList(m.mode, m.list, m.uid); err != nil {
			errs = append(errs, err)
		}
	}
	for _, m := range modes {
		target.SetGlobalMode(m, true)
	}

	j.logger.Info(map[string]any{
		"modes":   len(modes),
		"members": len(members),
		"skipped": len(errs),
	}, "Restored policy state from journal")
	return errors.Join(errs...)
}

// Follow records every event from events until ctx is cancelled or the
// stream closes. Write failures are logged and do not stop the loop.
func (j *Journal) Follow(ctx context.Context, events <-chan domain.ChangeEvent) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if err := j.Record(ev); err != nil {
				j.logger.Error(map[string]any{
					"event": ev.ID.String(),
					"kind":  ev.Kind.String(),
					"error": err.Error(),
				}, "Failed to journal policy change")
			}
		}
	}
}

func (j *Journal) Stats() Stats {
	st := Stats{}
	_ = j.db.View(func(tx *bbolt.Tx) error {
		_ = tx.Bucket(bucketModes).ForEach(func(_, v []byte) error {
			if len(v) == 1 && v[0] == 1 {
				st.Enabled++
			}
			return nil
		})
		st.Members = tx.Bucket(bucketLists).Stats().KeyN
		b := tx.Bucket(bucketMeta)
		if v := b.Get(keyVersion); len(v) == 8 {
			st.Version = binary.BigEndian.Uint64(v)
		}
		if v := b.Get(keyUpdated); len(v) == 8 {
			st.UpdatedUnix = int64(binary.BigEndian.Uint64(v))
		}
		return nil
	})
	return st
}

func bumpMeta(b *bbolt.Bucket, at time.Time) error {
	var version uint64
	if v := b.Get(keyVersion); len(v) == 8 {
		version = binary.BigEndian.Uint64(v)
	}
	vbuf := make([]byte, 8)
	ubuf := make([]byte, 8)
	binary.BigEndian.PutUint64(vbuf, version+1)
	binary.BigEndian.PutUint64(ubuf, uint64(at.Unix()))
	if err := b.Put(keyVersion, vbuf); err != nil {
		return err
	}
	return b.Put(keyUpdated, ubuf)
}

func modeKey(m domain.GlobalMode) []byte { return []byte{byte(m)} }

func boolValue(b bool) []byte {
	if b {
		return []byte{1}
	}
	return []byte{0}
}

// listKey is mode, list, then the UID big-endian so a cursor walks a list in UID order.
func listKey(m domain.GlobalMode, k domain.ListKind, uid domain.UID) []byte {
	buf := make([]byte, 6)
	buf[0] = byte(m)
	buf[1] = byte(k)
	binary.BigEndian.PutUint32(buf[2:], uint32(uid))
	return buf
}

func parseListKey(key []byte) (domain.GlobalMode, domain.ListKind, domain.UID, bool) {
	if len(key) != 6 {
		return 0, 0, 0, false
	}
	m, k := domain.GlobalMode(key[0]), domain.ListKind(key[1])
	if !m.Valid() || !domain.HasList(m, k) {
		return 0, 0, 0, false
	}
	uid := domain.UID(int32(binary.BigEndian.Uint32(key[2:])))
	if uid < 0 {
		return 0, 0, 0, false
	}
	return m, k, uid, true
}
