// Package capture records frames into a bbolt file and plays them back, and
// extracts frames from pcap captures of UDP telemetry.
package capture

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.etcd.io/bbolt"
	"sigs.k8s.io/yaml"

	"github.com/danmuck/mavwire/internal/logging"
	"github.com/danmuck/mavwire/internal/observability"
	"github.com/danmuck/mavwire/internal/protocol/frame"
)

const (
	sessionsBucket     = "sessions"
	FramesBucketPrefix = "frames_"
	timestampLen       = 8
)

var (
	ErrSessionNotFound = errors.New("capture: session not found")
	ErrSessionExists   = errors.New("capture: session already exists")
	ErrCorruptEntry    = errors.New("capture: corrupt entry")
)

// Session describes one recording. It is stored as YAML next to the frames.
type Session struct {
	Name    string    `json:"name"`
	Source  string    `json:"source"`
	Started time.Time `json:"started"`
	Frames  uint64    `json:"frames"`
}

// Entry is one recorded frame and the time it was seen.
type Entry struct {
	At    time.Time
	Frame frame.RawV2
}

type Store struct {
	db *bbolt.DB
}

func Open(path string) (*Store, error) {
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("capture: open %s: %w", path, err)
	}
	if err := db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(sessionsBucket))
		return err
	}); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

func framesBucket(name string) []byte { return []byte(FramesBucketPrefix + name) }

// Begin creates a session and returns a recorder appending to it.
func (s *Store) Begin(name, source string) (*Recorder, error) {
	meta := Session{Name: name, Source: source, Started: time.Now().UTC()}
	if err := s.db.Update(func(tx *bbolt.Tx) error {
		sessions := tx.Bucket([]byte(sessionsBucket))
		if sessions.Get([]byte(name)) != nil {
			return fmt.Errorf("%w: %s", ErrSessionExists, name)
		}
		if _, err := tx.CreateBucket(framesBucket(name)); err != nil {
			return err
		}
		return putSession(sessions, meta)
	}); err != nil {
		return nil, err
	}
	log := logging.Component("capture")
	log.Info().Str("session", name).Str("source", source).Msg("recording")
	return &Recorder{store: s, name: name}, nil
}

func putSession(b *bbolt.Bucket, meta Session) error {
	raw, err := yaml.Marshal(meta)
	if err != nil {
		return err
	}
	return b.Put([]byte(meta.Name), raw)
}

func getSession(b *bbolt.Bucket, name string) (Session, error) {
	raw := b.Get([]byte(name))
	if raw == nil {
		return Session{}, fmt.Errorf("%w: %s", ErrSessionNotFound, name)
	}
	var meta Session
	if err := yaml.Unmarshal(raw, &meta); err != nil {
		return Session{}, fmt.Errorf("capture: session %s: %w", name, err)
	}
	return meta, nil
}

func (s *Store) Session(name string) (Session, error) {
	var meta Session
	err := s.db.View(func(tx *bbolt.Tx) error {
		var err error
		meta, err = getSession(tx.Bucket([]byte(sessionsBucket)), name)
		return err
	})
	return meta, err
}

// Sessions lists recordings ordered by start time.
func (s *Store) Sessions() ([]Session, error) {
	var out []Session
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(sessionsBucket)).ForEach(func(k, v []byte) error {
			var meta Session
			if err := yaml.Unmarshal(v, &meta); err != nil {
				return fmt.Errorf("capture: session %s: %w", k, err)
			}
			out = append(out, meta)
			return nil
		})
	})
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Started.Equal(out[j].Started) {
			return out[i].Started.Before(out[j].Started)
		}
		return out[i].Name < out[j].Name
	})
	return out, err
}

func (s *Store) Delete(name string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		sessions := tx.Bucket([]byte(sessionsBucket))
		if sessions.Get([]byte(name)) == nil {
			return fmt.Errorf("%w: %s", ErrSessionNotFound, name)
		}
		if err := tx.DeleteBucket(framesBucket(name)); err != nil && !errors.Is(err, bbolt.ErrBucketNotFound) {
			return err
		}
		return sessions.Delete([]byte(name))
	})
}

// Recorder appends frames to one session. Each Record is its own
// transaction.
type Recorder struct {
	store *Store
	name  string
}

func (r *Recorder) Name() string { return r.name }

func (r *Recorder) Record(at time.Time, f *frame.RawV2) error {
	err := r.store.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(framesBucket(r.name))
		if b == nil {
			return fmt.Errorf("%w: %s", ErrSessionNotFound, r.name)
		}
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		key := make([]byte, 8)
		binary.BigEndian.PutUint64(key, seq)
		val := make([]byte, timestampLen+f.Len())
		binary.BigEndian.PutUint64(val, uint64(at.UnixNano()))
		copy(val[timestampLen:], f.Bytes())
		if err := b.Put(key, val); err != nil {
			return err
		}

		sessions := tx.Bucket([]byte(sessionsBucket))
		meta, err := getSession(sessions, r.name)
		if err != nil {
			return err
		}
		meta.Frames++
		return putSession(sessions, meta)
	})
	if err == nil {
		observability.RecordCapture("record", 1)
	}
	return err
}

type ReplayOptions struct {
	// Speed scales the recorded gaps between frames. Zero replays as fast as
	// fn returns.
	Speed float64
}

// Replay calls fn for every entry of a session in recording order.
func (s *Store) Replay(ctx context.Context, name string, opts ReplayOptions, fn func(Entry) error) (int, error) {
	var entries []Entry
	if err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(framesBucket(name))
		if b == nil {
			return fmt.Errorf("%w: %s", ErrSessionNotFound, name)
		}
		return b.ForEach(func(k, v []byte) error {
			e, err := decodeEntry(v)
			if err != nil {
				return fmt.Errorf("%w: key %x: %v", ErrCorruptEntry, k, err)
			}
			entries = append(entries, e)
			return nil
		})
	}); err != nil {
		return 0, err
	}

	var n int
	for i, e := range entries {
		if opts.Speed > 0 && i > 0 {
			gap := time.Duration(float64(e.At.Sub(entries[i-1].At)) / opts.Speed)
			if err := sleep(ctx, gap); err != nil {
				return n, err
			}
		}
		if err := ctx.Err(); err != nil {
			return n, err
		}
		if err := fn(e); err != nil {
			return n, err
		}
		n++
	}
	observability.RecordCapture("replay", n)
	return n, nil
}

func decodeEntry(v []byte) (Entry, error) {
	if len(v) < timestampLen+frame.HeaderLenV2+frame.ChecksumLen {
		return Entry{}, fmt.Errorf("entry of %d bytes", len(v))
	}
	var e Entry
	e.At = time.Unix(0, int64(binary.BigEndian.Uint64(v))).UTC()
	raw := v[timestampLen:]
	if len(raw) > frame.MaxFrameLenV2 {
		return Entry{}, fmt.Errorf("frame of %d bytes", len(raw))
	}
	copy(e.Frame[:], raw)
	if e.Frame.Len() != len(raw) {
		return Entry{}, fmt.Errorf("frame length %d does not match header %d", len(raw), e.Frame.Len())
	}
	return e, nil
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
