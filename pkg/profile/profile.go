package profile

import (
	"encoding/json"
	"fmt"
	"os"
	"os/user"
	"path/filepath"
	"runtime"
	"time"

	"github.com/drewcsillag/notecove/pkg/layout"
	"github.com/drewcsillag/notecove/pkg/types"
	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"
)

var (
	// Bucket names
	bucketIdentity  = []byte("identity")
	bucketSettings  = []byte("settings")
	bucketPollStats = []byte("pollstats")

	keyInstanceID  = []byte("instance_id")
	keyProfileID   = []byte("profile_id")
	keyProfileName = []byte("profile_name")
)

// StalePresenceAge is how old a presence record may be before it is
// reported as stale.
const StalePresenceAge = 7 * 24 * time.Hour

// DB is the profile-local database: the instance identity, stored
// settings, and per-SD polling statistics.
type DB struct {
	db  *bolt.DB
	dir string
}

// Open opens (or initializes) the profile database under profileDir. The
// instance and profile ids are generated on first open and immutable
// afterwards.
func Open(profileDir string) (*DB, error) {
	if err := os.MkdirAll(profileDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create profile directory: %w", err)
	}
	dbPath := filepath.Join(profileDir, "profile.db")

	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{bucketIdentity, bucketSettings, bucketPollStats} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}
		b := tx.Bucket(bucketIdentity)
		if b.Get(keyInstanceID) == nil {
			if err := b.Put(keyInstanceID, []byte(uuid.NewString())); err != nil {
				return err
			}
		}
		if b.Get(keyProfileID) == nil {
			if err := b.Put(keyProfileID, []byte(uuid.NewString())); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &DB{db: db, dir: profileDir}, nil
}

// Close closes the database
func (d *DB) Close() error {
	return d.db.Close()
}

// Dir returns the profile directory.
func (d *DB) Dir() string { return d.dir }

// InstanceID returns the immutable instance id chosen at initialization.
func (d *DB) InstanceID() (string, error) {
	return d.identity(keyInstanceID)
}

// ProfileID returns the immutable profile id.
func (d *DB) ProfileID() (string, error) {
	return d.identity(keyProfileID)
}

func (d *DB) identity(key []byte) (string, error) {
	var value string
	err := d.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketIdentity).Get(key)
		if data == nil {
			return fmt.Errorf("%w: identity %s", types.ErrNotFound, key)
		}
		value = string(data)
		return nil
	})
	return value, err
}

// SetProfileName stores the user-facing profile name.
func (d *DB) SetProfileName(name string) error {
	return d.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketIdentity).Put(keyProfileName, []byte(name))
	})
}

// ProfileName returns the stored profile name, empty if never set.
func (d *DB) ProfileName() string {
	var name string
	_ = d.db.View(func(tx *bolt.Tx) error {
		if data := tx.Bucket(bucketIdentity).Get(keyProfileName); data != nil {
			name = string(data)
		}
		return nil
	})
	return name
}

// PutSetting stores one settings blob under key.
func (d *DB) PutSetting(key string, value []byte) error {
	return d.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketSettings).Put([]byte(key), value)
	})
}

// GetSetting reads one settings blob; nil if unset.
func (d *DB) GetSetting(key string) ([]byte, error) {
	var value []byte
	err := d.db.View(func(tx *bolt.Tx) error {
		if data := tx.Bucket(bucketSettings).Get([]byte(key)); data != nil {
			value = append([]byte(nil), data...)
		}
		return nil
	})
	return value, err
}

// PollStats is the per-SD polling counters kept across restarts.
type PollStats struct {
	Polls int64 `json:"polls"`
	Hits  int64 `json:"hits"`
}

// AddPollStats accumulates polling counters for an SD.
func (d *DB) AddPollStats(sdID string, polls, hits int64) error {
	return d.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketPollStats)
		var stats PollStats
		if data := b.Get([]byte(sdID)); data != nil {
			if err := json.Unmarshal(data, &stats); err != nil {
				stats = PollStats{}
			}
		}
		stats.Polls += polls
		stats.Hits += hits
		data, err := json.Marshal(stats)
		if err != nil {
			return err
		}
		return b.Put([]byte(sdID), data)
	})
}

// GetPollStats reads the accumulated polling counters for an SD.
func (d *DB) GetPollStats(sdID string) (PollStats, error) {
	var stats PollStats
	err := d.db.View(func(tx *bolt.Tx) error {
		if data := tx.Bucket(bucketPollStats).Get([]byte(sdID)); data != nil {
			return json.Unmarshal(data, &stats)
		}
		return nil
	})
	return stats, err
}

// WritePresence publishes this profile's presence record into an SD.
func (d *DB) WritePresence(sd layout.SD, appVersion string) error {
	profileID, err := d.ProfileID()
	if err != nil {
		return err
	}
	instanceID, err := d.InstanceID()
	if err != nil {
		return err
	}

	hostname, _ := os.Hostname()
	username := ""
	userName := ""
	if u, err := user.Current(); err == nil {
		username = u.Username
		userName = u.Name
	}

	presence := types.Presence{
		ProfileID:   profileID,
		InstanceID:  instanceID,
		ProfileName: d.ProfileName(),
		User:        userName,
		Username:    username,
		Hostname:    hostname,
		Platform:    platformName(),
		AppVersion:  appVersion,
		LastUpdated: types.NowMillis(),
	}

	if err := layout.EnsureDir(sd.ProfilesDir()); err != nil {
		return err
	}
	data, err := json.MarshalIndent(presence, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(sd.ProfilePath(profileID), data, 0644); err != nil {
		return fmt.Errorf("failed to write presence: %w", err)
	}
	return nil
}

// ReadPresences reads every parseable presence record in an SD.
func ReadPresences(sd layout.SD) ([]types.Presence, error) {
	entries, err := os.ReadDir(sd.ProfilesDir())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to list profiles: %w", err)
	}

	var presences []types.Presence
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".json" {
			continue
		}
		data, err := os.ReadFile(filepath.Join(sd.ProfilesDir(), e.Name()))
		if err != nil {
			continue
		}
		var p types.Presence
		if err := json.Unmarshal(data, &p); err != nil || p.ProfileID == "" {
			continue
		}
		presences = append(presences, p)
	}
	return presences, nil
}

// IsStale reports whether a presence record has not been refreshed within
// StalePresenceAge.
func IsStale(p types.Presence, now int64) bool {
	return now-p.LastUpdated > StalePresenceAge.Milliseconds()
}

func platformName() string {
	switch runtime.GOOS {
	case "darwin", "linux", "ios":
		return runtime.GOOS
	case "windows":
		return "win32"
	default:
		return runtime.GOOS
	}
}
