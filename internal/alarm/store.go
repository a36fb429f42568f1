package alarm

import (
	"encoding/json"
	"fmt"

	bolt "go.etcd.io/bbolt"

	"github.com/sevenofnine/calendar-alarm-bridge/internal/domain"
)

const alarmsBucket = "alarms"

// Store is the alarm persistence port. The reconciler depends on exactly
// these four operations.
type Store interface {
	Add(a domain.Alarm) error
	Delete(id string) error
	DeleteAllWhere(pred func(domain.Alarm) bool) (int, error)
	List() ([]domain.Alarm, error)
}

type BoltStore struct {
	db *bolt.DB
}

func NewBoltStore(db *bolt.DB) (*BoltStore, error) {
	err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(alarmsBucket))
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("create alarms bucket: %w", err)
	}
	return &BoltStore{db: db}, nil
}

func (s *BoltStore) Add(a domain.Alarm) error {
	if a.ID == "" {
		return fmt.Errorf("alarm id is required")
	}
	raw, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("marshal alarm: %w", err)
	}
	err = s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(alarmsBucket)).Put([]byte(a.ID), raw)
	})
	if err != nil {
		return fmt.Errorf("add alarm %s: %w", a.ID, err)
	}
	return nil
}

func (s *BoltStore) Delete(id string) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(alarmsBucket)).Delete([]byte(id))
	})
	if err != nil {
		return fmt.Errorf("delete alarm %s: %w", id, err)
	}
	return nil
}

func (s *BoltStore) DeleteAllWhere(pred func(domain.Alarm) bool) (int, error) {
	var deleted int
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(alarmsBucket))
		var keys [][]byte
		err := b.ForEach(func(k, v []byte) error {
			var a domain.Alarm
			if err := json.Unmarshal(v, &a); err != nil {
				return fmt.Errorf("decode alarm %s: %w", k, err)
			}
			if pred(a) {
				keys = append(keys, append([]byte(nil), k...))
			}
			return nil
		})
		if err != nil {
			return err
		}
		for _, k := range keys {
			if err := b.Delete(k); err != nil {
				return err
			}
		}
		deleted = len(keys)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("delete alarms: %w", err)
	}
	return deleted, nil
}

func (s *BoltStore) List() ([]domain.Alarm, error) {
	var out []domain.Alarm
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(alarmsBucket)).ForEach(func(k, v []byte) error {
			var a domain.Alarm
			if err := json.Unmarshal(v, &a); err != nil {
				return fmt.Errorf("decode alarm %s: %w", k, err)
			}
			out = append(out, a)
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("list alarms: %w", err)
	}
	return out, nil
}
