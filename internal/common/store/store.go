package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/dgraph-io/badger/v4"
)

// Store is the persistence collaborator: a badger-backed sink for computed
// entities, flows and snapshot metadata. Writes are fire-and-forget from the
// pipeline's point of view; a failed write never touches live aggregation.
type Store struct {
	db   *badger.DB
	path string
}

type EntityRecord struct {
	MAC          string    `json:"mac"`
	IPs          []string  `json:"ips,omitempty"`
	Vendor       string    `json:"vendor,omitempty"`
	Role         string    `json:"role"`
	FirstSeen    time.Time `json:"first_seen"`
	LastSeen     time.Time `json:"last_seen"`
	PacketCount  uint64    `json:"packet_count"`
	Fingerprints []string  `json:"fingerprints,omitempty"`
}

type FlowRecord struct {
	EndpointA   string    `json:"endpoint_a"`
	EndpointB   string    `json:"endpoint_b"`
	Transport   string    `json:"transport"`
	Protocols   []string  `json:"protocols,omitempty"`
	L7Protocol  string    `json:"l7_protocol"`
	VLANID      uint16    `json:"vlan_id,omitempty"`
	PacketsAtoB uint64    `json:"packets_a_to_b"`
	PacketsBtoA uint64    `json:"packets_b_to_a"`
	BytesAtoB   uint64    `json:"bytes_a_to_b"`
	BytesBtoA   uint64    `json:"bytes_b_to_a"`
	FirstSeen   time.Time `json:"first_seen"`
	LastSeen    time.Time `json:"last_seen"`
}

type SnapshotMeta struct {
	ID          string    `json:"id"`
	TakenAt     time.Time `json:"taken_at"`
	EntityCount int       `json:"entity_count"`
	FlowCount   int       `json:"flow_count"`
}

func Open(path string) (*Store, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve path: %w", err)
	}

	if err := os.MkdirAll(absPath, 0750); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	opts := badger.DefaultOptions(absPath).
		WithLogger(nil).
		WithLoggingLevel(badger.ERROR)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	return &Store{
		db:   db,
		path: absPath,
	}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) SaveEntity(entity *EntityRecord) error {
	key := []byte(fmt.Sprintf("entity:%s", entity.MAC))
	data, err := json.Marshal(entity)
	if err != nil {
		return fmt.Errorf("failed to marshal entity: %w", err)
	}

	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, data)
	})
}

func (s *Store) GetEntity(mac string) (*EntityRecord, error) {
	key := []byte(fmt.Sprintf("entity:%s", mac))
	var entity EntityRecord

	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &entity)
		})
	})
	if err != nil {
		return nil, err
	}
	return &entity, nil
}

func (s *Store) SaveFlow(flow *FlowRecord) error {
	key := []byte(fmt.Sprintf("flow:%s|%s|%s", flow.EndpointA, flow.EndpointB, flow.Transport))
	data, err := json.Marshal(flow)
	if err != nil {
		return fmt.Errorf("failed to marshal flow: %w", err)
	}

	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, data)
	})
}

func (s *Store) SaveSnapshotMeta(meta *SnapshotMeta) error {
	key := []byte(fmt.Sprintf("snapshot:%s", meta.ID))
	data, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot metadata: %w", err)
	}

	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, data)
	})
}

func (s *Store) ListEntities(limit int) ([]*EntityRecord, error) {
	var entities []*EntityRecord
	prefix := []byte("entity:")

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		count := 0
		for it.Seek(prefix); it.ValidForPrefix(prefix) && count < limit; it.Next() {
			item := it.Item()
			err := item.Value(func(val []byte) error {
				var entity EntityRecord
				if err := json.Unmarshal(val, &entity); err != nil {
					return err
				}
				entities = append(entities, &entity)
				return nil
			})
			if err != nil {
				return err
			}
			count++
		}
		return nil
	})

	return entities, err
}

func (s *Store) ListFlows(limit int) ([]*FlowRecord, error) {
	var flows []*FlowRecord
	prefix := []byte("flow:")

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		count := 0
		for it.Seek(prefix); it.ValidForPrefix(prefix) && count < limit; it.Next() {
			item := it.Item()
			err := item.Value(func(val []byte) error {
				var flow FlowRecord
				if err := json.Unmarshal(val, &flow); err != nil {
					return err
				}
				flows = append(flows, &flow)
				return nil
			})
			if err != nil {
				return err
			}
			count++
		}
		return nil
	})

	return flows, err
}

// DeleteStaleFlows removes persisted flows last seen before the cutoff.
func (s *Store) DeleteStaleFlows(before time.Time) (int, error) {
	deleted := 0
	prefix := []byte("flow:")

	err := s.db.Update(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			err := item.Value(func(val []byte) error {
				var flow FlowRecord
				if err := json.Unmarshal(val, &flow); err != nil {
					return nil
				}
				if flow.LastSeen.Before(before) {
					if err := txn.Delete(item.Key()); err != nil {
						return err
					}
					deleted++
				}
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})

	return deleted, err
}

func (s *Store) RunGC() error {
	return s.db.RunValueLogGC(0.5)
}
