package transfer

import (
	"encoding/binary"
	"math"
	"time"

	"go.etcd.io/bbolt"

	"github.com/wraith-network/wraith/pkg/wraitherr"
)

var reputationBucket = []byte("peer_reputation")

// ReputationStore persists per-peer EWMA scores across restarts so a
// multi-source transfer resuming after a crash does not re-learn peer
// speeds from a neutral baseline. Grounded on the teacher's disk.go
// approach of durable small-state persistence, here backed by bbolt
// instead of atomic file rename since scores update far more often than
// the resume bitmap and benefit from bbolt's transactional writes.
type ReputationStore struct {
	db *bbolt.DB
}

// OpenReputationStore opens (creating if absent) a bbolt database at path.
func OpenReputationStore(path string) (*ReputationStore, error) {
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, wraitherr.Wrap(wraitherr.FrameMalformed, "open reputation store", err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(reputationBucket)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, wraitherr.Wrap(wraitherr.FrameMalformed, "init reputation bucket", err)
	}
	return &ReputationStore{db: db}, nil
}

func (s *ReputationStore) Close() error {
	return s.db.Close()
}

// Save persists peer p's current score.
func (s *ReputationStore) Save(p PeerID, score float64) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(reputationBucket)
		var buf [8]byte
		binary.BigEndian.PutUint64(buf[:], math.Float64bits(score))
		return b.Put([]byte(p), buf[:])
	})
}

// Load returns peer p's previously persisted score, or ok=false if none is
// on record.
func (s *ReputationStore) Load(p PeerID) (score float64, ok bool) {
	_ = s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(reputationBucket)
		v := b.Get([]byte(p))
		if v == nil {
			return nil
		}
		score = math.Float64frombits(binary.BigEndian.Uint64(v))
		ok = true
		return nil
	})
	return score, ok
}

// SeedCoordinator registers every peer with a previously persisted score
// in c, falling back to the coordinator's neutral default for unknown
// peers.
func (s *ReputationStore) SeedCoordinator(c *Coordinator, peers []PeerID) {
	for _, p := range peers {
		c.AddPeer(p)
		if score, ok := s.Load(p); ok {
			c.mu.Lock()
			if ps, exists := c.peers[p]; exists {
				ps.Score = score
				ps.peakScore = score
			}
			c.mu.Unlock()
		}
	}
}
