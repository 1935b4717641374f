package store

import (
	"encoding/json"
	"fmt"

	bolt "go.etcd.io/bbolt"
)

// ResultData is the checkpointed outcome of a kernel run. Per-site
// tables are not checkpointed: they depend on the output selection and
// are cheap to recompute for the few selected pairs.
type ResultData struct {
	// Digest of the inputs the results were computed from.
	Digest string `json:"digest"`
	// Backend that produced the results.
	Backend string `json:"backend"`
	// PConvergent and PDivergent in enumeration order.
	PConvergent []float64 `json:"pConvergent"`
	PDivergent  []float64 `json:"pDivergent"`
}

// SaveResults checkpoints aggregate scalars under the input digest.
func (s *Store) SaveResults(data *ResultData) error {
	b, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("serializing results: %w", err)
	}
	err = s.db.Update(func(tx *bolt.Tx) error {
		rb, err := tx.CreateBucketIfNotExists(resultsBucket)
		if err != nil {
			return err
		}
		return rb.Put([]byte(data.Digest), b)
	})
	if err != nil {
		log.Error("Error saving results checkpoint: ", err)
		return err
	}
	return nil
}

// LoadResults returns the checkpointed scalars for the digest, or nil
// when none are stored.
func (s *Store) LoadResults(digest string) (*ResultData, error) {
	var raw []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		rb := tx.Bucket(resultsBucket)
		if rb == nil {
			return nil
		}
		if v := rb.Get([]byte(digest)); v != nil {
			raw = make([]byte, len(v))
			copy(raw, v)
		}
		return nil
	})
	if err != nil || raw == nil {
		return nil, err
	}

	var data ResultData
	if err = json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("parsing results checkpoint: %w", err)
	}
	log.Noticef("Found checkpointed results for this bundle (%s backend)", data.Backend)
	return &data, nil
}
