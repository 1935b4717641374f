// Package store reads the bolt database handed over by the upstream
// reconstruction phase (tree, posterior tensor, per-site rates) and
// checkpoints computed results back into it, so reruns without a per-site
// branch-pair selection skip the kernel.
package store

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"

	"github.com/op/go-logging"
	bolt "go.etcd.io/bbolt"

	"github.com/dekoninglab/grandconv/post"
	"github.com/dekoninglab/grandconv/tree"
)

// log is a global logging variable.
var log = logging.MustGetLogger("store")

// bucket names
var (
	metaBucket    = []byte("meta")
	treeBucket    = []byte("tree")
	conPBucket    = []byte("conp")
	ratesBucket   = []byte("rates")
	resultsBucket = []byte("results")
)

// key names
var (
	metaKey       = []byte("main")
	newickKey     = []byte("newick")
	siteRatesKey  = []byte("siteRates")
	postNumSubKey = []byte("postNumSub")
)

// Meta describes the tensor stored in the bundle.
type Meta struct {
	NNodes int `json:"nNodes"`
	NSites int `json:"nSites"`
	N      int `json:"n"`
}

// Bundle is the input handed over by the upstream phase.
type Bundle struct {
	Tree   *tree.Tree
	Tensor *post.Tensor
	// SiteRates are posterior mean rates per site; nil when the
	// upstream phase did not store them.
	SiteRates []float64
	// PostNumSub is the posterior expected number of substitutions per
	// site; nil when absent.
	PostNumSub []float64
}

// Store wraps the bolt database.
type Store struct {
	db *bolt.DB
}

// Open opens a bundle database.
func Open(path string, readOnly bool) (*Store, error) {
	db, err := bolt.Open(path, 0644, &bolt.Options{ReadOnly: readOnly})
	if err != nil {
		return nil, fmt.Errorf("opening bundle %s: %w", path, err)
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// floatsToBytes serializes a float64 slice little-endian.
func floatsToBytes(values []float64) []byte {
	b := make([]byte, uint64(len(values))*8)
	for i, v := range values {
		binary.LittleEndian.PutUint64(b[i*8:], math.Float64bits(v))
	}
	return b
}

// bytesToFloats deserializes a little-endian float64 slice.
func bytesToFloats(b []byte) ([]float64, error) {
	if len(b)%8 != 0 {
		return nil, fmt.Errorf("float buffer length %d not a multiple of 8", len(b))
	}
	values := make([]float64, len(b)/8)
	for i := range values {
		values[i] = math.Float64frombits(binary.LittleEndian.Uint64(b[i*8:]))
	}
	return values, nil
}

// nodeKey is the per-node conP key.
func nodeKey(v int) []byte {
	return []byte(fmt.Sprintf("n%d", v))
}

// LoadBundle reads the tree, tensor and optional site vectors.
func (s *Store) LoadBundle() (*Bundle, error) {
	bundle := &Bundle{}
	var meta Meta

	err := s.db.View(func(tx *bolt.Tx) error {
		mb := tx.Bucket(metaBucket)
		if mb == nil {
			return fmt.Errorf("bundle has no meta bucket")
		}
		if err := json.Unmarshal(mb.Get(metaKey), &meta); err != nil {
			return fmt.Errorf("parsing meta: %w", err)
		}

		tb := tx.Bucket(treeBucket)
		if tb == nil {
			return fmt.Errorf("bundle has no tree bucket")
		}
		t, err := tree.ParseNewick(bytes.NewReader(tb.Get(newickKey)))
		if err != nil {
			return fmt.Errorf("parsing bundle tree: %w", err)
		}
		bundle.Tree = t

		cb := tx.Bucket(conPBucket)
		if cb == nil {
			return fmt.Errorf("bundle has no conp bucket")
		}
		stride := uint64(meta.NSites) * uint64(meta.N) * uint64(meta.N)
		conP := make([]float64, 0, stride*uint64(meta.NNodes))
		offsets := make([]uint64, meta.NNodes+1)
		for v := 0; v < meta.NNodes; v++ {
			raw := cb.Get(nodeKey(v))
			if raw == nil {
				return fmt.Errorf("bundle is missing conP for node %d", v)
			}
			values, err := bytesToFloats(raw)
			if err != nil {
				return fmt.Errorf("conP for node %d: %w", v, err)
			}
			conP = append(conP, values...)
			offsets[v+1] = offsets[v] + uint64(len(values))
		}
		bundle.Tensor, err = post.New(conP, offsets, meta.NNodes, meta.NSites, meta.N)
		if err != nil {
			return fmt.Errorf("building tensor: %w", err)
		}

		if rb := tx.Bucket(ratesBucket); rb != nil {
			if raw := rb.Get(siteRatesKey); raw != nil {
				if bundle.SiteRates, err = bytesToFloats(raw); err != nil {
					return fmt.Errorf("site rates: %w", err)
				}
			}
			if raw := rb.Get(postNumSubKey); raw != nil {
				if bundle.PostNumSub, err = bytesToFloats(raw); err != nil {
					return fmt.Errorf("postNumSub: %w", err)
				}
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if err = bundle.Tensor.Validate(); err != nil {
		return nil, fmt.Errorf("bundle tensor: %w", err)
	}
	if bundle.Tree.NNodes() != meta.NNodes {
		return nil, fmt.Errorf("bundle tree has %d nodes, meta says %d", bundle.Tree.NNodes(), meta.NNodes)
	}

	log.Infof("Loaded bundle: %d nodes, %d sites, n=%d", meta.NNodes, meta.NSites, meta.N)
	return bundle, nil
}

// SaveBundle writes a bundle; used by tests and by the upstream phase.
func SaveBundle(path string, t *tree.Tree, tensor *post.Tensor, siteRates, postNumSub []float64) error {
	db, err := bolt.Open(path, 0644, nil)
	if err != nil {
		return fmt.Errorf("creating bundle %s: %w", path, err)
	}
	defer db.Close()

	return db.Update(func(tx *bolt.Tx) error {
		mb, err := tx.CreateBucketIfNotExists(metaBucket)
		if err != nil {
			return err
		}
		meta, err := json.Marshal(Meta{NNodes: tensor.NNodes, NSites: tensor.NSites, N: tensor.N})
		if err != nil {
			return err
		}
		if err = mb.Put(metaKey, meta); err != nil {
			return err
		}

		tb, err := tx.CreateBucketIfNotExists(treeBucket)
		if err != nil {
			return err
		}
		if err = tb.Put(newickKey, []byte(t.String())); err != nil {
			return err
		}

		cb, err := tx.CreateBucketIfNotExists(conPBucket)
		if err != nil {
			return err
		}
		stride := uint64(tensor.NSites) * uint64(tensor.N) * uint64(tensor.N)
		for v := 0; v < tensor.NNodes; v++ {
			begin := tensor.Offsets[v]
			if err = cb.Put(nodeKey(v), floatsToBytes(tensor.ConP[begin:begin+stride])); err != nil {
				return err
			}
		}

		if siteRates != nil || postNumSub != nil {
			rb, err := tx.CreateBucketIfNotExists(ratesBucket)
			if err != nil {
				return err
			}
			if siteRates != nil {
				if err = rb.Put(siteRatesKey, floatsToBytes(siteRates)); err != nil {
					return err
				}
			}
			if postNumSub != nil {
				if err = rb.Put(postNumSubKey, floatsToBytes(postNumSub)); err != nil {
					return err
				}
			}
		}
		return nil
	})
}

// Digest identifies a bundle's compute inputs: tree topology, tensor
// layout and contents. Results are checkpointed under it.
func (b *Bundle) Digest() string {
	h := sha256.New()
	h.Write([]byte(b.Tree.String()))
	var dims [24]byte
	binary.LittleEndian.PutUint64(dims[0:], uint64(b.Tensor.NNodes))
	binary.LittleEndian.PutUint64(dims[8:], uint64(b.Tensor.NSites))
	binary.LittleEndian.PutUint64(dims[16:], uint64(b.Tensor.N))
	h.Write(dims[:])
	h.Write(floatsToBytes(b.Tensor.ConP))
	return hex.EncodeToString(h.Sum(nil))
}
