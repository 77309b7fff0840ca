package storage

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	"github.com/benchub/pygmy/pkg/types"
	bolt "go.etcd.io/bbolt"
)

var (
	// Bucket names
	bucketClusters        = []byte("clusters")
	bucketClusterPolicies = []byte("cluster_policies")
	bucketNodes           = []byte("nodes")
	bucketRules           = []byte("rules")
	bucketExceptions      = []byte("exceptions")
	bucketCredentials     = []byte("credentials")
	bucketInstanceClasses = []byte("instance_classes")
	bucketMeta            = []byte("meta")
)

var keyLastSync = []byte("last_sync")

// BoltStore implements Store interface using BoltDB
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore creates a new BoltDB-backed store
func NewBoltStore(dataDir string) (*BoltStore, error) {
	dbPath := filepath.Join(dataDir, "pygmy.db")

	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		buckets := [][]byte{
			bucketClusters,
			bucketClusterPolicies,
			bucketNodes,
			bucketRules,
			bucketExceptions,
			bucketCredentials,
			bucketInstanceClasses,
			bucketMeta,
		}

		for _, bucket := range buckets {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})

	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

// Close closes the database
func (s *BoltStore) Close() error {
	return s.db.Close()
}

func (s *BoltStore) put(bucket []byte, key string, v interface{}) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucket)
		data, err := json.Marshal(v)
		if err != nil {
			return err
		}
		return b.Put([]byte(key), data)
	})
}

func (s *BoltStore) get(bucket []byte, key string, v interface{}, kind string) error {
	return s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucket)
		data := b.Get([]byte(key))
		if data == nil {
			return fmt.Errorf("%s %s: %w", kind, key, ErrNotFound)
		}
		return json.Unmarshal(data, v)
	})
}

func (s *BoltStore) delete(bucket []byte, key string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucket)
		return b.Delete([]byte(key))
	})
}

// Cluster operations
func (s *BoltStore) CreateCluster(cluster *types.Cluster) error {
	return s.put(bucketClusters, cluster.ID, cluster)
}

func (s *BoltStore) GetCluster(id string) (*types.Cluster, error) {
	var cluster types.Cluster
	err := s.get(bucketClusters, id, &cluster, "cluster")
	return &cluster, err
}

func (s *BoltStore) ListClusters() ([]*types.Cluster, error) {
	var clusters []*types.Cluster
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketClusters)
		return b.ForEach(func(k, v []byte) error {
			var cluster types.Cluster
			if err := json.Unmarshal(v, &cluster); err != nil {
				return err
			}
			clusters = append(clusters, &cluster)
			return nil
		})
	})
	return clusters, err
}

func (s *BoltStore) UpdateCluster(cluster *types.Cluster) error {
	return s.CreateCluster(cluster) // Same as create (upsert)
}

func (s *BoltStore) DeleteCluster(id string) error {
	return s.delete(bucketClusters, id)
}

// Cluster policy operations
func (s *BoltStore) PutClusterPolicy(policy *types.ClusterPolicy) error {
	return s.put(bucketClusterPolicies, policy.ClusterID, policy)
}

func (s *BoltStore) GetClusterPolicy(clusterID string) (*types.ClusterPolicy, error) {
	var policy types.ClusterPolicy
	err := s.get(bucketClusterPolicies, clusterID, &policy, "cluster policy")
	return &policy, err
}

func (s *BoltStore) DeleteClusterPolicy(clusterID string) error {
	return s.delete(bucketClusterPolicies, clusterID)
}

// Node operations
func (s *BoltStore) CreateNode(node *types.Node) error {
	return s.put(bucketNodes, node.InstanceID, node)
}

func (s *BoltStore) GetNode(instanceID string) (*types.Node, error) {
	var node types.Node
	err := s.get(bucketNodes, instanceID, &node, "node")
	return &node, err
}

func (s *BoltStore) ListNodes() ([]*types.Node, error) {
	var nodes []*types.Node
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketNodes)
		return b.ForEach(func(k, v []byte) error {
			var node types.Node
			if err := json.Unmarshal(v, &node); err != nil {
				return err
			}
			nodes = append(nodes, &node)
			return nil
		})
	})
	return nodes, err
}

func (s *BoltStore) ListNodesByCluster(clusterID string) ([]*types.Node, error) {
	nodes, err := s.ListNodes()
	if err != nil {
		return nil, err
	}

	var filtered []*types.Node
	for _, node := range nodes {
		if node.ClusterID == clusterID {
			filtered = append(filtered, node)
		}
	}
	return filtered, nil
}

func (s *BoltStore) UpdateNode(node *types.Node) error {
	return s.CreateNode(node)
}

func (s *BoltStore) DeleteNode(instanceID string) error {
	return s.delete(bucketNodes, instanceID)
}

// Rule operations
func (s *BoltStore) CreateRule(rule *types.Rule) error {
	return s.put(bucketRules, rule.ID, rule)
}

func (s *BoltStore) GetRule(id string) (*types.Rule, error) {
	var rule types.Rule
	err := s.get(bucketRules, id, &rule, "rule")
	return &rule, err
}

func (s *BoltStore) ListRules() ([]*types.Rule, error) {
	var rules []*types.Rule
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketRules)
		return b.ForEach(func(k, v []byte) error {
			var rule types.Rule
			if err := json.Unmarshal(v, &rule); err != nil {
				return err
			}
			rules = append(rules, &rule)
			return nil
		})
	})
	return rules, err
}

func (s *BoltStore) UpdateRule(rule *types.Rule) error {
	return s.CreateRule(rule)
}

func (s *BoltStore) DeleteRule(id string) error {
	return s.delete(bucketRules, id)
}

// Exception calendar operations
func (s *BoltStore) PutException(entry *types.ExceptionEntry) error {
	return s.put(bucketExceptions, entry.Date, entry)
}

func (s *BoltStore) GetException(date string) (*types.ExceptionEntry, error) {
	var entry types.ExceptionEntry
	err := s.get(bucketExceptions, date, &entry, "exception entry")
	return &entry, err
}

func (s *BoltStore) ListExceptions() ([]*types.ExceptionEntry, error) {
	var entries []*types.ExceptionEntry
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketExceptions)
		return b.ForEach(func(k, v []byte) error {
			var entry types.ExceptionEntry
			if err := json.Unmarshal(v, &entry); err != nil {
				return err
			}
			entries = append(entries, &entry)
			return nil
		})
	})
	return entries, err
}

func (s *BoltStore) DeleteException(date string) error {
	return s.delete(bucketExceptions, date)
}

// Credential operations
func (s *BoltStore) PutCredential(cred *types.Credential) error {
	return s.put(bucketCredentials, cred.Name, cred)
}

func (s *BoltStore) GetCredential(name string) (*types.Credential, error) {
	var cred types.Credential
	err := s.get(bucketCredentials, name, &cred, "credential")
	return &cred, err
}

func (s *BoltStore) DeleteCredential(name string) error {
	return s.delete(bucketCredentials, name)
}

// Instance-class catalog operations
func (s *BoltStore) PutInstanceClasses(classes []*types.InstanceClass) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketInstanceClasses)
		for _, class := range classes {
			data, err := json.Marshal(class)
			if err != nil {
				return err
			}
			if err := b.Put([]byte(class.Name), data); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *BoltStore) ListInstanceClasses() ([]*types.InstanceClass, error) {
	var classes []*types.InstanceClass
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketInstanceClasses)
		return b.ForEach(func(k, v []byte) error {
			var class types.InstanceClass
			if err := json.Unmarshal(v, &class); err != nil {
				return err
			}
			classes = append(classes, &class)
			return nil
		})
	})
	return classes, err
}

// Fleet sync bookkeeping
func (s *BoltStore) SetLastSync(t time.Time) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketMeta)
		return b.Put(keyLastSync, []byte(t.UTC().Format(time.RFC3339)))
	})
}

func (s *BoltStore) GetLastSync() (time.Time, error) {
	var ts time.Time
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketMeta)
		data := b.Get(keyLastSync)
		if data == nil {
			return nil
		}
		parsed, err := time.Parse(time.RFC3339, string(data))
		if err != nil {
			return fmt.Errorf("corrupt last_sync value: %w", err)
		}
		ts = parsed
		return nil
	})
	return ts, err
}
