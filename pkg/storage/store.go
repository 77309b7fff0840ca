package storage

import (
	"errors"
	"time"

	"github.com/benchub/pygmy/pkg/types"
)

// ErrNotFound is wrapped by lookups whose key has no record
var ErrNotFound = errors.New("not found")

// Store defines the interface for controller state storage
type Store interface {
	// Clusters
	CreateCluster(cluster *types.Cluster) error
	GetCluster(id string) (*types.Cluster, error)
	ListClusters() ([]*types.Cluster, error)
	UpdateCluster(cluster *types.Cluster) error
	DeleteCluster(id string) error

	// Cluster management policies
	PutClusterPolicy(policy *types.ClusterPolicy) error
	GetClusterPolicy(clusterID string) (*types.ClusterPolicy, error)
	DeleteClusterPolicy(clusterID string) error

	// Nodes
	CreateNode(node *types.Node) error
	GetNode(instanceID string) (*types.Node, error)
	ListNodes() ([]*types.Node, error)
	ListNodesByCluster(clusterID string) ([]*types.Node, error)
	UpdateNode(node *types.Node) error
	DeleteNode(instanceID string) error

	// Rules
	CreateRule(rule *types.Rule) error
	GetRule(id string) (*types.Rule, error)
	ListRules() ([]*types.Rule, error)
	UpdateRule(rule *types.Rule) error
	DeleteRule(id string) error

	// Exception calendar
	PutException(entry *types.ExceptionEntry) error
	GetException(date string) (*types.ExceptionEntry, error)
	ListExceptions() ([]*types.ExceptionEntry, error)
	DeleteException(date string) error

	// Credentials
	PutCredential(cred *types.Credential) error
	GetCredential(name string) (*types.Credential, error)
	DeleteCredential(name string) error

	// Instance-class catalog
	PutInstanceClasses(classes []*types.InstanceClass) error
	ListInstanceClasses() ([]*types.InstanceClass, error)

	// Fleet sync bookkeeping
	SetLastSync(t time.Time) error
	GetLastSync() (time.Time, error)

	// Utility
	Close() error
}
