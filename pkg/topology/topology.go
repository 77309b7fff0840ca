package topology

import (
	"fmt"
	"time"

	"github.com/benchub/pygmy/pkg/log"
	"github.com/benchub/pygmy/pkg/storage"
	"github.com/benchub/pygmy/pkg/types"
	"github.com/rs/zerolog"
	"github.com/samber/lo"
)

// View is a read-only projection of the persisted fleet. The discovery
// pass owns writes to cluster and node topology; rule activations only
// read through this view, once per activation.
type View struct {
	store   storage.Store
	tagKey  string
	tagVal  string
	regions []string
	logger  zerolog.Logger
}

// NewView creates a fleet view filtered by the managed-fleet tag and the
// enabled region list
func NewView(store storage.Store, tagKey, tagValue string, regions []string) *View {
	return &View{
		store:   store,
		tagKey:  tagKey,
		tagVal:  tagValue,
		regions: regions,
		logger:  log.WithComponent("topology"),
	}
}

// Fleet returns {instance id → node} for every managed node
func (v *View) Fleet() (map[string]*types.Node, error) {
	nodes, err := v.store.ListNodes()
	if err != nil {
		return nil, fmt.Errorf("failed to list nodes: %w", err)
	}

	managed := lo.Filter(nodes, func(n *types.Node, _ int) bool {
		return v.managed(n)
	})

	return lo.SliceToMap(managed, func(n *types.Node) (string, *types.Node) {
		return n.InstanceID, n
	}), nil
}

// ClusterNodes materializes a cluster's primary and replica set in one
// pass. Returns an error when the cluster has no known primary.
func (v *View) ClusterNodes(clusterID string) (primary *types.Node, replicas []*types.Node, err error) {
	nodes, err := v.store.ListNodesByCluster(clusterID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to list cluster nodes: %w", err)
	}

	for _, node := range nodes {
		if !v.managed(node) {
			v.logger.Debug().
				Str("instance_id", node.InstanceID).
				Msg("Skipping unmanaged node in cluster")
			continue
		}
		if node.Primary {
			if primary != nil {
				return nil, nil, fmt.Errorf("cluster %s has more than one primary (%s, %s)",
					clusterID, primary.InstanceID, node.InstanceID)
			}
			primary = node
			continue
		}
		replicas = append(replicas, node)
	}

	if primary == nil {
		return nil, nil, fmt.Errorf("cluster %s has no known primary", clusterID)
	}
	return primary, replicas, nil
}

// LastSync reports when the discovery pass last refreshed the fleet
func (v *View) LastSync() (time.Time, error) {
	return v.store.GetLastSync()
}

func (v *View) managed(n *types.Node) bool {
	if v.tagKey != "" && n.Tags[v.tagKey] != v.tagVal {
		return false
	}
	if len(v.regions) > 0 && !lo.Contains(v.regions, n.Region) {
		return false
	}
	return true
}
