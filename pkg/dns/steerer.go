package dns

import (
	"context"
	"fmt"

	"github.com/benchub/pygmy/pkg/hooks"
	"github.com/benchub/pygmy/pkg/log"
	"github.com/benchub/pygmy/pkg/metrics"
	"github.com/benchub/pygmy/pkg/types"
	"github.com/rs/zerolog"
)

// Record types handed to the external updater
const (
	RecordTypeA     = "A"
	RecordTypeCNAME = "CNAME"
)

// Steerer points a replica's record at either the replica itself or the
// cluster primary, depending on the rule's action. During a scale-down the
// replica is briefly unusable and may be kept small afterwards; steering
// reads at the primary preserves availability.
type Steerer struct {
	updater hooks.DNSUpdater
	logger  zerolog.Logger
}

// NewSteerer creates a steerer over the external updater
func NewSteerer(updater hooks.DNSUpdater) *Steerer {
	return &Steerer{
		updater: updater,
		logger:  log.WithComponent("dns"),
	}
}

// Steer updates the replica's record for the given action. Nodes without
// a DNS entry are skipped.
func (s *Steerer) Steer(ctx context.Context, action types.RuleAction, replica, primary *types.Node) error {
	if replica.DNS == nil {
		return nil
	}

	target := replica
	if action == types.ActionScaleDown {
		if primary == nil {
			return fmt.Errorf("no primary known for %s, cannot steer reads away from replica", replica.InstanceID)
		}
		target = primary
	}

	recordType, address, err := recordFor(target)
	if err != nil {
		return err
	}

	s.logger.Info().
		Str("instance_id", replica.InstanceID).
		Str("record", replica.DNS.Name).
		Str("target", address).
		Str("record_type", recordType).
		Msg("Steering replica DNS")

	if err := s.updater.Update(ctx, replica.DNS.HostedZone, replica.DNS.Name, address, recordType); err != nil {
		metrics.DNSUpdatesTotal.WithLabelValues("failed").Inc()
		return err
	}
	metrics.DNSUpdatesTotal.WithLabelValues("success").Inc()
	return nil
}

// recordFor picks the record type and address by node type: compute nodes
// publish an IPv4 A record, managed databases a CNAME at their endpoint.
func recordFor(node *types.Node) (recordType, address string, err error) {
	switch node.Type {
	case types.NodeTypeManagedDB:
		if node.Endpoint == "" {
			return "", "", fmt.Errorf("node %s has no endpoint", node.InstanceID)
		}
		return RecordTypeCNAME, node.Endpoint, nil
	default:
		if node.PublicAddress == "" {
			return "", "", fmt.Errorf("node %s has no public address", node.InstanceID)
		}
		return RecordTypeA, node.PublicAddress, nil
	}
}
