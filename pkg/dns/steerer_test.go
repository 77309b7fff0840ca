package dns

import (
	"context"
	"fmt"
	"testing"

	"github.com/benchub/pygmy/pkg/log"
	"github.com/benchub/pygmy/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	log.Init(log.Config{Level: log.ErrorLevel})
}

type recordedUpdate struct {
	zone, name, address, recordType string
}

type fakeUpdater struct {
	updates []recordedUpdate
	fail    bool
}

func (f *fakeUpdater) Update(ctx context.Context, zone, name, address, recordType string) error {
	if f.fail {
		return fmt.Errorf("updater exited 1")
	}
	f.updates = append(f.updates, recordedUpdate{zone, name, address, recordType})
	return nil
}

func computeReplica() *types.Node {
	return &types.Node{
		InstanceID:    "i-replica",
		Type:          types.NodeTypeCompute,
		PublicAddress: "203.0.113.2",
		DNS:           &types.DNSEntry{HostedZone: "example.com.", Name: "replica-1.example.com"},
	}
}

func computePrimary() *types.Node {
	return &types.Node{
		InstanceID:    "i-primary",
		Type:          types.NodeTypeCompute,
		Primary:       true,
		PublicAddress: "203.0.113.1",
	}
}

func TestSteerTargetSelection(t *testing.T) {
	tests := []struct {
		name            string
		action          types.RuleAction
		expectedAddress string
	}{
		// Scale-down parks reads on the primary while the replica bounces.
		{"scale down points at primary", types.ActionScaleDown, "203.0.113.1"},
		{"scale up points back at replica", types.ActionScaleUp, "203.0.113.2"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			updater := &fakeUpdater{}
			s := NewSteerer(updater)

			err := s.Steer(context.Background(), tt.action, computeReplica(), computePrimary())
			require.NoError(t, err)
			require.Len(t, updater.updates, 1)

			u := updater.updates[0]
			assert.Equal(t, "example.com.", u.zone)
			assert.Equal(t, "replica-1.example.com", u.name)
			assert.Equal(t, tt.expectedAddress, u.address)
			assert.Equal(t, RecordTypeA, u.recordType)
		})
	}
}

func TestSteerManagedDBUsesCNAME(t *testing.T) {
	updater := &fakeUpdater{}
	s := NewSteerer(updater)

	replica := &types.Node{
		InstanceID: "db-replica",
		Type:       types.NodeTypeManagedDB,
		Endpoint:   "replica.abc.rds.amazonaws.com",
		DNS:        &types.DNSEntry{HostedZone: "example.com.", Name: "reporting-db.example.com"},
	}
	primary := &types.Node{
		InstanceID: "db-primary",
		Type:       types.NodeTypeManagedDB,
		Primary:    true,
		Endpoint:   "primary.abc.rds.amazonaws.com",
	}

	require.NoError(t, s.Steer(context.Background(), types.ActionScaleDown, replica, primary))
	require.Len(t, updater.updates, 1)
	assert.Equal(t, RecordTypeCNAME, updater.updates[0].recordType)
	assert.Equal(t, "primary.abc.rds.amazonaws.com", updater.updates[0].address)
}

func TestSteerSkipsNodesWithoutDNS(t *testing.T) {
	updater := &fakeUpdater{}
	s := NewSteerer(updater)

	replica := computeReplica()
	replica.DNS = nil

	require.NoError(t, s.Steer(context.Background(), types.ActionScaleDown, replica, computePrimary()))
	assert.Empty(t, updater.updates)
}

func TestSteerErrors(t *testing.T) {
	t.Run("updater failure surfaces", func(t *testing.T) {
		s := NewSteerer(&fakeUpdater{fail: true})
		err := s.Steer(context.Background(), types.ActionScaleUp, computeReplica(), computePrimary())
		assert.Error(t, err)
	})

	t.Run("scale down without a primary", func(t *testing.T) {
		s := NewSteerer(&fakeUpdater{})
		err := s.Steer(context.Background(), types.ActionScaleDown, computeReplica(), nil)
		assert.Error(t, err)
	})

	t.Run("compute node without public address", func(t *testing.T) {
		s := NewSteerer(&fakeUpdater{})
		replica := computeReplica()
		replica.PublicAddress = ""
		err := s.Steer(context.Background(), types.ActionScaleUp, replica, computePrimary())
		assert.Error(t, err)
	})
}
