package cloud

import (
	"context"
	"time"

	"github.com/benchub/pygmy/pkg/types"
)

// ModifyResult tags the outcome of a class-modify request
type ModifyResult int

const (
	// ModifyAccepted means the provider accepted the new class
	ModifyAccepted ModifyResult = iota
	// ModifyNeedFallback means the class was rejected as incompatible with
	// the instance's attributes; the caller should try the next fallback
	ModifyNeedFallback
	// ModifyFatal means an unrecoverable provider error occurred
	ModifyFatal
)

func (r ModifyResult) String() string {
	switch r {
	case ModifyAccepted:
		return "accepted"
	case ModifyNeedFallback:
		return "need_fallback"
	default:
		return "fatal"
	}
}

// InstanceState is the authoritative provider view of one instance
type InstanceState struct {
	InstanceID       string
	Region           string
	Name             string
	State            string
	InstanceClass    string
	PrivateAddress   string
	PublicAddress    string
	PrivateDNSName   string
	PublicDNSName    string
	VPCID            string
	AvailabilityZone string
	Architecture     string
	Tags             map[string]string
	LaunchTime       time.Time
}

// Adapter abstracts the provider control plane. Wait primitives honor the
// supplied timeout; a wait that gives up returns an error and leaves the
// instance in whatever state the provider reports next.
type Adapter interface {
	Describe(ctx context.Context, region string, instanceIDs []string) (map[string]*InstanceState, error)
	Stop(ctx context.Context, region, instanceID string) error
	WaitStopped(ctx context.Context, region, instanceID string, timeout time.Duration) error
	Modify(ctx context.Context, region, instanceID, instanceClass string) (ModifyResult, error)
	Start(ctx context.Context, region, instanceID string) error
	WaitRunning(ctx context.Context, region, instanceID string, timeout time.Duration) error
	ListClasses(ctx context.Context, region string) ([]*types.InstanceClass, error)
}
