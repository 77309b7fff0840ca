package types

import (
	"time"
)

// Cluster represents a primary/replica database cluster
type Cluster struct {
	ID             string
	Name           string
	PrimaryAddress string // private address of the current primary node
	DatabaseName   string
	CreatedAt      time.Time
}

// ClusterPolicy is an optional per-cluster override. When AvgLoad is set
// (> 0) the evaluator packs replicas against a cluster-wide load budget
// instead of checking load per replica.
type ClusterPolicy struct {
	ClusterID string
	AvgLoad   float64
	UpdatedAt time.Time
}

// NodeType distinguishes self-managed database hosts from provider-managed ones
type NodeType string

const (
	NodeTypeCompute   NodeType = "ec2"
	NodeTypeManagedDB NodeType = "rds"
)

// DNSEntry is the record a replica's rule may steer
type DNSEntry struct {
	HostedZone string
	Name       string
}

// Node represents one database server in the fleet
type Node struct {
	InstanceID        string
	Name              string
	ClusterID         string
	Type              NodeType
	Region            string
	VPCID             string
	AvailabilityZone  string
	InstanceClass     string
	LastInstanceClass string // class before the most recent scale; written only on a successful scale commit
	PrivateAddress    string
	PublicAddress     string
	Endpoint          string // managed-db endpoint hostname
	DNS               *DNSEntry
	Primary           bool
	Reachable         bool
	Tags              map[string]string
	LaunchedAt        time.Time
	SyncedAt          time.Time
}

// Address returns the address a database session should connect to
func (n *Node) Address() string {
	if n.Type == NodeTypeManagedDB {
		return n.Endpoint
	}
	return n.PrivateAddress
}

// RuleAction defines the direction of a scaling rule
type RuleAction string

const (
	ActionScaleDown RuleAction = "scale_down"
	ActionScaleUp   RuleAction = "scale_up"
)

// Inverse returns the opposite action (used when deriving a reverse rule)
func (a RuleAction) Inverse() RuleAction {
	if a == ActionScaleDown {
		return ActionScaleUp
	}
	return ActionScaleDown
}

// ScheduleType defines how a rule's run time is expressed
type ScheduleType string

const (
	ScheduleDaily ScheduleType = "daily"
	ScheduleCron  ScheduleType = "cron"
)

// Schedule is either a daily "HH:MM" or a full cron expression
type Schedule struct {
	Type ScheduleType
	At   string
}

// PredicateMetric names a probed replica metric
type PredicateMetric string

const (
	MetricReplicationLag    PredicateMetric = "replication_lag"
	MetricActiveConnections PredicateMetric = "active_connections"
	MetricLoadAverage       PredicateMetric = "load_average"
)

// PredicateOp is the comparison applied between metric and threshold
type PredicateOp string

const (
	OpEqual   PredicateOp = "equal"
	OpGreater PredicateOp = "greater"
	OpLess    PredicateOp = "less"
)

// Predicate is one safety check a replica must pass before scaling
type Predicate struct {
	Metric    PredicateMetric
	Op        PredicateOp
	Threshold float64
}

// RetryPolicy controls how a failed rule activation is retried
type RetryPolicy struct {
	AfterMinutes int
	Max          int
	Tries        int // advanced by the dispatcher, reset once Max is exceeded or on success
}

// Rule defines one scheduled scaling action against a cluster's replicas
type Rule struct {
	ID              string
	Name            string
	ClusterID       string
	Action          RuleAction
	Schedule        Schedule
	TargetClass     string
	FallbackClasses []string
	Predicates      []Predicate
	Retry           *RetryPolicy
	ParentID        string // set on a reverse rule, pointing at its parent
	ReverseID       string // set on a parent that has a reverse twin
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// IsReverse reports whether the rule restores a previous size rather than
// proposing a new one
func (r *Rule) IsReverse() bool {
	return r.ParentID != ""
}

// ExceptionEntry freezes the listed clusters on one calendar date
type ExceptionEntry struct {
	Date       string // YYYY-MM-DD
	ClusterIDs []string
}

// Covers reports whether the entry suppresses the given cluster
func (e *ExceptionEntry) Covers(clusterID string) bool {
	for _, id := range e.ClusterIDs {
		if id == clusterID {
			return true
		}
	}
	return false
}

// Credential is a named secret, opaque to the core
type Credential struct {
	Name        string
	Description string
	Username    string
	Password    string
}

// InstanceClass is one entry of the provider's sizing catalog
type InstanceClass struct {
	Name         string
	VCPU         int32
	MemoryMiB    int64
	Architecture string
}
