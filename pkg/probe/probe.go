package probe

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/benchub/pygmy/pkg/log"
	"github.com/benchub/pygmy/pkg/storage"
	"github.com/benchub/pygmy/pkg/types"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
)

// Metrics is one snapshot of a replica's health, taken in a single session
type Metrics struct {
	ReplicationLag    float64 // seconds behind primary
	ActiveConnections float64
	LoadAverage       float64 // one-minute load average
}

// Value returns the metric named by a rule predicate
func (m *Metrics) Value(metric types.PredicateMetric) (float64, error) {
	switch metric {
	case types.MetricReplicationLag:
		return m.ReplicationLag, nil
	case types.MetricActiveConnections:
		return m.ActiveConnections, nil
	case types.MetricLoadAverage:
		return m.LoadAverage, nil
	default:
		return 0, fmt.Errorf("unknown metric %q", metric)
	}
}

// Prober opens a short-lived read-only session against a node's database
// process and answers the three health queries. Errors collapse into a
// single probe-failed outcome; callers treat that as failing all predicates.
type Prober interface {
	Probe(ctx context.Context, node *types.Node) (*Metrics, error)
}

const (
	queryReplicationLag = `SELECT COALESCE(EXTRACT(EPOCH FROM (now() - pg_last_xact_replay_timestamp()))::float8, 0)`
	queryConnections    = `SELECT count(*)::float8 FROM pg_stat_activity WHERE state = 'active'`
	queryLoadAverage    = `SELECT (string_to_array(pg_read_file('/proc/loadavg'), ' '))[1]::float8`
)

// PostgresProber implements Prober over a Postgres replica
type PostgresProber struct {
	store          storage.Store
	port           int
	database       string
	connectTimeout time.Duration
	logger         zerolog.Logger
}

// NewPostgresProber creates a prober that looks up login credentials by
// node type in the credential store
func NewPostgresProber(store storage.Store, port int, database string, connectTimeout time.Duration) *PostgresProber {
	return &PostgresProber{
		store:          store,
		port:           port,
		database:       database,
		connectTimeout: connectTimeout,
		logger:         log.WithComponent("probe"),
	}
}

// Probe opens one session and takes the full snapshot
func (p *PostgresProber) Probe(ctx context.Context, node *types.Node) (*Metrics, error) {
	conn, err := p.connect(ctx, node)
	if err != nil {
		return nil, fmt.Errorf("probe failed for %s: %w", node.InstanceID, err)
	}
	defer conn.Close(ctx)

	var m Metrics
	if err := conn.QueryRow(ctx, queryReplicationLag).Scan(&m.ReplicationLag); err != nil {
		return nil, fmt.Errorf("probe failed for %s: replication lag: %w", node.InstanceID, err)
	}
	if err := conn.QueryRow(ctx, queryConnections).Scan(&m.ActiveConnections); err != nil {
		return nil, fmt.Errorf("probe failed for %s: active connections: %w", node.InstanceID, err)
	}
	if err := conn.QueryRow(ctx, queryLoadAverage).Scan(&m.LoadAverage); err != nil {
		return nil, fmt.Errorf("probe failed for %s: load average: %w", node.InstanceID, err)
	}

	p.logger.Debug().
		Str("instance_id", node.InstanceID).
		Float64("replication_lag", m.ReplicationLag).
		Float64("active_connections", m.ActiveConnections).
		Float64("load_average", m.LoadAverage).
		Msg("Probed replica")

	return &m, nil
}

func (p *PostgresProber) connect(ctx context.Context, node *types.Node) (*pgx.Conn, error) {
	host := node.Address()
	if host == "" {
		return nil, fmt.Errorf("node has no reachable address")
	}

	dsn := p.buildDSN(node, host)

	cfg, err := pgx.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("invalid connection config: %w", err)
	}
	cfg.ConnectTimeout = p.connectTimeout

	connCtx, cancel := context.WithTimeout(ctx, p.connectTimeout)
	defer cancel()

	return pgx.ConnectConfig(connCtx, cfg)
}

func (p *PostgresProber) buildDSN(node *types.Node, host string) string {
	database := p.database

	cred, err := p.store.GetCredential(string(node.Type))
	if err != nil {
		// No stored login; hope libpq-style ambient auth finds a way.
		p.logger.Debug().
			Str("instance_id", node.InstanceID).
			Msg("No credential record for node type, connecting without login")
		return fmt.Sprintf("postgres://%s:%d/%s", host, p.port, database)
	}

	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s",
		url.QueryEscape(cred.Username), url.QueryEscape(cred.Password), host, p.port, database)
}
