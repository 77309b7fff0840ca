package hooks

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/benchub/pygmy/pkg/log"
	"github.com/benchub/pygmy/pkg/storage"
	"github.com/rs/zerolog"
)

// DefaultTimeout bounds a single hook script execution
const DefaultTimeout = 60 * time.Second

// CredentialDNSUpdater is the credential-store entry whose username and
// password are handed to the DNS updater script as cloud keys.
const CredentialDNSUpdater = "dns_updater"

// Prognosticator asks an external, site-specific script whether a proposed
// instance class should be downgraded before a scale.
type Prognosticator interface {
	Prognosticate(ctx context.Context, clusterName, proposedClass string) string
}

// Pager calls for a human to step in
type Pager interface {
	Page(ctx context.Context, host, title, details string) error
}

// DNSUpdater points a record at a new address
type DNSUpdater interface {
	Update(ctx context.Context, zone, name, address, recordType string) error
}

// ScriptPrognosticator runs the prognostication script. Contract: the
// script may print one instance-class token to stdout; empty output or a
// non-zero exit degrades to the proposal.
type ScriptPrognosticator struct {
	ScriptPath string
	Timeout    time.Duration
	logger     zerolog.Logger
}

// NewScriptPrognosticator creates a prognosticator backed by a shell script
func NewScriptPrognosticator(scriptPath string) *ScriptPrognosticator {
	return &ScriptPrognosticator{
		ScriptPath: scriptPath,
		Timeout:    DefaultTimeout,
		logger:     log.WithComponent("prognosticator"),
	}
}

// Prognosticate returns the effective instance class for a proposal
func (p *ScriptPrognosticator) Prognosticate(ctx context.Context, clusterName, proposedClass string) string {
	p.logger.Info().
		Str("cluster", clusterName).
		Str("proposed_class", proposedClass).
		Msg("Prognosticating proposed instance class")

	out, err := runScript(ctx, p.Timeout, nil, p.ScriptPath, clusterName, proposedClass)
	if err != nil {
		p.logger.Error().Err(err).
			Str("cluster", clusterName).
			Msg("Prognostication script failed, keeping proposed class")
		return proposedClass
	}

	effective := strings.TrimSpace(out)
	if effective == "" {
		p.logger.Debug().
			Str("cluster", clusterName).
			Msg("Prognostication returned no output, keeping proposed class")
		return proposedClass
	}

	if effective != proposedClass {
		p.logger.Info().
			Str("cluster", clusterName).
			Str("proposed_class", proposedClass).
			Str("effective_class", effective).
			Msg("Prognostication overrode proposed class")
	}
	return effective
}

// ScriptPager runs the call-for-help script. A non-zero exit is a pager
// failure and surfaces as an error.
type ScriptPager struct {
	ScriptPath string
	Timeout    time.Duration
	logger     zerolog.Logger
}

// NewScriptPager creates a pager backed by a shell script
func NewScriptPager(scriptPath string) *ScriptPager {
	return &ScriptPager{
		ScriptPath: scriptPath,
		Timeout:    DefaultTimeout,
		logger:     log.WithComponent("pager"),
	}
}

// Page invokes the pager script with (host, short title, full context)
func (p *ScriptPager) Page(ctx context.Context, host, title, details string) error {
	p.logger.Info().
		Str("host", host).
		Str("title", title).
		Msg("Calling for help")

	if _, err := runScript(ctx, p.Timeout, nil, p.ScriptPath, host, title, details); err != nil {
		p.logger.Error().Err(err).
			Str("host", host).
			Msg("Pager script failed")
		return fmt.Errorf("call for help failed: %w", err)
	}
	return nil
}

// ScriptDNSUpdater runs the DNS updater script with cloud credentials
// injected through the environment.
type ScriptDNSUpdater struct {
	ScriptPath string
	Timeout    time.Duration
	store      storage.Store
	logger     zerolog.Logger
}

// NewScriptDNSUpdater creates a DNS updater backed by a shell script
func NewScriptDNSUpdater(scriptPath string, store storage.Store) *ScriptDNSUpdater {
	return &ScriptDNSUpdater{
		ScriptPath: scriptPath,
		Timeout:    DefaultTimeout,
		store:      store,
		logger:     log.WithComponent("dns-updater"),
	}
}

// Update invokes the updater with (zone, name, address, record type)
func (u *ScriptDNSUpdater) Update(ctx context.Context, zone, name, address, recordType string) error {
	var env []string
	if cred, err := u.store.GetCredential(CredentialDNSUpdater); err == nil {
		env = append(os.Environ(),
			"AWS_ACCESS_KEY_ID="+cred.Username,
			"AWS_SECRET_ACCESS_KEY="+cred.Password,
		)
	} else {
		u.logger.Debug().Msg("No DNS updater credential, relying on ambient environment")
	}

	u.logger.Info().
		Str("zone", zone).
		Str("record", name).
		Str("address", address).
		Str("record_type", recordType).
		Msg("Updating DNS record")

	if _, err := runScript(ctx, u.Timeout, env, u.ScriptPath, zone, name, address, recordType); err != nil {
		return fmt.Errorf("dns update failed for %s: %w", name, err)
	}
	return nil
}

// runScript executes a hook script, returning its stdout. Stderr is folded
// into the error on failure.
func runScript(ctx context.Context, timeout time.Duration, env []string, path string, args ...string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("no script configured")
	}

	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(execCtx, path, args...)
	if env != nil {
		cmd.Env = env
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if stderr.Len() > 0 {
			return "", fmt.Errorf("%s: %w (stderr: %s)", path, err, strings.TrimSpace(stderr.String()))
		}
		return "", fmt.Errorf("%s: %w", path, err)
	}
	return stdout.String(), nil
}
