package hooks

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/benchub/pygmy/pkg/log"
	"github.com/benchub/pygmy/pkg/storage"
	"github.com/benchub/pygmy/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	log.Init(log.Config{Level: log.ErrorLevel})
}

func writeScript(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "hook.sh")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0700))
	return path
}

func TestPrognosticate(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		expected string
	}{
		{"override from stdout", `echo "t3.medium"`, "t3.medium"},
		{"empty output keeps proposal", `exit 0`, "m5.large"},
		{"whitespace-only output keeps proposal", `echo ""`, "m5.large"},
		{"non-zero exit keeps proposal", `exit 3`, "m5.large"},
		{"trailing newline is trimmed", `printf "t3.large\n"`, "t3.large"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewScriptPrognosticator(writeScript(t, tt.body))
			got := p.Prognosticate(context.Background(), "reporting", "m5.large")
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestPrognosticateReceivesArguments(t *testing.T) {
	p := NewScriptPrognosticator(writeScript(t, `echo "$1-$2"`))
	got := p.Prognosticate(context.Background(), "reporting", "m5.large")
	assert.Equal(t, "reporting-m5.large", got)
}

func TestPrognosticateMissingScript(t *testing.T) {
	p := NewScriptPrognosticator("")
	assert.Equal(t, "m5.large", p.Prognosticate(context.Background(), "reporting", "m5.large"))
}

func TestPage(t *testing.T) {
	t.Run("zero exit succeeds", func(t *testing.T) {
		p := NewScriptPager(writeScript(t, `exit 0`))
		assert.NoError(t, p.Page(context.Background(), "replica-1", "title", "details"))
	})

	t.Run("non-zero exit is a pager failure", func(t *testing.T) {
		p := NewScriptPager(writeScript(t, `echo "no pager configured" >&2; exit 1`))
		err := p.Page(context.Background(), "replica-1", "title", "details")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "call for help failed")
		assert.Contains(t, err.Error(), "no pager configured")
	})
}

func TestDNSUpdater(t *testing.T) {
	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	require.NoError(t, store.PutCredential(&types.Credential{
		Name:     CredentialDNSUpdater,
		Username: "AKIAEXAMPLE",
		Password: "secret",
	}))

	t.Run("arguments and credentials reach the script", func(t *testing.T) {
		outFile := filepath.Join(t.TempDir(), "out")
		u := NewScriptDNSUpdater(writeScript(t,
			`echo "$1 $2 $3 $4 $AWS_ACCESS_KEY_ID" > `+outFile), store)

		require.NoError(t, u.Update(context.Background(),
			"example.com.", "replica-1.example.com", "203.0.113.1", "A"))

		data, err := os.ReadFile(outFile)
		require.NoError(t, err)
		assert.Equal(t, "example.com. replica-1.example.com 203.0.113.1 A AKIAEXAMPLE\n", string(data))
	})

	t.Run("non-zero exit is a dns failure", func(t *testing.T) {
		u := NewScriptDNSUpdater(writeScript(t, `exit 1`), store)
		err := u.Update(context.Background(), "example.com.", "replica-1.example.com", "203.0.113.1", "A")
		assert.Error(t, err)
	})
}
