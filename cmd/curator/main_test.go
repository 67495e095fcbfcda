package main

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/docutag/curator/api"
	"github.com/docutag/curator/db"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Setenv("STORE_URL", "postgres://curator@localhost/curator?sslmode=disable")
	t.Setenv("JWT_SECRET", "cli-secret")
	t.Setenv("LOG_LEVEL", "error")

	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestTokenCommand(t *testing.T) {
	out, err := execute(t, "token", "--user", "alice")
	if err != nil {
		t.Fatalf("token: %v", err)
	}

	principal, err := api.NewAuthenticator("cli-secret", "").Authenticate(strings.TrimSpace(out))
	if err != nil {
		t.Fatalf("issued token does not authenticate: %v", err)
	}
	if principal.UserID != "alice" || principal.Service {
		t.Errorf("principal = %+v", principal)
	}
}

func TestTokenCommandRequiresUser(t *testing.T) {
	if _, err := execute(t, "token"); err == nil || !strings.Contains(err.Error(), "--user") {
		t.Errorf("err = %v", err)
	}
}

func TestEnrichCommandRequiresFlags(t *testing.T) {
	if _, err := execute(t, "enrich", "--user", "alice"); err == nil || !strings.Contains(err.Error(), "--url") {
		t.Errorf("err = %v", err)
	}
}

func TestInvalidConfigIsReported(t *testing.T) {
	t.Setenv("LOG_LEVEL", "loud")
	cmd := newRootCommand()
	cmd.SetArgs([]string{"token", "--user", "alice"})
	cmd.SetOut(&bytes.Buffer{})
	if err := cmd.ExecuteContext(context.Background()); err == nil {
		t.Error("expected invalid log level to fail")
	}
}

func TestRenderMigrationStatus(t *testing.T) {
	out := renderMigrationStatus([]db.MigrationStatus{
		{Version: 1, Name: "create_content_items", Applied: true},
		{Version: 2, Name: "create_collections", Applied: false},
	})

	// the rounded style upper-cases headers
	for _, want := range []string{"VERSION", "NAME", "APPLIED", "create_content_items", "yes", "create_collections", "no"} {
		if !strings.Contains(out, want) {
			t.Errorf("table missing %q:\n%s", want, out)
		}
	}
	if lines := strings.Count(out, "\n"); lines < 5 {
		t.Errorf("expected a bordered table, got %d lines:\n%s", lines, out)
	}
}

func TestRenderTableEmpty(t *testing.T) {
	if got := renderTable(nil, nil, nil); got != "" {
		t.Errorf("renderTable(nil) = %q", got)
	}
}
