package proclinesdk

import (
	"context"
	"errors"
	"io"
	"log"
	"net/http/httptest"
	"testing"

	"procline/internal/config"
	"procline/internal/db"
	"procline/internal/engine"
	"procline/internal/migrate"
	"procline/internal/server"
)

func newClient(t *testing.T) *Client {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if _, err := migrate.Migrate(context.Background(), conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	handler, err := server.New(server.Config{
		Engine: engine.New(conn, config.Default("sdk")),
		Auth:   server.AuthConfig{JWTSecret: "sdk-secret"},
		Logger: log.New(io.Discard, "", 0),
	})
	if err != nil {
		t.Fatalf("server: %v", err)
	}
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	token, err := server.SignToken("sdk-secret", "sdk-user", 0)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	c := New(srv.URL)
	c.BearerToken = token
	return c
}

func TestClientBuildsAndClosesProcess(t *testing.T) {
	ctx := context.Background()
	c := newClient(t)
	p, err := c.CreateProcess(ctx, "Onboarding", false)
	if err != nil {
		t.Fatalf("create process: %v", err)
	}
	if p.Status != "seeding" {
		t.Fatalf("status = %s", p.Status)
	}
	stage, err := c.AddStage(ctx, p.ID, "Paperwork")
	if err != nil {
		t.Fatalf("stage: %v", err)
	}
	step, err := c.AddStep(ctx, stage.ID, "Contract")
	if err != nil {
		t.Fatalf("step: %v", err)
	}
	field, err := c.AddField(ctx, step.ID, "Signed copy", "file")
	if err != nil {
		t.Fatalf("field: %v", err)
	}
	if _, err := c.ActivateProcess(ctx, p.ID); err != nil {
		t.Fatalf("activate: %v", err)
	}
	ch, err := c.SetFieldStatus(ctx, field.ID, "closed")
	if err != nil {
		t.Fatalf("close: %v", err)
	}
	if ch.Cascade.Process.Status != "completed" || ch.Cascade.Process.Progress != 100 {
		t.Fatalf("cascade = %+v", ch.Cascade)
	}
	tree, err := c.Tree(ctx, p.ID)
	if err != nil {
		t.Fatalf("tree: %v", err)
	}
	got := tree.Stages[0].Steps[0].Fields[0]
	if got.Done == nil || !*got.Done {
		t.Fatalf("field = %+v", got)
	}
	page, err := c.EventsPage(ctx, p.ID, 2, "")
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	if len(page.Items) != 2 || page.NextCursor == "" {
		t.Fatalf("events page = %+v", page)
	}
	if page.Items[0].ActorID != "sdk-user" {
		t.Fatalf("actor = %s", page.Items[0].ActorID)
	}
}

func TestClientSurfacesErrorCodes(t *testing.T) {
	ctx := context.Background()
	c := newClient(t)
	_, err := c.Tree(ctx, "missing")
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.StatusCode != 404 || apiErr.Code != "not_found" {
		t.Fatalf("error = %+v", apiErr)
	}

	c.BearerToken = ""
	_, err = c.CreateProcess(ctx, "anon", false)
	if !errors.As(err, &apiErr) || apiErr.StatusCode != 401 {
		t.Fatalf("expected 401, got %v", err)
	}
}
