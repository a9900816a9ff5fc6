// Package historytest holds behaviour checks shared by every history.Store
// backend.
package historytest

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/tokligence/chatstream/internal/chat"
	"github.com/tokligence/chatstream/internal/history"
)

// Run exercises a store produced by open. Each subtest gets a fresh store.
func Run(t *testing.T, open func(t *testing.T) history.Store) {
	t.Helper()
	t.Run("ReplaceTurnsCreatesSession", func(t *testing.T) { testReplaceCreatesSession(t, open(t)) })
	t.Run("ReplaceTurnsIsIdempotent", func(t *testing.T) { testReplaceIdempotent(t, open(t)) })
	t.Run("ReplaceTurnsShrinks", func(t *testing.T) { testReplaceShrinks(t, open(t)) })
	t.Run("SessionLifecycle", func(t *testing.T) { testSessionLifecycle(t, open(t)) })
	t.Run("UpdateSummaryKeepsSettings", func(t *testing.T) { testUpdateSummary(t, open(t)) })
	t.Run("MissingSession", func(t *testing.T) { testMissingSession(t, open(t)) })
}

// SampleTurns returns n turns; the first carries an attachment.
func SampleTurns(n int) []chat.Turn {
	ts := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	turns := make([]chat.Turn, 0, n)
	for i := 0; i < n; i++ {
		turn := chat.Turn{
			UserText:    "question " + string(rune('a'+i)),
			AIResponse:  "answer " + string(rune('a'+i)),
			Attachments: []chat.StoredAttachment{},
			Model:       "gpt-4o-mini",
			Persona:     chat.DefaultPersona,
			Temperature: 0.7,
			MaxTokens:   256,
			Timestamp:   ts.Add(time.Duration(i) * time.Minute),
		}
		if i == 0 {
			turn.Attachments = []chat.StoredAttachment{{Name: "report.pdf", FilePath: "temp_attachments/s/report.pdf"}}
		}
		turns = append(turns, turn)
	}
	return turns
}

func testReplaceCreatesSession(t *testing.T, store history.Store) {
	ctx := context.Background()
	if err := store.ReplaceTurns(ctx, "fresh", SampleTurns(2)); err != nil {
		t.Fatalf("ReplaceTurns: %v", err)
	}
	sess, err := store.GetSession(ctx, "fresh")
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if sess.Name != history.DefaultSessionName {
		t.Fatalf("expected default name, got %q", sess.Name)
	}
	if len(sess.Messages) != 2 {
		t.Fatalf("expected 2 stored turns, got %d", len(sess.Messages))
	}
	first := sess.Messages[0]
	if first.UserText != "question a" || first.AIResponse != "answer a" {
		t.Fatalf("unexpected first turn %+v", first)
	}
	if first.Persona != chat.DefaultPersona || first.MaxTokens != 256 {
		t.Fatalf("unexpected settings %+v", first)
	}
	var atts []chat.StoredAttachment
	if err := json.Unmarshal([]byte(first.Attachments), &atts); err != nil {
		t.Fatalf("attachments not JSON: %v", err)
	}
	if len(atts) != 1 || atts[0].Name != "report.pdf" || atts[0].Content != "" {
		t.Fatalf("unexpected attachments %+v", atts)
	}
	if sess.Messages[1].Attachments != "[]" {
		t.Fatalf("expected empty attachment list, got %q", sess.Messages[1].Attachments)
	}
}

func testReplaceIdempotent(t *testing.T, store history.Store) {
	ctx := context.Background()
	turns := SampleTurns(3)
	for i := 0; i < 2; i++ {
		if err := store.ReplaceTurns(ctx, "same", turns); err != nil {
			t.Fatalf("ReplaceTurns #%d: %v", i, err)
		}
	}
	sess, err := store.GetSession(ctx, "same")
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if len(sess.Messages) != len(turns) {
		t.Fatalf("expected %d rows after repeat, got %d", len(turns), len(sess.Messages))
	}
	for i, m := range sess.Messages {
		if m.UserText != turns[i].UserText {
			t.Fatalf("turn %d out of order: %q", i, m.UserText)
		}
	}
}

func testReplaceShrinks(t *testing.T, store history.Store) {
	ctx := context.Background()
	if err := store.ReplaceTurns(ctx, "edit", SampleTurns(3)); err != nil {
		t.Fatalf("ReplaceTurns: %v", err)
	}
	if err := store.ReplaceTurns(ctx, "edit", SampleTurns(1)); err != nil {
		t.Fatalf("ReplaceTurns: %v", err)
	}
	sess, err := store.GetSession(ctx, "edit")
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if len(sess.Messages) != 1 {
		t.Fatalf("expected 1 row, got %d", len(sess.Messages))
	}
}

func testSessionLifecycle(t *testing.T, store history.Store) {
	ctx := context.Background()
	created, err := store.CreateSession(ctx, history.DefaultSession("life"))
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if created.ID == 0 {
		t.Fatalf("expected row id")
	}

	created.Title = "Renamed"
	created.EnableSummarization = true
	created.ModelPreset1 = "claude-3-opus-20240229"
	if err := store.UpdateSession(ctx, created); err != nil {
		t.Fatalf("UpdateSession: %v", err)
	}
	if err := store.ReplaceTurns(ctx, "life", SampleTurns(1)); err != nil {
		t.Fatalf("ReplaceTurns: %v", err)
	}

	all, err := store.ListSessions(ctx)
	if err != nil {
		t.Fatalf("ListSessions: %v", err)
	}
	if len(all) != 1 {
		t.Fatalf("expected 1 session, got %d", len(all))
	}
	got := all[0]
	if got.Title != "Renamed" || !got.EnableSummarization || got.ModelPreset1 != "claude-3-opus-20240229" {
		t.Fatalf("update not applied: %+v", got)
	}
	if len(got.Messages) != 1 {
		t.Fatalf("expected turns in listing, got %d", len(got.Messages))
	}

	if err := store.DeleteSession(ctx, "life"); err != nil {
		t.Fatalf("DeleteSession: %v", err)
	}
	if _, err := store.GetSession(ctx, "life"); !errors.Is(err, history.ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound after delete, got %v", err)
	}
	if err := store.ReplaceTurns(ctx, "life", nil); err != nil {
		t.Fatalf("ReplaceTurns after delete: %v", err)
	}
	again, err := store.GetSession(ctx, "life")
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if len(again.Messages) != 0 {
		t.Fatalf("deleted turns resurfaced: %d", len(again.Messages))
	}
}

func testUpdateSummary(t *testing.T, store history.Store) {
	ctx := context.Background()
	created, err := store.CreateSession(ctx, history.DefaultSession("sum"))
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	created.Temperature = 0.2
	created.Persona = "concise"
	if err := store.UpdateSession(ctx, created); err != nil {
		t.Fatalf("UpdateSession: %v", err)
	}
	if err := store.UpdateSummary(ctx, "sum", "# Chat Summary\n\nnew"); err != nil {
		t.Fatalf("UpdateSummary: %v", err)
	}

	got, err := store.GetSession(ctx, "sum")
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if got.Summary != "# Chat Summary\n\nnew" {
		t.Fatalf("summary = %q", got.Summary)
	}
	if got.Temperature != 0.2 || got.Persona != "concise" {
		t.Fatalf("settings lost: temperature=%v persona=%q", got.Temperature, got.Persona)
	}
}

func testMissingSession(t *testing.T, store history.Store) {
	ctx := context.Background()
	if _, err := store.GetSession(ctx, "nope"); !errors.Is(err, history.ErrSessionNotFound) {
		t.Fatalf("GetSession: expected ErrSessionNotFound, got %v", err)
	}
	if err := store.UpdateSession(ctx, history.DefaultSession("nope")); !errors.Is(err, history.ErrSessionNotFound) {
		t.Fatalf("UpdateSession: expected ErrSessionNotFound, got %v", err)
	}
	if err := store.UpdateSummary(ctx, "nope", "x"); !errors.Is(err, history.ErrSessionNotFound) {
		t.Fatalf("UpdateSummary: expected ErrSessionNotFound, got %v", err)
	}
	if err := store.DeleteSession(ctx, "nope"); !errors.Is(err, history.ErrSessionNotFound) {
		t.Fatalf("DeleteSession: expected ErrSessionNotFound, got %v", err)
	}
	if err := store.Ping(ctx); err != nil {
		t.Fatalf("Ping: %v", err)
	}
}
