// Copyright 2026 © The Switchboard Authors
// SPDX-License-Identifier: Apache-2.0

package memory

import (
	"context"
	"database/sql"
	"fmt"
	"testing"
)

func exerciseConversation(t *testing.T, conv Conversation) {
	t.Helper()
	ctx := context.Background()

	for i := 1; i <= 4; i++ {
		role := RoleUser
		if i%2 == 0 {
			role = RoleAssistant
		}
		if err := conv.Append(ctx, "s-1", Message{Role: role, Content: fmt.Sprintf("m%d", i)}); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	if err := conv.Append(ctx, "s-2", Message{Role: RoleUser, Content: "other"}); err != nil {
		t.Fatalf("append: %v", err)
	}

	recent, err := conv.Recent(ctx, "s-1", 2)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(recent) != 2 || recent[0].Content != "m3" || recent[1].Content != "m4" {
		t.Fatalf("expected m3,m4 oldest first, got %+v", recent)
	}
	if recent[0].ID == "" || recent[0].SessionID != "s-1" || recent[0].CreatedAt.IsZero() {
		t.Errorf("expected id, session and timestamp to be filled: %+v", recent[0])
	}

	all, _ := conv.Recent(ctx, "s-1", 0)
	if len(all) != 4 {
		t.Errorf("expected whole session, got %d", len(all))
	}

	if err := conv.Clear(ctx, "s-1"); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if left, _ := conv.Recent(ctx, "s-1", 10); len(left) != 0 {
		t.Errorf("expected empty session after clear, got %d", len(left))
	}
	if other, _ := conv.Recent(ctx, "s-2", 10); len(other) != 1 {
		t.Errorf("clear must not touch other sessions")
	}
}

func TestInMemory(t *testing.T) {
	exerciseConversation(t, NewInMemory(0))
}

func TestInMemoryCap(t *testing.T) {
	conv := NewInMemory(2)
	ctx := context.Background()
	for _, c := range []string{"a", "b", "c"} {
		_ = conv.Append(ctx, "s", Message{Role: RoleUser, Content: c})
	}
	msgs, _ := conv.Recent(ctx, "s", 0)
	if len(msgs) != 2 || msgs[0].Content != "b" {
		t.Errorf("expected cap to keep b,c, got %+v", msgs)
	}
	if ids := conv.Sessions(); len(ids) != 1 || ids[0] != "s" {
		t.Errorf("unexpected sessions %v", ids)
	}
}

func TestSQLite(t *testing.T) {
	db, err := sql.Open("sqlite", "file:conversation_test?mode=memory&cache=shared")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	defer db.Close()

	conv, err := NewSQLite(context.Background(), SQLiteConfig{DB: db})
	if err != nil {
		t.Fatalf("new sqlite: %v", err)
	}
	exerciseConversation(t, conv)
}

func TestSQLiteRejectsBadTable(t *testing.T) {
	db, err := sql.Open("sqlite", "file:conversation_bad?mode=memory&cache=shared")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	defer db.Close()
	if _, err := NewSQLite(context.Background(), SQLiteConfig{DB: db, TableName: "x; DROP TABLE y"}); err == nil {
		t.Fatal("expected invalid table name error")
	}
}

func TestTurns(t *testing.T) {
	turns := Turns([]Message{{Role: RoleUser, Content: "hi"}, {Role: RoleAssistant, Content: "hello"}})
	if len(turns) != 2 || turns[1].Role != "assistant" || turns[1].Content != "hello" {
		t.Errorf("unexpected turns %+v", turns)
	}
	if Turns(nil) != nil {
		t.Errorf("expected nil for no messages")
	}
}
