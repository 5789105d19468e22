package sqlite

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"slices"
	"testing"

	"github.com/koltyakov/fedchat/internal/domain"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "nested", "fedchat.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func mustJSON(t *testing.T, v any) []byte {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatal(err)
	}
	return b
}

func TestPutDocsUpserts(t *testing.T) {
	t.Parallel()

	store := openTestStore(t)
	ctx := context.Background()

	if err := store.PutDocs(ctx, []Doc{
		{Table: TableGuilds, Key: "g1", Body: []byte(`{"id":"g1","name":"one"}`)},
		{Table: TableGuilds, Key: "g2", Body: []byte(`{"id":"g2","name":"two"}`)},
	}); err != nil {
		t.Fatal(err)
	}
	if err := store.PutDocs(ctx, []Doc{{Table: TableGuilds, Key: "g1", Body: []byte(`{"id":"g1","name":"uno"}`)}}); err != nil {
		t.Fatal(err)
	}

	docs, err := store.LoadDocs(ctx, TableGuilds)
	if err != nil {
		t.Fatal(err)
	}
	if len(docs) != 2 {
		t.Fatalf("expected 2 docs, got %d", len(docs))
	}
	if string(docs["g1"]) != `{"id":"g1","name":"uno"}` {
		t.Fatalf("expected updated doc, got %s", docs["g1"])
	}
}

func TestUnknownTableRejected(t *testing.T) {
	t.Parallel()

	store := openTestStore(t)
	err := store.PutDocs(context.Background(), []Doc{{Table: "users; DROP TABLE guilds", Key: "x"}})
	if !errors.Is(err, ErrUnknownTable) {
		t.Fatalf("expected ErrUnknownTable, got %v", err)
	}
	if _, err := store.LoadDocs(context.Background(), "nope"); !errors.Is(err, ErrUnknownTable) {
		t.Fatalf("expected ErrUnknownTable, got %v", err)
	}
}

func TestLoadStateRoundTrip(t *testing.T) {
	t.Parallel()

	store := openTestStore(t)
	ctx := context.Background()

	guild := &domain.Guild{ID: "g1", Name: "Test", OwnerFKey: "carol@A", Members: []string{"carol@A"}}
	conv := domain.ConversationID("alice@A", "bob@B")
	if err := store.PutDocs(ctx, []Doc{
		{Table: TableMessageLog, Key: GlobalLogKey, Body: mustJSON(t, []domain.ChatMessage{{ID: "c1", Text: "hi"}})},
		{Table: TableGuilds, Key: "g1", Body: mustJSON(t, guild)},
		{Table: TableGuilds, Key: "broken", Body: []byte(`{`)},
		{Table: TableDMConversations, Key: conv, Body: mustJSON(t, []domain.DirectMessage{{ID: "d1"}})},
		{Table: TableDMConversations, Key: "bob@B|alice@A", Body: mustJSON(t, []domain.DirectMessage{{ID: "d2"}})},
	}); err != nil {
		t.Fatal(err)
	}

	st, skipped, err := store.LoadState(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(st.Global) != 1 || st.Global[0].ID != "c1" {
		t.Fatalf("unexpected global log: %+v", st.Global)
	}
	if len(st.Guilds) != 1 || st.Guilds[0].Name != "Test" {
		t.Fatalf("unexpected guilds: %+v", st.Guilds)
	}
	if len(st.Conversations) != 1 || len(st.Conversations[conv]) != 1 {
		t.Fatalf("unexpected conversations: %+v", st.Conversations)
	}
	slices.Sort(skipped)
	if !slices.Equal(skipped, []string{"dm_conversations/bob@B|alice@A", "guilds/broken"}) {
		t.Fatalf("unexpected skipped rows: %v", skipped)
	}
}

func TestReopenKeepsData(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "fedchat.db")
	store, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := store.PutDocs(context.Background(), []Doc{{Table: TableMessageLog, Key: GlobalLogKey, Body: []byte(`[]`)}}); err != nil {
		t.Fatal(err)
	}
	if err := store.Close(); err != nil {
		t.Fatal(err)
	}

	store, err = Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()
	docs, err := store.LoadDocs(context.Background(), TableMessageLog)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := docs[GlobalLogKey]; !ok {
		t.Fatal("expected global log to survive reopen")
	}
}
