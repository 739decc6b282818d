package journal

import (
	"context"
	"testing"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/rawblock/obfpool-coordinator/pkg/models"
)

func TestPutIsIdempotent(t *testing.T) {
	j := New(nil)
	key := chainhash.Hash{0x01}
	first := models.BroadcastJournalEntry{SigTime: 100}
	second := models.BroadcastJournalEntry{SigTime: 200}

	if !j.Put(context.Background(), key, first) {
		t.Fatal("expected first Put to insert")
	}
	if j.Put(context.Background(), key, second) {
		t.Fatal("expected duplicate key Put to be a no-op")
	}

	got, ok := j.Get(key)
	if !ok || got.SigTime != 100 {
		t.Fatalf("expected the first entry to survive, got %+v", got)
	}
	if j.Len() != 1 {
		t.Fatalf("expected exactly one journaled entry, got %d", j.Len())
	}
}

type fakeStore struct {
	puts int
}

func (f *fakeStore) Put(context.Context, chainhash.Hash, models.BroadcastJournalEntry) error {
	f.puts++
	return nil
}

func (f *fakeStore) Get(context.Context, chainhash.Hash) (models.BroadcastJournalEntry, bool, error) {
	return models.BroadcastJournalEntry{}, false, nil
}

func TestPutForwardsToDurableStore(t *testing.T) {
	store := &fakeStore{}
	j := New(store)
	key := chainhash.Hash{0x02}

	j.Put(context.Background(), key, models.BroadcastJournalEntry{})
	j.Put(context.Background(), key, models.BroadcastJournalEntry{}) // duplicate, should not forward again

	if store.puts != 1 {
		t.Fatalf("expected exactly one forwarded Put, got %d", store.puts)
	}
}
