package pool

import (
	"context"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/rawblock/obfpool-coordinator/pkg/models"
)

// ChainView resolves previous transactions and reports chain-sync status.
// Backed by internal/bitcoin in production.
type ChainView interface {
	LookupTx(ctx context.Context, txid chainhash.Hash) (*wire.MsgTx, error)
	TipHeight(ctx context.Context) (int32, error)
	IsSynced(ctx context.Context) (bool, error)
}

// MempoolChecker is the local mempool's accept predicate.
type MempoolChecker interface {
	Accept(ctx context.Context, tx *wire.MsgTx, treatAsStandard bool) error
}

// WalletCoins locks/unlocks coins so the wallet doesn't double-spend inputs
// that are mid-mix, and relays a signed transaction to the network.
type WalletCoins interface {
	LockCoin(ctx context.Context, outpoint wire.OutPoint) error
	UnlockCoin(ctx context.Context, outpoint wire.OutPoint) error
	Relay(ctx context.Context, tx *wire.MsgTx) error
}

// Relay is the coordinator's outbound wire surface: the four
// coordinator-initiated message kinds from spec.md §6. BroadcastQueue has
// the same signature as queue.Relay so any Relay implementation also
// satisfies it without adapting.
type Relay interface {
	BroadcastQueue(models.QueueAnnouncement)
	RelayFinal(sessionID uint32, tx *wire.MsgTx)
	RelayStatus(sessionID uint32, state int, entriesCount int, accepted int, errorID ErrorID)
	RelayCompleted(sessionID uint32, failed bool, errorID ErrorID)
}

// Clock abstracts wall-clock time so timeout logic is deterministic under
// test (spec.md §8 property 7).
type Clock interface {
	Now() time.Time
}
