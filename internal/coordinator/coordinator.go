// Package coordinator drives a single pool.Session through its lifecycle:
// ticking timeouts and quorum checks once a second, and dispatching inbound
// wire messages ("dsa", "dsi", "dss") onto the session goroutine that owns
// it exclusively. Submit and SubmitSignature may be called from any
// goroutine, since they only enqueue work; everything else in this package
// runs on Run's goroutine and is not safe for concurrent use.
package coordinator

import (
	"context"
	"log"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/wire"
	"github.com/rawblock/obfpool-coordinator/internal/config"
	"github.com/rawblock/obfpool-coordinator/internal/journal"
	"github.com/rawblock/obfpool-coordinator/internal/pool"
	"github.com/rawblock/obfpool-coordinator/internal/signer"
	"github.com/rawblock/obfpool-coordinator/pkg/models"
)

// SyncTracker reports whether the underlying chain view is caught up.
// Mirrors the original's masternodeSync.Process()/IsBlockchainSynced()
// gate at the top of ThreadMasternodePool: nothing else runs until it's
// true.
type SyncTracker interface {
	Advance(ctx context.Context) error
	IsSynced() bool
}

// CollateralChecker is the narrow shape Coordinator needs from
// internal/collateral, kept local so this package doesn't import it
// directly and so tests can swap in a fake.
type CollateralChecker interface {
	IsValid(ctx context.Context, tx *wire.MsgTx) bool
}

// AdmitMessage is the decoded payload of an inbound "dsa"+"dsi" pair: a
// client's admission request together with its first entry. Production
// code decodes this from the websocket hub (internal/api); tests build it
// directly.
type AdmitMessage struct {
	Denom      models.Denom
	Collateral *wire.MsgTx
	Entry      pool.AdmitRequest
}

// SignatureMessage is the decoded payload of an inbound "dss": one signed
// input returned for the current merged transaction.
type SignatureMessage struct {
	PrevOut    wire.OutPoint
	Sequence   uint32
	ScriptSig  []byte
	PrevPubKey []byte
}

// Coordinator owns the single active Session plus the ping/prune
// timestamps of the tick loop. It holds no masternode, payment or tx-lock
// registries; prune() only tracks its 60-second cadence.
type Coordinator struct {
	params config.Params
	sync   SyncTracker

	session *pool.Session

	lastPing   time.Time
	lastPrune  time.Time

	// collateralAddress is where this coordinator's own share of
	// confiscated collateral fees is paid out. Wallet configuration, not
	// a runtime operation — original_source's SetCollateralAddress.
	collateralAddress string

	inbound chan func(ctx context.Context)
}

// New constructs a Coordinator and its single Session, wiring every
// capability dependency spec.md §6 names.
func New(
	params config.Params,
	sync SyncTracker,
	mempool pool.MempoolChecker,
	wallet pool.WalletCoins,
	relay pool.Relay,
	clock pool.Clock,
	msgSigner *signer.MessageSigner,
	j *journal.Journal,
	coordPriv *btcec.PrivateKey,
	coordVin wire.OutPoint,
) *Coordinator {
	return &Coordinator{
		params:  params,
		sync:    sync,
		session: pool.New(params, mempool, wallet, relay, clock, msgSigner, j, coordPriv, coordVin),
		inbound: make(chan func(ctx context.Context), 64),
	}
}

// Session exposes the current round for read-only status reporting (the
// HTTP status endpoint in internal/api).
func (c *Coordinator) Session() *pool.Session { return c.session }

// SetCollateralAddress configures the payout address for this
// coordinator's own share of confiscated collateral. It is wallet
// configuration, set once at startup, not something a round touches.
func (c *Coordinator) SetCollateralAddress(addr string) {
	c.collateralAddress = addr
}

// CollateralAddress returns the configured payout address, or "" if unset.
func (c *Coordinator) CollateralAddress() string {
	return c.collateralAddress
}

// Submit enqueues an inbound "dsa"+"dsi" admission for processing on the
// coordinator goroutine. It never blocks the caller's goroutine on session
// logic; it only blocks if the inbound queue itself is full, which signals
// the coordinator has fallen behind. onResult, if non-nil, runs on the
// coordinator goroutine once the admission is decided — the websocket
// handler uses it to send a personalized "dssu" back to just this
// submitter (accepted=1) rather than the broadcast every other peer gets
// (accepted=-1), matching the original's pfrom-vs-RelayStatus split.
func (c *Coordinator) Submit(ctx context.Context, msg AdmitMessage, collateralChecker CollateralChecker, onResult func(accepted bool, errID pool.ErrorID)) {
	c.inbound <- func(ctx context.Context) {
		errID := c.session.CheckCompatible(ctx, msg.Denom, msg.Collateral, collateralChecker)
		if errID != pool.MsgNoErr {
			if onResult != nil {
				onResult(false, errID)
			}
			return
		}
		ok, entryErrID := c.session.Admit(ctx, msg.Entry, collateralChecker)
		if onResult != nil {
			onResult(ok, entryErrID)
		}
	}
}

// SubmitSignature enqueues an inbound "dss" for processing on the
// coordinator goroutine.
func (c *Coordinator) SubmitSignature(ctx context.Context, msg SignatureMessage, onResult func(accepted bool)) {
	c.inbound <- func(ctx context.Context) {
		ok := c.session.AddScriptSig(msg.PrevOut, msg.Sequence, msg.ScriptSig, msg.PrevPubKey)
		if onResult != nil {
			onResult(ok)
		}
	}
}

// Run drives the 1Hz tick loop until ctx is cancelled. Each tick: advance
// chain sync tracking (returning early if not synced, per spec.md step 1),
// drain any queued inbound messages, refresh the masternode ping and prune
// stale peer state every MasternodePingEvery/60s respectively, then run the
// session's own timeout and quorum/progression checks.
func (c *Coordinator) Run(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case fn := <-c.inbound:
			fn(ctx)
		case <-ticker.C:
			c.tick(ctx)
		}
	}
}

func (c *Coordinator) tick(ctx context.Context) {
	if err := c.sync.Advance(ctx); err != nil {
		log.Printf("coordinator: sync advance failed: %v", err)
		return
	}
	if !c.sync.IsSynced() {
		return
	}

	c.drainInbound(ctx)

	now := time.Now()
	if now.Sub(c.lastPing) >= c.params.MasternodePingEvery {
		c.lastPing = now
		// A real deployment signs and relays a liveness ping here; this
		// coordinator's own queue announcements already carry that
		// signal (see pool.Session.CheckQuorum), so there is nothing
		// further to wire until peer discovery exists.
	}
	c.prune(now)

	c.session.CheckTimeout(ctx)
	c.session.CheckQuorum()
	c.session.Check(ctx)
}

// drainInbound processes every message queued since the last tick without
// blocking on the ticker.
func (c *Coordinator) drainInbound(ctx context.Context) {
	for {
		select {
		case fn := <-c.inbound:
			fn(ctx)
		default:
			return
		}
	}
}

// prune runs the original's once-a-minute masternode-list/payment-list/
// tx-lock-list cleanup. This coordinator does not yet maintain those
// registries (no peer discovery layer is in scope), so prune is currently
// a timestamp-gated no-op kept as the extension point supplemented feature
// #3 (SPEC_FULL.md §10) names.
func (c *Coordinator) prune(now time.Time) {
	if now.Sub(c.lastPrune) < 60*time.Second {
		return
	}
	c.lastPrune = now
}
