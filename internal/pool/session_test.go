package pool

import (
	"context"
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/rawblock/obfpool-coordinator/internal/config"
	"github.com/rawblock/obfpool-coordinator/internal/journal"
	"github.com/rawblock/obfpool-coordinator/internal/signer"
	"github.com/rawblock/obfpool-coordinator/pkg/models"
)

type alwaysValid struct{}

func (alwaysValid) IsValid(context.Context, *wire.MsgTx) bool { return true }

type fakeMempool struct{ reject bool }

func (f *fakeMempool) Accept(context.Context, *wire.MsgTx, bool) error {
	if f.reject {
		return errRejected
	}
	return nil
}

var errRejected = &rejectError{}

type rejectError struct{}

func (*rejectError) Error() string { return "mempool: rejected" }

type fakeWallet struct {
	locked   map[wire.OutPoint]bool
	unlocked map[wire.OutPoint]int
	relayed  []*wire.MsgTx
}

func newFakeWallet() *fakeWallet {
	return &fakeWallet{locked: map[wire.OutPoint]bool{}, unlocked: map[wire.OutPoint]int{}}
}

func (f *fakeWallet) LockCoin(ctx context.Context, o wire.OutPoint) error {
	f.locked[o] = true
	return nil
}

func (f *fakeWallet) UnlockCoin(ctx context.Context, o wire.OutPoint) error {
	f.unlocked[o]++
	delete(f.locked, o)
	return nil
}

func (f *fakeWallet) Relay(ctx context.Context, tx *wire.MsgTx) error {
	f.relayed = append(f.relayed, tx)
	return nil
}

type fakeRelay struct {
	finals     []*wire.MsgTx
	announced  []models.QueueAnnouncement
	statuses   int
	completed  int
	lastFailed bool
}

func (f *fakeRelay) BroadcastQueue(ann models.QueueAnnouncement) {
	f.announced = append(f.announced, ann)
}

func (f *fakeRelay) RelayFinal(sessionID uint32, tx *wire.MsgTx) { f.finals = append(f.finals, tx) }
func (f *fakeRelay) RelayStatus(sessionID uint32, state int, entriesCount int, accepted int, errorID ErrorID) {
	f.statuses++
}
func (f *fakeRelay) RelayCompleted(sessionID uint32, failed bool, errorID ErrorID) {
	f.completed++
	f.lastFailed = failed
}

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time { return c.now }
func (c *fakeClock) advance(d time.Duration) { c.now = c.now.Add(d) }

func testParams() config.Params {
	return config.NewBuilder(config.Unit).Build()
}

func mustKeyPool(t *testing.T) *btcec.PrivateKey {
	t.Helper()
	priv, err := btcec.NewPrivateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	return priv
}

func p2pkhScriptPool(t *testing.T, pub *btcec.PublicKey) []byte {
	t.Helper()
	pkHash := chainhash.Hash160(pub.SerializeCompressed())
	script, err := txscript.NewScriptBuilder().
		AddOp(txscript.OP_DUP).
		AddOp(txscript.OP_HASH160).
		AddData(pkHash).
		AddOp(txscript.OP_EQUALVERIFY).
		AddOp(txscript.OP_CHECKSIG).
		Script()
	if err != nil {
		t.Fatalf("build script: %v", err)
	}
	return script
}

func newTestSession(t *testing.T, mempool MempoolChecker, wallet WalletCoins, relay Relay, clock Clock) (*Session, *btcec.PrivateKey) {
	t.Helper()
	priv := mustKeyPool(t)
	sgnr := signer.New(testParams().MessageMagic)
	j := journal.New(nil)
	coordVin := wire.OutPoint{Hash: chainhash.Hash{0xaa}, Index: 0}
	return New(testParams(), mempool, wallet, relay, clock, sgnr, j, priv, coordVin), priv
}

func collateralTx(t *testing.T) *wire.MsgTx {
	t.Helper()
	tx := wire.NewMsgTx(1)
	tx.AddTxIn(&wire.TxIn{PreviousOutPoint: wire.OutPoint{Hash: chainhash.Hash{0x01}, Index: 0}})
	tx.AddTxOut(&wire.TxOut{Value: 1000, PkScript: []byte{0x76, 0xa9, 0x14}})
	return tx
}

func TestCheckCompatibleSeedsSessionOnFirstEntrant(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1000, 0)}
	s, _ := newTestSession(t, &fakeMempool{}, newFakeWallet(), &fakeRelay{}, clock)

	errID := s.CheckCompatible(context.Background(), models.Denom(1), collateralTx(t), alwaysValid{})
	if errID != MsgNoErr {
		t.Fatalf("expected MsgNoErr, got %v", errID)
	}
	if s.State != models.StateQueue {
		t.Fatalf("expected Queue state, got %v", s.State)
	}
	if s.UserCount != 1 {
		t.Fatalf("expected UserCount 1, got %d", s.UserCount)
	}
	if s.ID == 0 {
		t.Fatal("expected a non-zero session id to be assigned")
	}
}

func TestCheckCompatibleRejectsDenomMismatch(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1000, 0)}
	s, _ := newTestSession(t, &fakeMempool{}, newFakeWallet(), &fakeRelay{}, clock)

	s.CheckCompatible(context.Background(), models.Denom(1), collateralTx(t), alwaysValid{})
	errID := s.CheckCompatible(context.Background(), models.Denom(2), collateralTx(t), alwaysValid{})
	if errID != ErrDenom {
		t.Fatalf("expected ErrDenom, got %v", errID)
	}
}

func TestAdmitRejectsDuplicateInput(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1000, 0)}
	wallet := newFakeWallet()
	s, _ := newTestSession(t, &fakeMempool{}, wallet, &fakeRelay{}, clock)
	s.CheckCompatible(context.Background(), models.Denom(1), collateralTx(t), alwaysValid{})

	prevOut := wire.OutPoint{Hash: chainhash.Hash{0x02}, Index: 0}
	req := AdmitRequest{
		Inputs:     []models.In{{PrevOut: prevOut}},
		Outputs:    []models.Out{{Value: 100}},
		Amount:     models.Denom(1),
		Collateral: collateralTx(t),
	}
	ok, errID := s.Admit(context.Background(), req, alwaysValid{})
	if !ok || errID != MsgEntriesAdded {
		t.Fatalf("expected first admit to succeed, got ok=%v err=%v", ok, errID)
	}

	s.UserCount++ // simulate a second CheckCompatible call admitting the same vin again
	ok, errID = s.Admit(context.Background(), req, alwaysValid{})
	if ok || errID != ErrAlreadyHave {
		t.Fatalf("expected ErrAlreadyHave, got ok=%v err=%v", ok, errID)
	}
}

func TestAdmitRejectsWrongDenom(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1000, 0)}
	s, _ := newTestSession(t, &fakeMempool{}, newFakeWallet(), &fakeRelay{}, clock)
	s.CheckCompatible(context.Background(), models.Denom(1), collateralTx(t), alwaysValid{})

	req := AdmitRequest{
		Inputs:     []models.In{{PrevOut: wire.OutPoint{Hash: chainhash.Hash{0x03}, Index: 0}}},
		Outputs:    []models.Out{{Value: 100}},
		Amount:     models.Denom(99),
		Collateral: collateralTx(t),
	}
	ok, errID := s.Admit(context.Background(), req, alwaysValid{})
	if ok || errID != ErrDenom {
		t.Fatalf("expected ErrDenom, got ok=%v err=%v", ok, errID)
	}
}

func TestResetIsIdempotent(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1000, 0)}
	wallet := newFakeWallet()
	s, _ := newTestSession(t, &fakeMempool{}, wallet, &fakeRelay{}, clock)
	s.CheckCompatible(context.Background(), models.Denom(1), collateralTx(t), alwaysValid{})

	prevOut := wire.OutPoint{Hash: chainhash.Hash{0x04}, Index: 0}
	s.Admit(context.Background(), AdmitRequest{
		Inputs:     []models.In{{PrevOut: prevOut}},
		Outputs:    []models.Out{{Value: 100}},
		Amount:     models.Denom(1),
		Collateral: collateralTx(t),
	}, alwaysValid{})

	s.Reset(context.Background())
	if wallet.unlocked[prevOut] != 1 {
		t.Fatalf("expected exactly one unlock, got %d", wallet.unlocked[prevOut])
	}
	if s.State != models.StateIdle {
		t.Fatalf("expected Idle after reset, got %v", s.State)
	}

	s.Reset(context.Background())
	if wallet.unlocked[prevOut] != 1 {
		t.Fatalf("expected unlock count to stay at 1 after a second reset, got %d", wallet.unlocked[prevOut])
	}
}

func TestCheckQuorumTransitionsOnceFull(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1000, 0)}
	s, _ := newTestSession(t, &fakeMempool{}, newFakeWallet(), &fakeRelay{}, clock)
	s.CheckCompatible(context.Background(), models.Denom(1), collateralTx(t), alwaysValid{})

	for s.UserCount < s.params.MaxPoolEntries {
		s.CheckCompatible(context.Background(), models.Denom(1), collateralTx(t), alwaysValid{})
	}
	s.CheckQuorum()
	if s.State != models.StateAccepting {
		t.Fatalf("expected Accepting once quorum reached, got %v", s.State)
	}
}

func TestBuildMergedMergesEveryEntryAndEntersSigning(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1000, 0)}
	s, _ := newTestSession(t, &fakeMempool{}, newFakeWallet(), &fakeRelay{}, clock)
	s.State = models.StateAccepting
	s.Denom = models.Denom(1)

	for i := 0; i < 3; i++ {
		s.Entries = append(s.Entries, models.Entry{
			Inputs: []models.SIn{{In: models.In{PrevOut: wire.OutPoint{Hash: chainhash.Hash{byte(i + 1)}, Index: 0}}}},
			Outputs: []models.Out{{Value: int64(100 + i), ScriptPubKey: []byte{byte(i)}}},
			Amount:  models.Denom(1),
		})
	}

	s.buildMerged()
	if s.Merged == nil {
		t.Fatal("expected a merged transaction to be built")
	}
	if len(s.Merged.TxIn) != 3 || len(s.Merged.TxOut) != 3 {
		t.Fatalf("expected 3 inputs and 3 outputs, got %d/%d", len(s.Merged.TxIn), len(s.Merged.TxOut))
	}
	if s.State != models.StateSigning {
		t.Fatalf("expected Signing state after build, got %v", s.State)
	}
}

func TestBroadcastOnMempoolRejectReturnsToAccepting(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1000, 0)}
	relay := &fakeRelay{}
	s, _ := newTestSession(t, &fakeMempool{reject: true}, newFakeWallet(), relay, clock)
	s.State = models.StateSigning
	s.Merged = wire.NewMsgTx(1)

	s.broadcast(context.Background())
	if s.State != models.StateAccepting {
		t.Fatalf("expected Accepting state on mempool rejection, got %v", s.State)
	}
	if relay.completed != 1 || !relay.lastFailed {
		t.Fatalf("expected one failed RelayCompleted call, got completed=%d failed=%v", relay.completed, relay.lastFailed)
	}
}

func TestBroadcastOnSuccessResetsEntries(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1000, 0)}
	relay := &fakeRelay{}
	s, _ := newTestSession(t, &fakeMempool{}, newFakeWallet(), relay, clock)
	s.State = models.StateSigning
	s.Merged = wire.NewMsgTx(1)
	s.Entries = []models.Entry{{Amount: 1}}
	s.CollateralPool = []*wire.MsgTx{collateralTx(t)}

	s.broadcast(context.Background())
	if s.State != models.StateSuccess {
		t.Fatalf("expected Success state, got %v", s.State)
	}
	if len(s.Entries) != 0 {
		t.Fatalf("expected entries cleared after success, got %d", len(s.Entries))
	}
	if relay.completed != 1 || relay.lastFailed {
		t.Fatalf("expected one successful RelayCompleted call")
	}
}

func TestCheckResetsAfterSuccessDisplayWindow(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1000, 0)}
	relay := &fakeRelay{}
	s, _ := newTestSession(t, &fakeMempool{}, newFakeWallet(), relay, clock)
	s.transition(models.StateSuccess)

	s.Check(context.Background())
	if s.State != models.StateSuccess {
		t.Fatalf("expected Success to persist before the display window elapses")
	}

	clock.advance(11 * time.Second)
	s.Check(context.Background())
	if s.State != models.StateIdle {
		t.Fatalf("expected Idle after the display window elapses, got %v", s.State)
	}
}

func TestCheckTimeoutResetsStalledQueue(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1000, 0)}
	wallet := newFakeWallet()
	s, _ := newTestSession(t, &fakeMempool{}, wallet, &fakeRelay{}, clock)
	s.CheckCompatible(context.Background(), models.Denom(1), collateralTx(t), alwaysValid{})

	clock.advance(s.params.QueueTimeout + time.Second)
	s.CheckTimeout(context.Background())
	if s.State != models.StateIdle {
		t.Fatalf("expected timeout to reset session to Idle, got %v", s.State)
	}
}

func TestChargeRandomFeesRoughlyTenPercent(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1000, 0)}
	wallet := newFakeWallet()
	s, _ := newTestSession(t, &fakeMempool{}, wallet, &fakeRelay{}, clock)

	const trials = 2000
	charged := 0
	for i := 0; i < trials; i++ {
		s.CollateralPool = []*wire.MsgTx{collateralTx(t)}
		before := len(wallet.relayed)
		s.ChargeRandomFees(context.Background())
		if len(wallet.relayed) > before {
			charged++
		}
	}

	rate := float64(charged) / float64(trials)
	if rate < 0.06 || rate > 0.14 {
		t.Fatalf("expected roughly 10%% charge rate, got %.3f (%d/%d)", rate, charged, trials)
	}
}

func TestStatusReportsEntryCountAlongsidePhase(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1000, 0)}
	s, _ := newTestSession(t, &fakeMempool{}, newFakeWallet(), &fakeRelay{}, clock)
	s.State = models.StateAccepting
	s.Entries = []models.Entry{{}}

	got := s.Status(0)
	if got == "" {
		t.Fatal("expected a non-empty status line")
	}
	// Both the phase text and the entry-count suffix must be present —
	// the original's shadowed "suffix" variable silently dropped this.
	if !containsAll(got, "waiting for more entries", "(1/") {
		t.Fatalf("expected status to report both phase and entry count, got %q", got)
	}
}

func TestCheckTimeoutSigningChargesFeesAndFails(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1000, 0)}
	wallet := newFakeWallet()
	relay := &fakeRelay{}
	s, _ := newTestSession(t, &fakeMempool{}, wallet, relay, clock)
	s.State = models.StateSigning
	s.LastTransitionAt = clock.now
	s.Entries = []models.Entry{{
		Inputs:      []models.SIn{{In: models.In{PrevOut: wire.OutPoint{Hash: chainhash.Hash{0x09}, Index: 0}}}},
		Collateral:  collateralTx(t),
		SubmittedAt: clock.now,
	}}
	s.CollateralPool = []*wire.MsgTx{s.Entries[0].Collateral}

	clock.advance(s.params.SigningTimeout + time.Second)
	s.CheckTimeout(context.Background())

	if s.State != models.StateError {
		t.Fatalf("expected Error state after a signing timeout, got %v", s.State)
	}
	if s.LastMessage != "Signing timed out." {
		t.Fatalf("expected last_message %q, got %q", "Signing timed out.", s.LastMessage)
	}
	if relay.completed != 1 || !relay.lastFailed {
		t.Fatalf("expected exactly one failed RelayCompleted call, got completed=%d failed=%v", relay.completed, relay.lastFailed)
	}
}

func TestCheckTimeoutQueueDoesNotChargeFees(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1000, 0)}
	wallet := newFakeWallet()
	s, _ := newTestSession(t, &fakeMempool{}, wallet, &fakeRelay{}, clock)
	s.CheckCompatible(context.Background(), models.Denom(1), collateralTx(t), alwaysValid{})

	clock.advance(s.params.QueueTimeout + time.Second)
	s.CheckTimeout(context.Background())

	if s.State != models.StateIdle {
		t.Fatalf("expected timeout to reset session to Idle, got %v", s.State)
	}
	if len(wallet.relayed) != 0 {
		t.Fatalf("expected no collateral published on a Queue/Accepting timeout, got %d", len(wallet.relayed))
	}
}

func TestCheckTimeoutPrunesExpiredEntriesAndResets(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1000, 0)}
	wallet := newFakeWallet()
	s, _ := newTestSession(t, &fakeMempool{}, wallet, &fakeRelay{}, clock)
	s.State = models.StateAccepting
	s.UserCount = 1
	s.Denom = models.Denom(1)

	prevOut := wire.OutPoint{Hash: chainhash.Hash{0x0a}, Index: 0}
	s.Entries = []models.Entry{{
		Inputs:      []models.SIn{{In: models.In{PrevOut: prevOut}}},
		Collateral:  collateralTx(t),
		SubmittedAt: clock.now,
	}}
	s.CollateralPool = []*wire.MsgTx{s.Entries[0].Collateral}
	s.lockedCoins[prevOut] = true
	s.LastTransitionAt = clock.now

	clock.advance(s.params.EntryTTL + time.Second)
	s.CheckTimeout(context.Background())

	if len(s.Entries) != 0 {
		t.Fatalf("expected the stale entry to be pruned, got %d entries", len(s.Entries))
	}
	if len(s.CollateralPool) != 0 {
		t.Fatalf("expected the stale entry's collateral to be removed from the pool, got %d", len(s.CollateralPool))
	}
	if wallet.unlocked[prevOut] != 1 {
		t.Fatalf("expected the stale entry's coin to be unlocked, got %d", wallet.unlocked[prevOut])
	}
	if s.State != models.StateIdle {
		t.Fatalf("expected draining entries to zero to reset to Idle, got %v", s.State)
	}
}

func TestCheckTimeoutPrunesExpiredQueueAnnouncements(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1000, 0)}
	s, _ := newTestSession(t, &fakeMempool{}, newFakeWallet(), &fakeRelay{}, clock)
	s.CheckCompatible(context.Background(), models.Denom(1), collateralTx(t), alwaysValid{})

	if len(s.queueAnnouncements) != 1 {
		t.Fatalf("expected the opening dsq announcement to be tracked, got %d", len(s.queueAnnouncements))
	}

	clock.advance(s.params.QueueAnnounceTTL + time.Second)
	s.pruneQueueAnnouncements(clock.now)

	if len(s.queueAnnouncements) != 0 {
		t.Fatalf("expected the stale announcement to be pruned, got %d", len(s.queueAnnouncements))
	}
}

func containsAll(s string, parts ...string) bool {
	for _, p := range parts {
		if !stringsContains(s, p) {
			return false
		}
	}
	return true
}

func stringsContains(s, substr string) bool {
	for i := 0; i+len(substr) <= len(s); i++ {
		if s[i:i+len(substr)] == substr {
			return true
		}
	}
	return false
}
