// Package pool implements the coordinator's session state machine: the
// sole subject of this specification. One Session is owned exclusively by
// the single coordinator goroutine that drives it (see internal/coordinator);
// nothing here takes a lock because nothing here is called concurrently.
package pool

import (
	"bytes"
	"context"
	cryptorand "crypto/rand"
	"encoding/binary"
	mathrand "math/rand/v2"
	"strconv"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/rawblock/obfpool-coordinator/internal/config"
	"github.com/rawblock/obfpool-coordinator/internal/journal"
	"github.com/rawblock/obfpool-coordinator/internal/queue"
	"github.com/rawblock/obfpool-coordinator/internal/signer"
	"github.com/rawblock/obfpool-coordinator/pkg/models"
)

// AdmitRequest is a client's raw submission before it becomes an Entry.
type AdmitRequest struct {
	Inputs     []models.In
	Outputs    []models.Out
	Amount     models.Denom
	Collateral *wire.MsgTx
}

// Session is the coordinator's current mixing round.
type Session struct {
	ID               uint32
	Denom            models.Denom
	State            models.State
	Entries          []models.Entry
	CollateralPool   []*wire.MsgTx
	Merged           *wire.MsgTx
	UserCount        int
	LastTransitionAt time.Time
	LastMessage      string

	params    config.Params
	mempool   MempoolChecker
	wallet    WalletCoins
	relay     Relay
	clock     Clock
	signer    *signer.MessageSigner
	announcer *queue.Announcer
	journal   *journal.Journal

	coordinatorPriv *btcec.PrivateKey
	coordinatorVin  wire.OutPoint

	shuffleRand *mathrand.Rand
	policyRand  *mathrand.Rand

	lockedCoins map[wire.OutPoint]bool

	// queueAnnouncements is the broadcast set this session has sent dsq
	// beacons into; CheckTimeout prunes it independently of session phase
	// (spec.md §4.7's "any state" row).
	queueAnnouncements []models.QueueAnnouncement
}

// New returns an idle Session bound to its host capabilities. coordPriv and
// coordVin identify the coordinator itself for final-transaction signing
// and for the dsq announcements it sends.
func New(params config.Params, mempool MempoolChecker, wallet WalletCoins, relay Relay, clock Clock, msgSigner *signer.MessageSigner, j *journal.Journal, coordPriv *btcec.PrivateKey, coordVin wire.OutPoint) *Session {
	s := &Session{
		params:          params,
		mempool:         mempool,
		wallet:          wallet,
		relay:           relay,
		clock:           clock,
		signer:          msgSigner,
		announcer:       queue.New(msgSigner, params.QueueAnnounceTTL),
		journal:         j,
		coordinatorPriv: coordPriv,
		coordinatorVin:  coordVin,
		lockedCoins:     make(map[wire.OutPoint]bool),
	}
	s.reseed()
	s.State = models.StateIdle
	s.LastTransitionAt = clock.Now()
	return s
}

// reseed draws a fresh cryptographically secure seed for the shuffle RNG
// and an independent seed for the policy-dice RNG, per spec.md's
// "Randomness split": the two must never share a seed or stream.
func (s *Session) reseed() {
	var shuffleSeed [32]byte
	_, _ = cryptorand.Read(shuffleSeed[:])
	s.shuffleRand = mathrand.New(mathrand.NewChaCha8(shuffleSeed))

	var policySeed [16]byte
	_, _ = cryptorand.Read(policySeed[:])
	s.policyRand = mathrand.New(mathrand.NewPCG(
		binary.LittleEndian.Uint64(policySeed[0:8]),
		binary.LittleEndian.Uint64(policySeed[8:16]),
	))
}

func (s *Session) transition(to models.State) {
	s.State = to
	s.LastTransitionAt = s.clock.Now()
}

// CheckCompatible runs the admission-compatibility gate the original
// implementation performs before a client's first "dsi": on the very first
// entrant it seeds the session (ID, denom, Queue state) and emits the
// opening (non-ready) queue announcement; on later entrants it checks mode,
// the participant limit and denomination (supplemented feature #2,
// SPEC_FULL.md §10). Every entrant's collateral is validated first.
func (s *Session) CheckCompatible(ctx context.Context, denom models.Denom, collateral *wire.MsgTx, validator interface {
	IsValid(ctx context.Context, tx *wire.MsgTx) bool
}) ErrorID {
	if denom == 0 {
		return ErrDenom
	}
	if !validator.IsValid(ctx, collateral) {
		return ErrInvalidCollateral
	}

	if s.UserCount < 0 {
		s.UserCount = 0
	}

	if s.UserCount == 0 {
		var idBuf [4]byte
		_, _ = cryptorand.Read(idBuf[:])
		s.ID = 1 + (binary.BigEndian.Uint32(idBuf[:]) % 999999)
		s.Denom = denom
		s.UserCount++
		s.transition(models.StateQueue)

		ann := models.QueueAnnouncement{
			Vin:   s.coordinatorVin,
			Denom: denom,
			Time:  s.clock.Now().Unix(),
			Ready: false,
		}
		if err := s.announcer.Sign(&ann, s.coordinatorPriv); err == nil {
			s.announcer.Relay(ann, s.relay)
			s.queueAnnouncements = append(s.queueAnnouncements, ann)
		}
		s.relay.RelayStatus(s.ID, int(s.State), len(s.Entries), 0, ErrNone)
		s.CollateralPool = append(s.CollateralPool, collateral)
		return MsgNoErr
	}

	if (s.State != models.StateAccepting && s.State != models.StateQueue) || s.UserCount >= s.params.MaxPoolEntries {
		if s.State != models.StateAccepting && s.State != models.StateQueue {
			return ErrMode
		}
		return ErrQueueFull
	}

	if denom != s.Denom {
		return ErrDenom
	}

	s.UserCount++
	s.LastTransitionAt = s.clock.Now()
	s.CollateralPool = append(s.CollateralPool, collateral)
	return MsgNoErr
}

// Admit adds req as a new Entry, enforcing every invariant spec.md §4.4
// names. On failure it decrements UserCount (the compatibility check above
// already incremented it) and returns the specific error code.
func (s *Session) Admit(ctx context.Context, req AdmitRequest, validator interface {
	IsValid(ctx context.Context, tx *wire.MsgTx) bool
}) (bool, ErrorID) {
	if s.State != models.StateQueue && s.State != models.StateAccepting {
		s.UserCount--
		return false, ErrMode
	}

	for _, in := range req.Inputs {
		if in.PrevOut.Hash == (chainhash.Hash{}) || req.Amount < 0 {
			s.UserCount--
			return false, ErrInvalidInput
		}
	}

	if !validator.IsValid(ctx, req.Collateral) {
		s.UserCount--
		return false, ErrInvalidCollateral
	}

	if len(s.Entries) >= s.params.MaxPoolEntries {
		s.UserCount--
		return false, ErrEntriesFull
	}

	if req.Amount != s.Denom {
		s.UserCount--
		return false, ErrDenom
	}

	for _, in := range req.Inputs {
		for _, e := range s.Entries {
			if e.HasInput(in.PrevOut) {
				s.UserCount--
				return false, ErrAlreadyHave
			}
		}
	}

	sins := make([]models.SIn, len(req.Inputs))
	for i, in := range req.Inputs {
		sins[i] = models.SIn{In: in}
	}

	entry := models.Entry{
		Inputs:      sins,
		Outputs:     req.Outputs,
		Amount:      req.Amount,
		Collateral:  req.Collateral,
		SubmittedAt: s.clock.Now(),
	}
	s.Entries = append(s.Entries, entry)
	s.LastTransitionAt = s.clock.Now()
	for _, in := range req.Inputs {
		_ = s.wallet.LockCoin(ctx, in.PrevOut)
		s.lockedCoins[in.PrevOut] = true
	}
	s.relay.RelayStatus(s.ID, int(s.State), len(s.Entries), -1, MsgEntriesAdded)

	return true, MsgEntriesAdded
}

// CheckQuorum transitions Queue -> Accepting once the session has the
// maximum number of participants, announcing readiness over dsq.
func (s *Session) CheckQuorum() {
	if s.State != models.StateQueue || s.UserCount != s.params.MaxPoolEntries {
		return
	}
	s.transition(models.StateAccepting)

	ann := models.QueueAnnouncement{
		Vin:   s.coordinatorVin,
		Denom: s.Denom,
		Time:  s.clock.Now().Unix(),
		Ready: true,
	}
	if err := s.announcer.Sign(&ann, s.coordinatorPriv); err == nil {
		s.announcer.Relay(ann, s.relay)
		s.queueAnnouncements = append(s.queueAnnouncements, ann)
	}
}

// Check advances Finalize -> Signing -> Transmission -> (Success|Error) as
// each phase's precondition becomes true, and resets Success/Error sessions
// after their 10-second display window. It mirrors the original
// CObfuscationPool::Check() dispatch.
func (s *Session) Check(ctx context.Context) {
	if s.State == models.StateAccepting && len(s.Entries) >= s.params.MaxPoolEntries {
		s.transition(models.StateFinalize)
	}

	if s.State == models.StateFinalize {
		s.buildMerged()
	}

	if s.State == models.StateSigning && s.SignaturesComplete() {
		s.transition(models.StateTransmission)
		s.broadcast(ctx)
	}

	if (s.State == models.StateError || s.State == models.StateSuccess) &&
		s.clock.Now().Sub(s.LastTransitionAt) >= 10*time.Second {
		s.Reset(ctx)
		s.relay.RelayStatus(s.ID, int(s.State), len(s.Entries), 0, ErrNone)
	}
}

// buildMerged concatenates every entry's outputs then inputs, shuffles each
// vector independently with the cryptographically seeded RNG, and relays
// the result for signing. Never call the policy RNG here: the shuffle must
// stay on its own stream (spec.md §5, Randomness split).
func (s *Session) buildMerged() {
	tx := wire.NewMsgTx(1)

	type slot struct {
		in    *wire.TxIn
		entry int
		index int
	}
	var slots []slot
	for ei, e := range s.Entries {
		for _, out := range e.Outputs {
			tx.AddTxOut(&wire.TxOut{Value: out.Value, PkScript: out.ScriptPubKey})
		}
		for ii, in := range e.Inputs {
			slots = append(slots, slot{
				in:    &wire.TxIn{PreviousOutPoint: in.PrevOut, Sequence: in.Sequence},
				entry: ei,
				index: ii,
			})
		}
	}

	s.shuffleRand.Shuffle(len(slots), func(i, j int) { slots[i], slots[j] = slots[j], slots[i] })
	s.shuffleRand.Shuffle(len(tx.TxOut), func(i, j int) { tx.TxOut[i], tx.TxOut[j] = tx.TxOut[j], tx.TxOut[i] })

	for _, sl := range slots {
		tx.AddTxIn(sl.in)
	}

	s.Merged = tx
	s.transition(models.StateSigning)
	s.relay.RelayFinal(s.ID, s.Merged)
}

// AddScriptSig accepts a signed input for the unsigned merged transaction.
// It verifies the signature under SIGHASH_ALL|SIGHASH_ANYONECANPAY against
// the merged transaction's input at the matching slot, then copies
// scriptSig into both the merged transaction and the owning entry.
func (s *Session) AddScriptSig(prevOut wire.OutPoint, sequence uint32, scriptSig []byte, prevPubKey []byte) bool {
	if s.Merged == nil {
		return false
	}

	for _, e := range s.Entries {
		for _, in := range e.Inputs {
			if bytes.Equal(in.ScriptSig, scriptSig) && len(scriptSig) > 0 {
				return false // already have this exact signature recorded
			}
		}
	}

	idx := -1
	for i, vin := range s.Merged.TxIn {
		if vin.PreviousOutPoint == prevOut && vin.Sequence == sequence {
			idx = i
			break
		}
	}
	if idx < 0 {
		return false
	}

	if !s.signatureValid(idx, scriptSig, prevPubKey) {
		return false
	}

	s.Merged.TxIn[idx].SignatureScript = scriptSig

	for ei := range s.Entries {
		for ii := range s.Entries[ei].Inputs {
			in := &s.Entries[ei].Inputs[ii]
			if in.PrevOut == prevOut && in.Sequence == sequence {
				in.ScriptSig = scriptSig
				in.PrevPubKey = prevPubKey
				in.HasSig = true
				return true
			}
		}
	}
	return false
}

// signatureValid verifies the candidate scriptSig against the merged
// transaction's sighash for input idx, using SIGHASH_ALL|SIGHASH_ANYONECANPAY
// so each participant signs only their own inputs while committing to every
// output (spec.md glossary).
func (s *Session) signatureValid(idx int, scriptSig, prevPubKey []byte) bool {
	prevOutFetcher := txscript.NewCannedPrevOutputFetcher(prevPubKey, 0)
	sigHashes := txscript.NewTxSigHashes(s.Merged, prevOutFetcher)

	vm, err := txscript.NewEngine(
		prevPubKey,
		cloneWithScriptSig(s.Merged, idx, scriptSig),
		idx,
		txscript.StandardVerifyFlags,
		nil,
		sigHashes,
		0,
		prevOutFetcher,
	)
	if err != nil {
		return false
	}
	return vm.Execute() == nil
}

func cloneWithScriptSig(tx *wire.MsgTx, idx int, scriptSig []byte) *wire.MsgTx {
	clone := tx.Copy()
	clone.TxIn[idx].SignatureScript = scriptSig
	return clone
}

// SignaturesComplete reports whether every entry's every input has a
// verified signature (spec.md §8 property 4's precondition).
func (s *Session) SignaturesComplete() bool {
	for _, e := range s.Entries {
		if !e.SignaturesComplete() {
			return false
		}
	}
	return true
}

// broadcast submits the merged transaction to the mempool, signs a success
// announcement, journals it, and either unlocks coins, clears the session and
// returns to Accepting (on mempool rejection) or runs ChargeRandomFees and
// moves to Success (on acceptance); Check resets a Success session to Idle
// once its 10-second display window has passed.
func (s *Session) broadcast(ctx context.Context) {
	if err := s.mempool.Accept(ctx, s.Merged, false); err != nil {
		s.LastMessage = ErrInvalidTx.Message()
		for outpoint := range s.lockedCoins {
			_ = s.wallet.UnlockCoin(ctx, outpoint)
		}
		s.clearEntriesKeepCoinsLocked()
		s.transition(models.StateAccepting)
		s.relay.RelayCompleted(s.ID, true, ErrInvalidTx)
		return
	}

	sigTime := s.clock.Now().Unix()
	txHash := s.Merged.TxHash()
	preimage := []byte(txHash.String() + strconv.FormatInt(sigTime, 10))
	sig, _ := s.signer.Sign(s.coordinatorPriv, preimage)

	s.journal.Put(ctx, txHash, models.BroadcastJournalEntry{
		Tx:             s.Merged,
		CoordinatorVin: s.coordinatorVin,
		Sig:            sig,
		SigTime:        sigTime,
	})

	s.relay.RelayCompleted(s.ID, false, MsgSuccess)
	s.ChargeRandomFees(ctx)

	s.transition(models.StateSuccess)
	s.LastMessage = ""
	s.clearEntriesKeepCoinsLocked()
}

// clearEntriesKeepCoinsLocked drops entries/collateral bookkeeping after a
// successful round without unlocking coins — the wallet's own spend of the
// now-broadcast merged transaction will naturally free them.
func (s *Session) clearEntriesKeepCoinsLocked() {
	s.Entries = nil
	s.CollateralPool = nil
	s.Merged = nil
	s.UserCount = 0
	s.lockedCoins = make(map[wire.OutPoint]bool)
}

// Reset forces the session back to Idle from any state: unlocks every
// previously locked coin exactly once, clears entries and the collateral
// pool, and reseeds both RNGs. Calling Reset twice in a row is a no-op the
// second time (spec.md §8 property 5).
func (s *Session) Reset(ctx context.Context) {
	for outpoint := range s.lockedCoins {
		_ = s.wallet.UnlockCoin(ctx, outpoint)
	}
	s.lockedCoins = make(map[wire.OutPoint]bool)

	s.UserCount = 0
	s.Entries = nil
	s.CollateralPool = nil
	s.Merged = nil
	s.ID = 0
	s.Denom = 0
	s.LastMessage = ""
	s.reseed()
	s.transition(models.StateIdle)
}
