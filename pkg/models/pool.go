// Package models holds the wire-level data shapes shared by every package
// in the coordinator: inputs, outputs, entries, sessions, and the signed
// beacons/journal entries that travel between masternode and client.
package models

import (
	"time"

	"github.com/btcsuite/btcd/wire"
)

// Denom is an opaque tag agreed out-of-band between clients and the
// coordinator. The pool only ever checks equality against it; there is no
// arithmetic relationship between a Denom value and the satoshi amount it
// represents.
type Denom uint64

// OutPoint identifies a previous output being spent. It mirrors
// wire.OutPoint but keeps the field names the protocol docs use.
type OutPoint struct {
	Hash  wire.OutPoint
	Value int64 // amount of the referenced output, in satoshis; 0 if unknown
}

// IsNull reports whether the referenced outpoint is the null outpoint (an
// all-zero hash with index 0xffffffff) — an invalid input that
// AddEntry/admit must reject.
func (o OutPoint) IsNull() bool {
	return o.Hash.Hash == [32]byte{} && o.Hash.Index == 0xffffffff
}

// In is a single transaction input contributed by a client. ScriptSig stays
// empty until the owning client returns its signature during the Signing
// phase.
type In struct {
	PrevOut    wire.OutPoint
	Sequence   uint32
	ScriptSig  []byte
	PrevPubKey []byte // scriptPubKey of the referenced output, needed for sighash
}

// SIn is an In plus the bookkeeping the coordinator needs while collecting
// signatures: HasSig flips true once ScriptSig verifies against PrevPubKey
// under the merged transaction's sighash.
type SIn struct {
	In
	HasSig bool
}

// Same reports whether two SIn values reference the identical prevout and
// sequence — the identity used for "is this my slot in the merged tx".
func (s SIn) Same(other wire.OutPoint, sequence uint32) bool {
	return s.PrevOut == other && s.Sequence == sequence
}

// Out is a single transaction output.
type Out struct {
	Value        int64
	ScriptPubKey []byte
}

// Entry is one client's submission to the current session. Entries are
// immutable except for the per-input ScriptSig/HasSig slots, which are
// updated in place as signatures arrive.
type Entry struct {
	Inputs      []SIn
	Outputs     []Out
	Amount      Denom
	Collateral  *wire.MsgTx
	SubmittedAt time.Time
}

// Expired reports whether this entry has outlived entryTTL since it was
// submitted.
func (e Entry) Expired(now time.Time, entryTTL time.Duration) bool {
	return now.Sub(e.SubmittedAt) >= entryTTL
}

// HasInput reports whether this entry already spends the given prevout —
// the check behind global input-uniqueness across a session (spec property
// 2, ERR_ALREADY_HAVE).
func (e Entry) HasInput(prevOut wire.OutPoint) bool {
	for _, in := range e.Inputs {
		if in.PrevOut == prevOut {
			return true
		}
	}
	return false
}

// SignaturesComplete reports whether every input in this entry has a
// verified signature.
func (e Entry) SignaturesComplete() bool {
	for _, in := range e.Inputs {
		if !in.HasSig {
			return false
		}
	}
	return true
}

// State is a PoolSession's place in the coordinator's state machine.
type State int

const (
	StateIdle State = iota
	StateQueue
	StateAccepting
	StateFinalize
	StateSigning
	StateTransmission
	StateSuccess
	StateError
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateQueue:
		return "queue"
	case StateAccepting:
		return "accepting"
	case StateFinalize:
		return "finalize"
	case StateSigning:
		return "signing"
	case StateTransmission:
		return "transmission"
	case StateSuccess:
		return "success"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// QueueAnnouncement is the coordinator's signed availability beacon: "I am
// a masternode willing to mix denomination Denom right now." Sign/Verify
// live in package queue; this is just the wire shape.
type QueueAnnouncement struct {
	Vin     wire.OutPoint
	Denom   Denom
	Time    int64
	Ready   bool
	Sig     []byte
}

// BroadcastJournalEntry records that the coordinator authorized and
// broadcast a given merged transaction, so re-announcing it is idempotent
// and peers can validate it came from a legitimate masternode.
type BroadcastJournalEntry struct {
	Tx               *wire.MsgTx
	CoordinatorVin   wire.OutPoint
	Sig              []byte
	SigTime          int64
}
