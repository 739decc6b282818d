// wire.go defines the JSON envelope the websocket hub exchanges with
// clients — a direct encoding of spec.md §6's command table ("dsa", "dsq",
// "dsi", "dsf", "dss", "dssu", "dsc") — and WireRelay, the
// pool.Relay/queue.Relay implementation that turns a Session's outbound
// events into envelopes broadcast over the Hub.
package api

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"log"

	"github.com/btcsuite/btcd/wire"
	"github.com/rawblock/obfpool-coordinator/internal/pool"
	"github.com/rawblock/obfpool-coordinator/pkg/models"
)

// Envelope is the outer shape of every message exchanged over the pool's
// websocket stream: a command tag plus its JSON payload.
type Envelope struct {
	Cmd     string          `json:"cmd"`
	Payload json.RawMessage `json:"payload"`
}

// DSAPayload requests admission: "I hold collateral for denomination
// Denom, let me in." CollateralTxHex is the raw collateral transaction,
// hex-encoded.
type DSAPayload struct {
	Denom           models.Denom `json:"denom"`
	CollateralTxHex string       `json:"collateral_tx"`
}

// WireIn is an input as it travels over the wire: a previous outpoint
// (txid:index), its sequence, and — once dss is sent — its scriptSig and
// referenced scriptPubKey.
type WireIn struct {
	PrevTxid   string `json:"prev_txid"`
	PrevIndex  uint32 `json:"prev_index"`
	Sequence   uint32 `json:"sequence"`
	ScriptSig  string `json:"script_sig,omitempty"`
	PrevPubKey string `json:"prev_pubkey,omitempty"`
}

// WireOut is an output as it travels over the wire: a destination address
// rather than a raw script, matching how the protocol's clients actually
// speak to a coordinator (the scriptPubKey is derived server-side from the
// network's address format).
type WireOut struct {
	Value   int64  `json:"value"`
	Address string `json:"address"`
}

// DSIPayload submits an entry: the client's inputs, outputs, declared
// amount, and collateral, all in one message (this coordinator folds the
// original two-phase dsa-then-dsi exchange into a single admission call;
// see DESIGN.md).
type DSIPayload struct {
	Denom           models.Denom `json:"denom"`
	CollateralTxHex string       `json:"collateral_tx"`
	Inputs          []WireIn     `json:"inputs"`
	Outputs         []WireOut    `json:"outputs"`
	Amount          models.Denom `json:"amount"`
}

// DSSPayload delivers one signed input back for the current merged
// transaction.
type DSSPayload struct {
	PrevTxid   string `json:"prev_txid"`
	PrevIndex  uint32 `json:"prev_index"`
	Sequence   uint32 `json:"sequence"`
	ScriptSig  string `json:"script_sig"`
	PrevPubKey string `json:"prev_pubkey"`
}

// DSFPayload asks every participant to sign: the session id and the
// unsigned merged transaction, hex-encoded.
type DSFPayload struct {
	SessionID uint32 `json:"session_id"`
	MergedHex string `json:"merged_tx"`
}

// DSSUPayload reports the session's current phase to one or all clients.
type DSSUPayload struct {
	SessionID    uint32 `json:"session_id"`
	State        int    `json:"state"`
	EntriesCount int    `json:"entries_count"`
	Accepted     int    `json:"accepted"`
	ErrorID      int    `json:"error_id"`
}

// DSCPayload reports that a round finished, successfully or not.
type DSCPayload struct {
	SessionID uint32 `json:"session_id"`
	Failed    bool   `json:"failed"`
	ErrorID   int    `json:"error_id"`
	Error     string `json:"error,omitempty"`
}

func marshalEnvelope(cmd string, payload interface{}) []byte {
	body, err := json.Marshal(payload)
	if err != nil {
		log.Printf("pool: failed to marshal %s payload: %v", cmd, err)
		return nil
	}
	raw, err := json.Marshal(Envelope{Cmd: cmd, Payload: body})
	if err != nil {
		log.Printf("pool: failed to marshal %s envelope: %v", cmd, err)
		return nil
	}
	return raw
}

// WireRelay implements pool.Relay/queue.Relay by encoding every
// coordinator-initiated event as an Envelope and broadcasting it to every
// connected client over the Hub.
type WireRelay struct {
	hub *Hub
}

// NewWireRelay returns a WireRelay broadcasting through hub.
func NewWireRelay(hub *Hub) *WireRelay {
	return &WireRelay{hub: hub}
}

// BroadcastQueue sends a "dsq" — the coordinator's availability beacon.
func (r *WireRelay) BroadcastQueue(ann models.QueueAnnouncement) {
	payload := struct {
		VinTxid string       `json:"vin_txid"`
		VinVout uint32       `json:"vin_vout"`
		Denom   models.Denom `json:"denom"`
		Time    int64        `json:"time"`
		Ready   bool         `json:"ready"`
		SigHex  string       `json:"sig"`
	}{
		VinTxid: ann.Vin.Hash.String(),
		VinVout: ann.Vin.Index,
		Denom:   ann.Denom,
		Time:    ann.Time,
		Ready:   ann.Ready,
		SigHex:  hex.EncodeToString(ann.Sig),
	}
	if raw := marshalEnvelope("dsq", payload); raw != nil {
		r.hub.Broadcast(raw)
	}
}

// RelayFinal sends a "dsf" — the merged transaction every participant must
// sign their own inputs of.
func (r *WireRelay) RelayFinal(sessionID uint32, tx *wire.MsgTx) {
	var buf []byte
	if tx != nil {
		b, err := serializeTx(tx)
		if err != nil {
			log.Printf("pool: failed to serialize merged tx: %v", err)
			return
		}
		buf = b
	}
	raw := marshalEnvelope("dsf", DSFPayload{SessionID: sessionID, MergedHex: hex.EncodeToString(buf)})
	if raw != nil {
		r.hub.Broadcast(raw)
	}
}

// RelayStatus sends a "dssu" to every connected client. A personalized
// "accepted" reply to a single submitter goes out separately, via the
// onResult callback passed to coordinator.Submit (see wirehandler.go).
func (r *WireRelay) RelayStatus(sessionID uint32, state int, entriesCount int, accepted int, errorID pool.ErrorID) {
	raw := marshalEnvelope("dssu", DSSUPayload{
		SessionID:    sessionID,
		State:        state,
		EntriesCount: entriesCount,
		Accepted:     accepted,
		ErrorID:      int(errorID),
	})
	if raw != nil {
		r.hub.Broadcast(raw)
	}
}

// RelayCompleted sends a "dsc" announcing the round's outcome.
func (r *WireRelay) RelayCompleted(sessionID uint32, failed bool, errorID pool.ErrorID) {
	raw := marshalEnvelope("dsc", DSCPayload{
		SessionID: sessionID,
		Failed:    failed,
		ErrorID:   int(errorID),
		Error:     errorID.Message(),
	})
	if raw != nil {
		r.hub.Broadcast(raw)
	}
}

func serializeTx(tx *wire.MsgTx) ([]byte, error) {
	var buf bytes.Buffer
	if err := tx.Serialize(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
