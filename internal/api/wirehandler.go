package api

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"log"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/gorilla/websocket"
	"github.com/rawblock/obfpool-coordinator/internal/config"
	"github.com/rawblock/obfpool-coordinator/internal/coordinator"
	"github.com/rawblock/obfpool-coordinator/internal/pool"
	"github.com/rawblock/obfpool-coordinator/pkg/models"
)

// CollateralChecker is the narrow shape WireHandler needs to hand a
// collateral validator through to the coordinator on every admission.
type CollateralChecker = coordinator.CollateralChecker

// WireHandler implements Hub.InboundHandler: it decodes "dsa"/"dsi"/"dss"
// envelopes off the websocket and dispatches them onto the coordinator
// goroutine, replying to the originating connection via Hub.SendTo once the
// coordinator decides the outcome.
type WireHandler struct {
	coord      *coordinator.Coordinator
	hub        *Hub
	collateral CollateralChecker
	netParams  *chaincfg.Params
}

// NewWireHandler returns a WireHandler bound to coord, replying through hub
// and validating every inbound collateral transaction with collateral.
// network selects which address format "dsi" output addresses are decoded
// against.
func NewWireHandler(coord *coordinator.Coordinator, hub *Hub, collateral CollateralChecker, network config.Network) *WireHandler {
	return &WireHandler{coord: coord, hub: hub, collateral: collateral, netParams: chainParamsFor(network)}
}

// chainParamsFor maps this coordinator's own Network enum (config.Network)
// onto the address-encoding rules btcutil needs to decode a "dsi" output
// address, the way the teacher's client.go did for its own address list
// imports.
func chainParamsFor(n config.Network) *chaincfg.Params {
	switch n {
	case config.Test:
		return &chaincfg.TestNet3Params
	case config.Reg, config.Unit:
		return &chaincfg.RegressionNetParams
	default:
		return &chaincfg.MainNetParams
	}
}

// addressToScript decodes a client-supplied destination address into the
// scriptPubKey an output actually carries.
func addressToScript(addr string, params *chaincfg.Params) ([]byte, error) {
	decoded, err := btcutil.DecodeAddress(addr, params)
	if err != nil {
		return nil, err
	}
	return txscript.PayToAddrScript(decoded)
}

// HandleMessage decodes one inbound envelope and routes it by Cmd.
func (h *WireHandler) HandleMessage(conn *websocket.Conn, raw []byte) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		log.Printf("pool: malformed envelope: %v", err)
		return
	}

	switch env.Cmd {
	case "dsa":
		h.handleDSA(conn, env.Payload)
	case "dsi":
		h.handleDSI(conn, env.Payload)
	case "dss":
		h.handleDSS(conn, env.Payload)
	default:
		log.Printf("pool: unknown inbound command %q", env.Cmd)
	}
}

// handleDSA is folded into the same admission path as dsi (see DSIPayload's
// doc comment): a bare "dsa" with no accompanying entry can't be admitted on
// its own, so it only reports the session's current phase back to the
// asking client.
func (h *WireHandler) handleDSA(conn *websocket.Conn, payload json.RawMessage) {
	var p DSAPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		log.Printf("pool: malformed dsa payload: %v", err)
		return
	}
	sess := h.coord.Session()
	raw := marshalEnvelope("dssu", DSSUPayload{
		SessionID:    sess.ID,
		State:        int(sess.State),
		EntriesCount: len(sess.Entries),
	})
	if raw != nil {
		h.hub.SendTo(conn, raw)
	}
}

func (h *WireHandler) handleDSI(conn *websocket.Conn, payload json.RawMessage) {
	var p DSIPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		log.Printf("pool: malformed dsi payload: %v", err)
		return
	}

	collateral, err := decodeTxHex(p.CollateralTxHex)
	if err != nil {
		log.Printf("pool: malformed dsi collateral: %v", err)
		return
	}

	inputs := make([]models.In, 0, len(p.Inputs))
	for _, in := range p.Inputs {
		prevOut, err := decodeOutPoint(in.PrevTxid, in.PrevIndex)
		if err != nil {
			log.Printf("pool: malformed dsi input: %v", err)
			return
		}
		inputs = append(inputs, models.In{PrevOut: prevOut, Sequence: in.Sequence})
	}

	outputs := make([]models.Out, 0, len(p.Outputs))
	for _, out := range p.Outputs {
		script, err := addressToScript(out.Address, h.netParams)
		if err != nil {
			log.Printf("pool: malformed dsi output address: %v", err)
			return
		}
		outputs = append(outputs, models.Out{Value: out.Value, ScriptPubKey: script})
	}

	msg := coordinator.AdmitMessage{
		Denom:      p.Denom,
		Collateral: collateral,
		Entry: pool.AdmitRequest{
			Inputs:     inputs,
			Outputs:    outputs,
			Amount:     p.Amount,
			Collateral: collateral,
		},
	}

	h.coord.Submit(context.Background(), msg, h.collateral, func(accepted bool, errID pool.ErrorID) {
		acceptedFlag := 0
		if accepted {
			acceptedFlag = 1
		}
		raw := marshalEnvelope("dssu", DSSUPayload{
			SessionID:    h.coord.Session().ID,
			State:        int(h.coord.Session().State),
			EntriesCount: len(h.coord.Session().Entries),
			Accepted:     acceptedFlag,
			ErrorID:      int(errID),
		})
		if raw != nil {
			h.hub.SendTo(conn, raw)
		}
	})
}

func (h *WireHandler) handleDSS(conn *websocket.Conn, payload json.RawMessage) {
	var p DSSPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		log.Printf("pool: malformed dss payload: %v", err)
		return
	}

	prevOut, err := decodeOutPoint(p.PrevTxid, p.PrevIndex)
	if err != nil {
		log.Printf("pool: malformed dss prevout: %v", err)
		return
	}
	scriptSig, err := hex.DecodeString(p.ScriptSig)
	if err != nil {
		log.Printf("pool: malformed dss scriptSig: %v", err)
		return
	}
	prevPubKey, err := hex.DecodeString(p.PrevPubKey)
	if err != nil {
		log.Printf("pool: malformed dss prevPubKey: %v", err)
		return
	}

	msg := coordinator.SignatureMessage{
		PrevOut:    prevOut,
		Sequence:   p.Sequence,
		ScriptSig:  scriptSig,
		PrevPubKey: prevPubKey,
	}
	h.coord.SubmitSignature(context.Background(), msg, func(accepted bool) {
		raw := marshalEnvelope("dssu", DSSUPayload{
			SessionID:    h.coord.Session().ID,
			State:        int(h.coord.Session().State),
			EntriesCount: len(h.coord.Session().Entries),
		})
		if raw != nil {
			h.hub.SendTo(conn, raw)
		}
	})
}

func decodeTxHex(s string) (*wire.MsgTx, error) {
	if s == "" {
		return nil, nil
	}
	raw, err := hex.DecodeString(s)
	if err != nil {
		return nil, err
	}
	tx := wire.NewMsgTx(1)
	if err := tx.Deserialize(bytes.NewReader(raw)); err != nil {
		return nil, err
	}
	return tx, nil
}

func decodeOutPoint(txid string, index uint32) (wire.OutPoint, error) {
	hash, err := chainhash.NewHashFromStr(txid)
	if err != nil {
		return wire.OutPoint{}, err
	}
	return wire.OutPoint{Hash: *hash, Index: index}, nil
}
