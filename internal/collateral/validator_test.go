package collateral

import (
	"context"
	"errors"
	"testing"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
)

type fakeChain struct {
	txs map[chainhash.Hash]*wire.MsgTx
}

func (f *fakeChain) LookupTx(_ context.Context, txid chainhash.Hash) (*wire.MsgTx, error) {
	tx, ok := f.txs[txid]
	if !ok {
		return nil, errors.New("not found")
	}
	return tx, nil
}

type fakeMempool struct {
	err error
}

func (f *fakeMempool) Accept(_ context.Context, _ *wire.MsgTx, _ bool) error {
	return f.err
}

func p2pkhScript(t *testing.T) []byte {
	t.Helper()
	script, err := txscript.NewScriptBuilder().
		AddOp(txscript.OP_DUP).
		AddOp(txscript.OP_HASH160).
		AddData(make([]byte, 20)).
		AddOp(txscript.OP_EQUALVERIFY).
		AddOp(txscript.OP_CHECKSIG).
		Script()
	if err != nil {
		t.Fatalf("build script: %v", err)
	}
	return script
}

func buildCollateral(t *testing.T, valueIn, valueOut int64, prevTx *wire.MsgTx) *wire.MsgTx {
	t.Helper()
	tx := wire.NewMsgTx(1)
	tx.AddTxIn(&wire.TxIn{PreviousOutPoint: wire.OutPoint{Hash: prevTx.TxHash(), Index: 0}})
	tx.AddTxOut(wire.NewTxOut(valueOut, p2pkhScript(t)))
	_ = valueIn
	return tx
}

func prevTxWithValue(t *testing.T, value int64) *wire.MsgTx {
	t.Helper()
	tx := wire.NewMsgTx(1)
	tx.AddTxOut(wire.NewTxOut(value, p2pkhScript(t)))
	return tx
}

func TestValidatorAcceptsWellFormedCollateral(t *testing.T) {
	prev := prevTxWithValue(t, 1100)
	tx := buildCollateral(t, 1100, 1000, prev)

	chain := &fakeChain{txs: map[chainhash.Hash]*wire.MsgTx{prev.TxHash(): prev}}
	v := New(chain, &fakeMempool{}, 100)

	if !v.IsValid(context.Background(), tx) {
		t.Fatal("expected a well-formed collateral transaction to validate")
	}
}

func TestValidatorRejectsNonZeroLockTime(t *testing.T) {
	prev := prevTxWithValue(t, 1100)
	tx := buildCollateral(t, 1100, 1000, prev)
	tx.LockTime = 500000

	chain := &fakeChain{txs: map[chainhash.Hash]*wire.MsgTx{prev.TxHash(): prev}}
	v := New(chain, &fakeMempool{}, 100)

	if v.IsValid(context.Background(), tx) {
		t.Fatal("expected non-zero locktime to be rejected regardless of other fields")
	}
}

func TestValidatorRejectsInsufficientFee(t *testing.T) {
	prev := prevTxWithValue(t, 1050)
	tx := buildCollateral(t, 1050, 1000, prev) // fee = 50 < required 100

	chain := &fakeChain{txs: map[chainhash.Hash]*wire.MsgTx{prev.TxHash(): prev}}
	v := New(chain, &fakeMempool{}, 100)

	if v.IsValid(context.Background(), tx) {
		t.Fatal("expected insufficient fee to be rejected")
	}
}

func TestValidatorRejectsMissingPrevout(t *testing.T) {
	prev := prevTxWithValue(t, 1100)
	tx := buildCollateral(t, 1100, 1000, prev)

	chain := &fakeChain{txs: map[chainhash.Hash]*wire.MsgTx{}} // prevout unresolvable
	v := New(chain, &fakeMempool{}, 100)

	if v.IsValid(context.Background(), tx) {
		t.Fatal("expected unresolvable prevout to be rejected")
	}
}

func TestValidatorRejectsMempoolFailure(t *testing.T) {
	prev := prevTxWithValue(t, 1100)
	tx := buildCollateral(t, 1100, 1000, prev)

	chain := &fakeChain{txs: map[chainhash.Hash]*wire.MsgTx{prev.TxHash(): prev}}
	v := New(chain, &fakeMempool{err: errors.New("non-final")}, 100)

	if v.IsValid(context.Background(), tx) {
		t.Fatal("expected mempool rejection to propagate as invalid")
	}
}

func TestValidatorRejectsEmptyOutputs(t *testing.T) {
	prev := prevTxWithValue(t, 1100)
	tx := wire.NewMsgTx(1)
	tx.AddTxIn(&wire.TxIn{PreviousOutPoint: wire.OutPoint{Hash: prev.TxHash(), Index: 0}})

	chain := &fakeChain{txs: map[chainhash.Hash]*wire.MsgTx{prev.TxHash(): prev}}
	v := New(chain, &fakeMempool{}, 100)

	if v.IsValid(context.Background(), tx) {
		t.Fatal("expected zero-output transaction to be rejected")
	}
}
