package signer

import (
	"context"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
)

func mustKey(t *testing.T) *btcec.PrivateKey {
	t.Helper()
	priv, err := btcec.NewPrivateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	return priv
}

func TestSignVerifyRoundTrip(t *testing.T) {
	s := New("Test Signed Message:\n")
	priv := mustKey(t)
	msg := []byte("vin123denom456time789ready1")

	sig, err := s.Sign(priv, msg)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if !s.Verify(priv.PubKey(), sig, msg) {
		t.Fatal("expected signature to verify against signer's own pubkey")
	}
}

func TestVerifyRejectsWrongKey(t *testing.T) {
	s := New("Test Signed Message:\n")
	priv := mustKey(t)
	other := mustKey(t)
	msg := []byte("payload")

	sig, err := s.Sign(priv, msg)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if s.Verify(other.PubKey(), sig, msg) {
		t.Fatal("expected verify to fail against an unrelated pubkey")
	}
}

func TestVerifyRejectsCorruptSignature(t *testing.T) {
	s := New("Test Signed Message:\n")
	priv := mustKey(t)
	msg := []byte("payload")

	sig, err := s.Sign(priv, msg)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	sig[10] ^= 0xff

	if s.Verify(priv.PubKey(), sig, msg) {
		t.Fatal("expected verify to fail once the signature is corrupted")
	}
}

func TestVerifyNeverPanicsOnMalformedInput(t *testing.T) {
	s := New("Test Signed Message:\n")
	priv := mustKey(t)
	if s.Verify(priv.PubKey(), nil, []byte("x")) {
		t.Fatal("expected false for empty signature")
	}
	if s.Verify(nil, []byte{1, 2, 3}, []byte("x")) {
		t.Fatal("expected false for nil pubkey")
	}
}

type fakeChainView struct {
	txs map[chainhash.Hash]*wire.MsgTx
}

func (f *fakeChainView) LookupTx(_ context.Context, txid chainhash.Hash) (*wire.MsgTx, error) {
	tx, ok := f.txs[txid]
	if !ok {
		return nil, nil
	}
	return tx, nil
}

func p2pkhScript(pub *btcec.PublicKey) ([]byte, error) {
	pkHash := btcec.Hash160(pub.SerializeCompressed())
	return txscript.NewScriptBuilder().
		AddOp(txscript.OP_DUP).
		AddOp(txscript.OP_HASH160).
		AddData(pkHash).
		AddOp(txscript.OP_EQUALVERIFY).
		AddOp(txscript.OP_CHECKSIG).
		Script()
}

func TestVinAssociatesPubkey(t *testing.T) {
	s := New("Test Signed Message:\n")
	priv := mustKey(t)
	const collateral = 1000 * 100000000

	script, err := p2pkhScript(priv.PubKey())
	if err != nil {
		t.Fatalf("build script: %v", err)
	}

	prevTx := wire.NewMsgTx(1)
	prevTx.AddTxOut(wire.NewTxOut(collateral, script))
	txid := prevTx.TxHash()

	chain := &fakeChainView{txs: map[chainhash.Hash]*wire.MsgTx{txid: prevTx}}
	vin := wire.OutPoint{Hash: txid, Index: 0}

	if !s.VinAssociatesPubkey(context.Background(), chain, vin, priv.PubKey(), collateral, p2pkhScript) {
		t.Fatal("expected vin to associate with pubkey")
	}

	other := mustKey(t)
	if s.VinAssociatesPubkey(context.Background(), chain, vin, other.PubKey(), collateral, p2pkhScript) {
		t.Fatal("expected vin to not associate with an unrelated pubkey")
	}

	if s.VinAssociatesPubkey(context.Background(), chain, vin, priv.PubKey(), collateral-1, p2pkhScript) {
		t.Fatal("expected mismatched collateral value to fail association")
	}
}

func TestVinAssociatesPubkeyMissingPrevout(t *testing.T) {
	s := New("Test Signed Message:\n")
	priv := mustKey(t)
	chain := &fakeChainView{txs: map[chainhash.Hash]*wire.MsgTx{}}
	vin := wire.OutPoint{Hash: chainhash.Hash{0x01}, Index: 0}

	if s.VinAssociatesPubkey(context.Background(), chain, vin, priv.PubKey(), 1000, p2pkhScript) {
		t.Fatal("expected false for missing prevout lookup")
	}
}
