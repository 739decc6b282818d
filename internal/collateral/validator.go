// Package collateral validates the anti-abuse collateral transaction every
// client must submit alongside an entry: a small, fee-paying transaction
// the coordinator holds in escrow and can publish as punishment if the
// client misbehaves.
package collateral

import (
	"context"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
)

// ChainView resolves a previous transaction so input values can be summed.
type ChainView interface {
	LookupTx(ctx context.Context, txid chainhash.Hash) (*wire.MsgTx, error)
}

// MempoolChecker is the local mempool acceptance predicate, with a
// "treat-as-standard" relaxation for collateral transactions that would
// otherwise be rejected as non-standard (original_source's
// AcceptableInputs(..., fLimitFree=true, ...)).
type MempoolChecker interface {
	Accept(ctx context.Context, tx *wire.MsgTx, treatAsStandard bool) error
}

// Validator checks a submitted collateral transaction against the six
// conditions listed on IsValid. It never returns a human-facing reason;
// the caller maps any false result to ERR_INVALID_COLLATERAL.
type Validator struct {
	chain          ChainView
	mempool        MempoolChecker
	collateralFee  int64
}

// New returns a Validator requiring at least collateralFee satoshis of fee
// and resolving prevouts/mempool acceptance through chain and mempool.
func New(chain ChainView, mempool MempoolChecker, collateralFee int64) *Validator {
	return &Validator{chain: chain, mempool: mempool, collateralFee: collateralFee}
}

// IsValid reports whether tx is an acceptable collateral transaction:
// at least one output, zero locktime, every output a standard payment
// script, every input resolvable, and sum(in)-sum(out) >= collateralFee,
// and mempool-acceptable with the standardness relaxation.
func (v *Validator) IsValid(ctx context.Context, tx *wire.MsgTx) bool {
	if tx == nil || len(tx.TxOut) < 1 {
		return false
	}
	if tx.LockTime != 0 {
		return false
	}

	var valueOut int64
	for _, out := range tx.TxOut {
		valueOut += out.Value
		if !isNormalPaymentScript(out.PkScript) {
			return false
		}
	}

	var valueIn int64
	for _, in := range tx.TxIn {
		prevTx, err := v.chain.LookupTx(ctx, in.PreviousOutPoint.Hash)
		if err != nil || prevTx == nil {
			return false
		}
		if int(in.PreviousOutPoint.Index) >= len(prevTx.TxOut) {
			return false
		}
		valueIn += prevTx.TxOut[in.PreviousOutPoint.Index].Value
	}

	if valueIn-valueOut < v.collateralFee {
		return false
	}

	if err := v.mempool.Accept(ctx, tx, true /* treatAsStandard */); err != nil {
		return false
	}

	return true
}

// isNormalPaymentScript reports whether pkScript is one of the standard
// payment templates (P2PKH, P2SH, P2WPKH, P2WSH, P2PK) — the Go analogue
// of CScript::IsNormalPaymentScript().
func isNormalPaymentScript(pkScript []byte) bool {
	class := txscript.GetScriptClass(pkScript)
	switch class {
	case txscript.PubKeyHashTy, txscript.ScriptHashTy,
		txscript.WitnessV0PubKeyHashTy, txscript.WitnessV0ScriptHashTy,
		txscript.PubKeyTy:
		return true
	default:
		return false
	}
}
