// Package signer implements compact-signature sign/verify over
// domain-separated byte strings, and the "is this vin a real masternode's
// collateral" check used to authenticate queue announcements and final-tx
// broadcasts.
package signer

import (
	"bytes"
	"context"
	"errors"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

// ChainView resolves a previous transaction by its hash. The coordinator's
// production implementation is backed by the host RPC node
// (internal/bitcoin); tests use an in-memory fake.
type ChainView interface {
	LookupTx(ctx context.Context, txid chainhash.Hash) (*wire.MsgTx, error)
}

// MessageSigner signs and verifies short protocol messages (queue
// announcements, final-transaction broadcasts) using the host chain's
// message-signing magic for domain separation, matching the original
// CMasternodeSigner::SignMessage/VerifyMessage pair.
type MessageSigner struct {
	magic string
}

// New returns a MessageSigner domain-separated with magic — the host
// chain's message-signing prefix (e.g. "DarkCoin Signed Message:\n" for a
// Dash-derived chain). magic must match across every participant or
// signatures will fail to verify.
func New(magic string) *MessageSigner {
	return &MessageSigner{magic: magic}
}

// preimageHash reproduces the Bitcoin-style varstring-prefixed message
// digest: double-SHA256(varstr(magic) || varstr(msg)).
func (s *MessageSigner) preimageHash(msg []byte) (chainhash.Hash, error) {
	var buf bytes.Buffer
	if err := wire.WriteVarString(&buf, 0, s.magic); err != nil {
		return chainhash.Hash{}, err
	}
	if err := wire.WriteVarString(&buf, 0, string(msg)); err != nil {
		return chainhash.Hash{}, err
	}
	return chainhash.DoubleHashH(buf.Bytes()), nil
}

// Sign produces a 65-byte recoverable compact signature over
// H(domain_magic || msg). It never panics; malformed keys simply cannot
// occur since priv is already parsed.
func (s *MessageSigner) Sign(priv *btcec.PrivateKey, msg []byte) ([]byte, error) {
	if priv == nil {
		return nil, errors.New("signer: nil private key")
	}
	hash, err := s.preimageHash(msg)
	if err != nil {
		return nil, err
	}
	return ecdsa.SignCompact(priv, hash[:], true), nil
}

// Verify recovers a public key from sig over the same preimage as Sign and
// reports whether its identifier equals pub's. Recovery failure and any
// other malformed input return false rather than an error — per spec, sign
// verification never raises.
func (s *MessageSigner) Verify(pub *btcec.PublicKey, sig, msg []byte) bool {
	if pub == nil || len(sig) == 0 {
		return false
	}
	hash, err := s.preimageHash(msg)
	if err != nil {
		return false
	}
	recovered, _, err := ecdsa.RecoverCompact(sig, hash[:])
	if err != nil {
		return false
	}
	return bytes.Equal(recovered.SerializeCompressed(), pub.SerializeCompressed())
}

// VinAssociatesPubkey fetches the transaction referenced by vin, scans its
// outputs, and reports whether any output pays exactly collateralValue to
// the P2PKH script for pub. This is how a client proves a queue
// announcement really came from a pledged masternode (ERR_MN_LIST/
// ERR_NOT_A_MN checks sit on top of this).
func (s *MessageSigner) VinAssociatesPubkey(ctx context.Context, chain ChainView, vin wire.OutPoint, pub *btcec.PublicKey, collateralValue int64, p2pkh func(*btcec.PublicKey) ([]byte, error)) bool {
	if chain == nil || pub == nil {
		return false
	}
	tx, err := chain.LookupTx(ctx, vin.Hash)
	if err != nil || tx == nil {
		return false
	}
	wantScript, err := p2pkh(pub)
	if err != nil {
		return false
	}
	for _, out := range tx.TxOut {
		if out.Value == collateralValue && bytes.Equal(out.PkScript, wantScript) {
			return true
		}
	}
	return false
}
