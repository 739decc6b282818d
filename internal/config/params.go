// Package config replaces the chain-parameter class hierarchy
// (Main -> Testnet -> Regtest -> Unittest) the original implementation
// used with a flat lookup table, per the redesign note in spec.md §9: one
// tagged enum and one struct of values, no inheritance.
package config

import "time"

// Network selects which parameter profile a Coordinator runs with.
type Network int

const (
	Main Network = iota
	Test
	Reg
	Unit
)

// Params holds every pool-protocol constant spec.md §6 names. Exact values
// come from the host chain's parameter set; the ones below match a
// Dash-derived chain's mainnet/testnet defaults and a fast-iteration
// regtest/unittest profile, per spec.md's Open Question 4 ("values must
// come from the host chain's parameter set at implementation time").
type Params struct {
	Network Network

	// MaxPoolEntries is the number of participants a single round merges
	// (3 on Main, 2 on Test, per the original chain params).
	MaxPoolEntries int

	// CollateralFee is the minimum miner fee a collateral transaction
	// must pay, in satoshis.
	CollateralFee int64

	// MasternodeCollateral is the exact output value (in satoshis) that
	// "associates" an outpoint with a masternode pubkey.
	MasternodeCollateral int64

	QueueTimeout        time.Duration
	SigningTimeout      time.Duration
	EntryTTL            time.Duration
	QueueAnnounceTTL    time.Duration
	MasternodePingEvery time.Duration

	// MessageMagic domain-separates signed protocol messages from
	// ordinary wallet message signing on the same chain.
	MessageMagic string
}

var profiles = map[Network]Params{
	Main: {
		Network:              Main,
		MaxPoolEntries:       3,
		CollateralFee:        10000,
		MasternodeCollateral: 1000 * 100000000,
		QueueTimeout:         30 * time.Second,
		SigningTimeout:       15 * time.Second,
		EntryTTL:             120 * time.Second,
		QueueAnnounceTTL:     30 * time.Second,
		MasternodePingEvery:  60 * time.Second,
		MessageMagic:         "DarkCoin Signed Message:\n",
	},
	Test: {
		Network:              Test,
		MaxPoolEntries:       2,
		CollateralFee:        10000,
		MasternodeCollateral: 1000 * 100000000,
		QueueTimeout:         30 * time.Second,
		SigningTimeout:       15 * time.Second,
		EntryTTL:             120 * time.Second,
		QueueAnnounceTTL:     30 * time.Second,
		MasternodePingEvery:  60 * time.Second,
		MessageMagic:         "DarkCoin Signed Message:\n",
	},
	Reg: {
		Network:              Reg,
		MaxPoolEntries:       2,
		CollateralFee:        1000,
		MasternodeCollateral: 100 * 100000000,
		QueueTimeout:         5 * time.Second,
		SigningTimeout:       5 * time.Second,
		EntryTTL:             15 * time.Second,
		QueueAnnounceTTL:     10 * time.Second,
		MasternodePingEvery:  5 * time.Second,
		MessageMagic:         "DarkCoin Signed Message:\n",
	},
	Unit: {
		Network:              Unit,
		MaxPoolEntries:       3,
		CollateralFee:        100,
		MasternodeCollateral: 1000,
		QueueTimeout:         2 * time.Second,
		SigningTimeout:       2 * time.Second,
		EntryTTL:             5 * time.Second,
		QueueAnnounceTTL:     5 * time.Second,
		MasternodePingEvery:  1 * time.Second,
		MessageMagic:         "Test Signed Message:\n",
	},
}

// For returns the parameter profile for n. Unknown networks fall back to
// Main, matching the original's default chain selection.
func For(n Network) Params {
	if p, ok := profiles[n]; ok {
		return p
	}
	return profiles[Main]
}

// Builder lets tests construct a modified profile without touching the
// package-level table — the Go analogue of the original's
// "CModifiableParams" test-only builder role.
type Builder struct {
	p Params
}

// NewBuilder starts from the base profile for n.
func NewBuilder(n Network) *Builder {
	p := For(n)
	return &Builder{p: p}
}

func (b *Builder) WithMaxPoolEntries(v int) *Builder   { b.p.MaxPoolEntries = v; return b }
func (b *Builder) WithCollateralFee(v int64) *Builder  { b.p.CollateralFee = v; return b }
func (b *Builder) WithQueueTimeout(d time.Duration) *Builder   { b.p.QueueTimeout = d; return b }
func (b *Builder) WithSigningTimeout(d time.Duration) *Builder { b.p.SigningTimeout = d; return b }
func (b *Builder) WithEntryTTL(d time.Duration) *Builder       { b.p.EntryTTL = d; return b }
func (b *Builder) Build() Params { return b.p }
