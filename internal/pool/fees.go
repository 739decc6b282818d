package pool

import (
	"context"

	"github.com/btcsuite/btcd/wire"
	"github.com/rawblock/obfpool-coordinator/pkg/models"
)

// ChargeFees implements the timeout-triggered punishment described in
// spec.md §4.5: it is called only when a round times out (never on
// success), walks whichever side failed to follow through — unsigned
// collateral in Accepting, unsigned inputs in Signing — and publishes at
// most one offender's collateral as a deterrent.
//
// The dice thresholds below follow spec.md's literal wording, which rolls
// the opposite way from the C++ this protocol was distilled from (that
// version skips charging when r>33; spec.md says skip when r<=33). Since
// spec.md is explicit here rather than silent, it wins — see DESIGN.md.
func (s *Session) ChargeFees(ctx context.Context) {
	r := s.policyRand.IntN(100)
	if r <= 33 {
		return
	}

	offenses := 0
	switch s.State {
	case models.StateAccepting: // collateral with no matching entry
		for _, c := range s.CollateralPool {
			if !s.collateralHasEntry(c) {
				offenses++
			}
		}
	case models.StateSigning: // entries with an unsigned input
		for _, e := range s.Entries {
			for _, in := range e.Inputs {
				if !in.HasSig {
					offenses++
					break
				}
			}
		}
	default:
		return
	}

	r = s.policyRand.IntN(100)
	max := s.params.MaxPoolEntries
	if offenses >= max-1 && r > 33 {
		return
	}
	if offenses >= max {
		return
	}

	target := 0
	if offenses > 1 {
		target = 50
	}

	switch s.State {
	case models.StateAccepting:
		r = s.policyRand.IntN(100)
		for _, c := range s.CollateralPool {
			if s.collateralHasEntry(c) {
				continue
			}
			if r > target {
				s.publishOffenderCollateral(ctx, c)
				return
			}
		}
	case models.StateSigning:
		r = s.policyRand.IntN(100)
		for _, e := range s.Entries {
			signed := true
			for _, in := range e.Inputs {
				if !in.HasSig {
					signed = false
					break
				}
			}
			if signed {
				continue
			}
			if r > target {
				s.publishOffenderCollateral(ctx, e.Collateral)
				return
			}
		}
	}
}

// ChargeRandomFees implements the success-path economics from spec.md
// §4.5: independently, for every collateral transaction in a round that
// finished, there is a flat 10% chance it gets published anyway. This
// keeps honest participants from inferring "my collateral survived
// therefore the round was clean".
func (s *Session) ChargeRandomFees(ctx context.Context) {
	for _, c := range s.CollateralPool {
		if s.policyRand.IntN(100) < 10 {
			s.publishOffenderCollateral(ctx, c)
		}
	}
}

func (s *Session) collateralHasEntry(c *wire.MsgTx) bool {
	if c == nil {
		return false
	}
	hash := c.TxHash()
	for _, e := range s.Entries {
		if e.Collateral != nil && e.Collateral.TxHash() == hash {
			return true
		}
	}
	return false
}

func (s *Session) publishOffenderCollateral(ctx context.Context, c *wire.MsgTx) {
	if c == nil {
		return
	}
	_ = s.wallet.Relay(ctx, c)
}
