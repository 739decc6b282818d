package pool

import (
	"context"
	"time"

	"github.com/btcsuite/btcd/wire"
	"github.com/rawblock/obfpool-coordinator/pkg/models"
)

// phaseTimeout returns how long the current state may run before
// CheckTimeout acts on it: Queue/Accepting are reset to Idle without a
// charge, Finalize/Signing are charged fees and moved to Error. Idle,
// Success and Error have no timeout of their own: Success and
// Error expire on the fixed 10-second display window handled in Check.
func (s *Session) phaseTimeout() (time.Duration, bool) {
	switch s.State {
	case models.StateQueue, models.StateAccepting:
		return s.params.QueueTimeout, true
	case models.StateFinalize, models.StateSigning:
		return s.params.SigningTimeout, true
	default:
		return 0, false
	}
}

// CheckTimeout is the coordinator's once-a-second watchdog call. Stale
// queue announcements and per-entry expiry are pruned regardless of phase
// (spec.md §4.7's "any state" row); a phase that has outrun its own
// deadline is then either charged and failed (Finalize/Signing) or simply
// reset (Queue/Accepting) depending on which side stalled.
func (s *Session) CheckTimeout(ctx context.Context) {
	s.pruneQueueAnnouncements(s.clock.Now())
	s.pruneExpiredEntries(ctx)

	timeout, ok := s.phaseTimeout()
	if !ok {
		return
	}
	if s.clock.Now().Sub(s.LastTransitionAt) < timeout {
		return
	}

	switch s.State {
	case models.StateFinalize, models.StateSigning:
		s.ChargeFees(ctx)
		s.LastMessage = "Signing timed out."
		s.transition(models.StateError)
		s.relay.RelayCompleted(s.ID, true, ErrSession)
	case models.StateQueue, models.StateAccepting:
		s.Reset(ctx)
	}
}

// pruneExpiredEntries drops entries that have outlived params.EntryTTL,
// unlocking their coins and removing their collateral from the pool. If
// that drains entries to zero, the session resets to Idle (spec.md §4.7).
func (s *Session) pruneExpiredEntries(ctx context.Context) {
	if len(s.Entries) == 0 {
		return
	}

	now := s.clock.Now()
	kept := s.Entries[:0]
	for _, e := range s.Entries {
		if !e.Expired(now, s.params.EntryTTL) {
			kept = append(kept, e)
			continue
		}
		for _, in := range e.Inputs {
			_ = s.wallet.UnlockCoin(ctx, in.PrevOut)
			delete(s.lockedCoins, in.PrevOut)
		}
		s.removeCollateral(e.Collateral)
	}
	s.Entries = kept

	if len(s.Entries) == 0 && s.UserCount > 0 {
		s.Reset(ctx)
	}
}

func (s *Session) removeCollateral(c *wire.MsgTx) {
	if c == nil {
		return
	}
	hash := c.TxHash()
	for i, pc := range s.CollateralPool {
		if pc != nil && pc.TxHash() == hash {
			s.CollateralPool = append(s.CollateralPool[:i], s.CollateralPool[i+1:]...)
			return
		}
	}
}

// pruneQueueAnnouncements drops broadcast QueueAnnouncements that have
// outlived QUEUE_ANNOUNCE_TTL from the set this session is tracking,
// independent of its own phase (spec.md §4.7's "any state" row).
func (s *Session) pruneQueueAnnouncements(now time.Time) {
	kept := s.queueAnnouncements[:0]
	for _, ann := range s.queueAnnouncements {
		if !s.announcer.IsExpired(ann, now) {
			kept = append(kept, ann)
		}
	}
	s.queueAnnouncements = kept
}
