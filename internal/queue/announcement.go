// Package queue implements the signed coordinator-availability beacon
// ("dsq" on the wire): a masternode announces it is ready to mix a given
// denomination, clients verify the signature against the masternode
// directory before trusting it, and stale announcements expire.
package queue

import (
	"strconv"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/rawblock/obfpool-coordinator/internal/signer"
	"github.com/rawblock/obfpool-coordinator/pkg/models"
)

// Relay fans an announcement out to every connected peer. Production code
// backs this with the websocket hub (internal/api); tests use a recording
// fake.
type Relay interface {
	BroadcastQueue(models.QueueAnnouncement)
}

// Announcer wraps a MessageSigner with the exact wire-format serialization
// the protocol requires — preserved byte-for-byte from the original
// implementation since any deviation breaks cross-version signature
// verification.
type Announcer struct {
	signer *signer.MessageSigner
	ttl    time.Duration
}

// New returns an Announcer that signs/verifies with s and expires
// announcements after ttl (QUEUE_ANNOUNCE_TTL).
func New(s *signer.MessageSigner, ttl time.Duration) *Announcer {
	return &Announcer{signer: s, ttl: ttl}
}

// serialize reproduces `vin.to_string() ++ itoa(denom) ++ itoa(time) ++
// itoa(ready ? 1 : 0)` exactly. This format is wire-compatibility-critical
// and must never be changed.
func serialize(a models.QueueAnnouncement) []byte {
	ready := 0
	if a.Ready {
		ready = 1
	}
	s := a.Vin.Hash.String() + ":" + strconv.FormatUint(uint64(a.Vin.Index), 10) +
		strconv.FormatUint(uint64(a.Denom), 10) +
		strconv.FormatInt(a.Time, 10) +
		strconv.Itoa(ready)
	return []byte(s)
}

// Sign fills in a.Sig using priv, leaving the rest of the announcement
// untouched.
func (a *Announcer) Sign(ann *models.QueueAnnouncement, priv *btcec.PrivateKey) error {
	sig, err := a.signer.Sign(priv, serialize(*ann))
	if err != nil {
		return err
	}
	ann.Sig = sig
	return nil
}

// Verify checks ann.Sig against pub over the same preimage Sign used.
func (a *Announcer) Verify(ann models.QueueAnnouncement, pub *btcec.PublicKey) bool {
	return a.signer.Verify(pub, ann.Sig, serialize(ann))
}

// IsExpired reports whether ann is older than the announcer's TTL as of
// now.
func (a *Announcer) IsExpired(ann models.QueueAnnouncement, now time.Time) bool {
	return now.Unix()-ann.Time > int64(a.ttl.Seconds())
}

// Relay fans ann out to every connected peer via r.
func (a *Announcer) Relay(ann models.QueueAnnouncement, r Relay) {
	r.BroadcastQueue(ann)
}
