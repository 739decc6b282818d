package pool

import (
	"fmt"

	"github.com/rawblock/obfpool-coordinator/pkg/models"
)

// Status returns a human-readable line describing the session's current
// phase, matching the original implementation's GetStatus() but without
// its variable-shadowing bug: the original reused the name "suffix" for
// both the periodic "." animation and the entry-count suffix, so the
// second assignment silently discarded the first. Here each has its own
// name, so both pieces of information always show up together.
func (s *Session) Status(tick int) string {
	dots := ""
	for i := 0; i < 1+(tick%3); i++ {
		dots += "."
	}
	entrySuffix := fmt.Sprintf(" (%d/%d)", len(s.Entries), s.params.MaxPoolEntries)

	switch s.State {
	case models.StateIdle:
		return "Obfuscation is idle" + dots
	case models.StateQueue:
		return "Submitted to masternode, waiting in queue" + dots + entrySuffix
	case models.StateAccepting:
		return "Submitted to masternode, waiting for more entries" + dots + entrySuffix
	case models.StateFinalize:
		return "Found enough users, signing" + dots
	case models.StateSigning:
		return "Signing transaction" + dots + entrySuffix
	case models.StateTransmission:
		return "Transmitting final transaction" + dots
	case models.StateSuccess:
		return "Transaction created successfully"
	case models.StateError:
		return s.LastMessage
	default:
		return "Unknown obfuscation status"
	}
}
