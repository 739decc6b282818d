package pool

// ErrorID is the numeric error code carried on the wire in dssu/dsc
// payloads. Every code maps to a human string for UI; no Go error value
// ever crosses the session boundary (spec.md §7's propagation policy).
type ErrorID int

const (
	ErrNone ErrorID = iota
	ErrAlreadyHave
	ErrDenom
	ErrEntriesFull
	ErrExistingTx
	ErrFees
	ErrInvalidCollateral
	ErrInvalidInput
	ErrInvalidScript
	ErrInvalidTx
	ErrMaximum
	ErrMnList
	ErrMode
	ErrNonStandardPubkey
	ErrNotAMasternode
	ErrQueueFull
	ErrRecent
	ErrSession
	ErrMissingTx
	ErrVersion

	MsgSuccess
	MsgEntriesAdded
	MsgNoErr
)

var messages = map[ErrorID]string{
	ErrAlreadyHave:       "Already have that input.",
	ErrDenom:             "No matching denominations found for mixing.",
	ErrEntriesFull:       "Entries are full.",
	ErrExistingTx:        "Not compatible with existing transactions.",
	ErrFees:              "Transaction fees are too high.",
	ErrInvalidCollateral: "Collateral not valid.",
	ErrInvalidInput:      "Input is not valid.",
	ErrInvalidScript:     "Invalid script detected.",
	ErrInvalidTx:         "Transaction not valid.",
	ErrMaximum:           "Value more than pool maximum allows.",
	ErrMnList:            "Not in the masternode list.",
	ErrMode:              "Incompatible mode.",
	ErrNonStandardPubkey: "Non-standard public key detected.",
	ErrNotAMasternode:    "This is not a masternode.",
	ErrQueueFull:         "Masternode queue is full.",
	ErrRecent:            "Last mixing round was too recent.",
	ErrSession:           "Session not complete.",
	ErrMissingTx:         "Missing input transaction information.",
	ErrVersion:           "Incompatible version.",
	MsgSuccess:           "Transaction created successfully.",
	MsgEntriesAdded:      "Your entries were added successfully.",
}

// Message returns the human-facing string for id, or "" for ErrNone/MsgNoErr
// and any unrecognized id — matching GetMessageByID's default case.
func (id ErrorID) Message() string {
	return messages[id]
}
