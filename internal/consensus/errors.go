package consensus

import "errors"

var (
	// ErrUnresolvedWeight means a voting vendor has no entry in the weight table.
	ErrUnresolvedWeight = errors.New("source weight not found")
	// ErrNoConsensusVendor means the consensus vendor id could not be resolved.
	ErrNoConsensusVendor = errors.New("consensus vendor not registered")
	// ErrDeleteFailed means prior consensus rows could not be removed; nothing was appended.
	ErrDeleteFailed = errors.New("delete of prior consensus rows failed")
	// ErrAppendFailed means the new consensus rows could not be written; the transaction was rolled back.
	ErrAppendFailed = errors.New("append of consensus rows failed")
	// ErrInvalidWeight rejects weight tables with negative or non-finite entries.
	ErrInvalidWeight = errors.New("invalid source weight")
)
