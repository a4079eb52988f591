package verify

import "errors"

// Sentinel errors for the distinct FAIL reasons the verifier can report,
// mirroring §7 of the bundle's error-handling design.
var (
	ErrMissingFile         = errors.New("required bundle file is missing")
	ErrEmptyEventLog       = errors.New("events.jsonl contains no events")
	ErrSeqGap              = errors.New("seq is not strictly increasing from 1")
	ErrPrevHashMismatch    = errors.New("prev_hash does not match the previous event's hash")
	ErrHashMismatch        = errors.New("hash does not match recomputed canonical hash")
	ErrEventsHashMismatch  = errors.New("manifest events_hash does not match events.jsonl bytes")
	ErrFinalHashMismatch   = errors.New("manifest final_hash does not match the last event's hash")
	ErrMissingManifestFile = errors.New("a file listed in manifest.json is missing from the bundle")
	ErrMalformedEvent      = errors.New("event record is missing a required field")
)
