// Package bundle implements the session writer: it owns one evidence bundle
// directory for the lifetime of a session, appends hash-chained events to
// events.jsonl, ingests attached files under a safe rel-path, and seals the
// bundle with a session record and a manifest of file hashes.
package bundle

import "time"

// Event is one line of events.jsonl. Field order here mirrors the
// declaration order used when writing the on-disk line; the hash itself is
// always computed over the canonical JSON of {payload, prev_hash, seq, ts,
// type}, never over this struct's own json.Marshal output.
type Event struct {
	Seq      int         `json:"seq"`
	TS       string      `json:"ts"`
	Type     string      `json:"type"`
	Payload  interface{} `json:"payload"`
	PrevHash string      `json:"prev_hash"`
	Hash     string      `json:"hash"`
}

// SessionRecord is session.json, written once at seal time.
type SessionRecord struct {
	StartedAt  string `json:"started_at"`
	EndedAt    string `json:"ended_at,omitempty"`
	Platform   string `json:"platform"`
	AppVersion string `json:"app_version"`
	BundleDir  string `json:"bundle_dir"`
}

// FileEntry is one row of manifest.json's files array.
type FileEntry struct {
	RelPath string `json:"rel_path"`
	Hash    string `json:"hash"`
}

// ManifestRecord is manifest.json, written last at seal time.
type ManifestRecord struct {
	SchemaVersion int         `json:"schema_version"`
	EventsHash    string      `json:"events_hash"`
	FinalHash     string      `json:"final_hash"`
	Files         []FileEntry `json:"files"`
}

// now returns the current UTC time. Extracted to a var so tests can observe
// that ts fields are always UTC without depending on wall-clock timing.
var now = func() time.Time { return time.Now().UTC() }
