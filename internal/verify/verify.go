// Package verify re-derives a sealed bundle's event chain and manifest
// hashes entirely from on-disk state, independent of any writer in-memory
// data, and reports whether the bundle is intact.
package verify

import (
	"bufio"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/duskwatch/evidence/internal/assert"
	"github.com/duskwatch/evidence/internal/canon"
)

const (
	eventsFileName   = "events.jsonl"
	sessionFileName  = "session.json"
	manifestFileName = "manifest.json"
)

// Result is the outcome of verifying one bundle.
type Result struct {
	Valid       bool
	Reason      string
	EventCount  int
	FailedAtSeq int
}

type rawEvent struct {
	Seq      int             `json:"seq"`
	TS       string          `json:"ts"`
	Type     string          `json:"type"`
	Payload  json.RawMessage `json:"payload"`
	PrevHash string          `json:"prev_hash"`
	Hash     string          `json:"hash"`
}

type manifestFile struct {
	SchemaVersion int    `json:"schema_version"`
	EventsHash    string `json:"events_hash"`
	FinalHash     string `json:"final_hash"`
	Files         []struct {
		RelPath string `json:"rel_path"`
		Hash    string `json:"hash"`
	} `json:"files"`
}

// Bundle verifies the sealed bundle rooted at dir and returns a Result that
// is never itself an error — err is reserved for problems reading or parsing
// the bundle (I/O failures, an unparseable manifest.json or event payload)
// rather than integrity failures, which are reported via Result.Valid/Reason
// so the CLI can emit "FAIL: <reason>" uniformly.
func Bundle(dir string) (*Result, error) {
	if err := assert.Check(dir != "", "bundle dir must not be empty"); err != nil {
		return nil, err
	}

	for _, name := range []string{sessionFileName, eventsFileName, manifestFileName} {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			return fail(fmt.Sprintf("%s: %s", ErrMissingFile, name)), nil
		}
	}

	lastHash, count, failResult, err := verifyChain(filepath.Join(dir, eventsFileName))
	if err != nil {
		return nil, err
	}
	if failResult != nil {
		return failResult, nil
	}
	if count == 0 {
		return fail(ErrEmptyEventLog.Error()), nil
	}

	manifest, err := readManifest(filepath.Join(dir, manifestFileName))
	if err != nil {
		return nil, err
	}

	eventsHash, err := hashFile(filepath.Join(dir, eventsFileName))
	if err != nil {
		return nil, err
	}
	if manifest.EventsHash != eventsHash {
		return fail(ErrEventsHashMismatch.Error()), nil
	}
	if manifest.FinalHash != lastHash {
		return fail(ErrFinalHashMismatch.Error()), nil
	}

	for _, fe := range manifest.Files {
		path := filepath.Join(dir, filepath.FromSlash(fe.RelPath))
		if _, err := os.Stat(path); err != nil {
			return fail(fmt.Sprintf("%s: %s", ErrMissingManifestFile, fe.RelPath)), nil
		}
		h, err := hashFile(path)
		if err != nil {
			return nil, err
		}
		if h != fe.Hash {
			return fail(fmt.Sprintf("manifest hash does not match file contents: %s", fe.RelPath)), nil
		}
	}

	return &Result{Valid: true, EventCount: count}, nil
}

// verifyChain streams events.jsonl, checking seq/prev_hash/hash for every
// line, and returns the last event's hash and total count on success.
func verifyChain(path string) (lastHash string, count int, failResult *Result, err error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, nil, fmt.Errorf("opening events.jsonl: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	n := 0
	prevHash := ""
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		n++

		var ev rawEvent
		if err := json.Unmarshal([]byte(line), &ev); err != nil {
			return "", 0, failAt(fmt.Sprintf("%s: line %d", ErrMalformedEvent, n), n), nil
		}
		if ev.Type == "" || ev.TS == "" || ev.Hash == "" {
			return "", 0, failAt(fmt.Sprintf("%s: line %d", ErrMalformedEvent, n), n), nil
		}
		if ev.Seq != n {
			return "", 0, failAt(fmt.Sprintf("%s: expected seq %d, got %d", ErrSeqGap, n, ev.Seq), n), nil
		}
		if n == 1 {
			if ev.PrevHash != "" {
				return "", 0, failAt(ErrPrevHashMismatch.Error(), n), nil
			}
		} else if ev.PrevHash != prevHash {
			return "", 0, failAt(ErrPrevHashMismatch.Error(), n), nil
		}

		recomputed, err := recomputeHash(ev)
		if err != nil {
			return "", 0, nil, err
		}
		if recomputed != ev.Hash {
			return "", 0, failAt(ErrHashMismatch.Error(), n), nil
		}

		prevHash = ev.Hash
	}
	if err := scanner.Err(); err != nil {
		return "", 0, nil, fmt.Errorf("scanning events.jsonl: %w", err)
	}

	return prevHash, n, nil, nil
}

func recomputeHash(ev rawEvent) (string, error) {
	var payload interface{}
	if len(ev.Payload) > 0 {
		decoded, err := canon.Decode(ev.Payload)
		if err != nil {
			return "", fmt.Errorf("decoding payload: %w", err)
		}
		payload = decoded
	}

	chainInput := map[string]interface{}{
		"payload":   payload,
		"prev_hash": ev.PrevHash,
		"seq":       ev.Seq,
		"ts":        ev.TS,
		"type":      ev.Type,
	}
	return canon.Hash(chainInput)
}

func readManifest(path string) (*manifestFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading manifest.json: %w", err)
	}
	var m manifestFile
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parsing manifest.json: %w", err)
	}
	return &m, nil
}

func hashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func fail(reason string) *Result {
	return &Result{Valid: false, Reason: reason}
}

func failAt(reason string, seq int) *Result {
	return &Result{Valid: false, Reason: reason, FailedAtSeq: seq}
}
