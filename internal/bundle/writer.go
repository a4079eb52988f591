package bundle

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"hash"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/duskwatch/evidence/internal/assert"
	"github.com/duskwatch/evidence/internal/canon"
)

const (
	eventsFileName   = "events.jsonl"
	sessionFileName  = "session.json"
	manifestFileName = "manifest.json"
	filesDirName     = "files"
	schemaVersion    = 1

	eventSessionStarted = "session_started"
	eventSessionStopped = "session_stopped"
)

// Writer owns a single bundle directory for the lifetime of one session. It
// is not safe for concurrent use; callers (the ingress server) must
// serialize calls into a single Writer themselves.
type Writer struct {
	bundleDir  string
	saveDir    string
	platform   string
	appVersion string
	startedAt  time.Time

	eventsFile   *os.File
	eventsHasher hash.Hash
	lastHash     string
	nextSeq      int
	sealed       bool
}

// StartSession creates a new bundle directory under saveDir named
// Evidence_<YYYYMMDD_HHMMSS> (UTC), opens its event log, and appends the
// session_started event. Directory-creation or open failures are fatal.
func StartSession(saveDir, platform, appVersion string) (*Writer, error) {
	if err := assert.Check(saveDir != "", "save_dir must not be empty"); err != nil {
		return nil, err
	}
	if err := assert.Check(platform != "", "platform must not be empty"); err != nil {
		return nil, err
	}
	if err := assert.Check(appVersion != "", "app_version must not be empty"); err != nil {
		return nil, err
	}

	startedAt := now()
	bundleName := "Evidence_" + startedAt.Format("20060102_150405")
	bundleDir := filepath.Join(saveDir, bundleName)

	if err := os.MkdirAll(filepath.Join(bundleDir, filesDirName), 0o755); err != nil {
		return nil, fmt.Errorf("creating bundle directory: %w", err)
	}

	eventsFile, err := os.OpenFile(filepath.Join(bundleDir, eventsFileName), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening events file: %w", err)
	}

	w := &Writer{
		bundleDir:    bundleDir,
		saveDir:      saveDir,
		platform:     platform,
		appVersion:   appVersion,
		startedAt:    startedAt,
		eventsFile:   eventsFile,
		eventsHasher: sha256.New(),
		nextSeq:      1,
	}

	payload := map[string]interface{}{
		"save_dir":    saveDir,
		"platform":    platform,
		"app_version": appVersion,
	}
	if _, err := w.appendEventLocked(eventSessionStarted, payload); err != nil {
		eventsFile.Close()
		return nil, fmt.Errorf("appending session_started event: %w", err)
	}

	return w, nil
}

// BundleDir returns the path of the owned bundle directory: saveDir joined
// with the bundle name, so it is relative when saveDir is relative.
func (w *Writer) BundleDir() string {
	return w.bundleDir
}

// AppendEvent appends a new hash-chained event to events.jsonl and returns
// the record as written. It fails if the session has already been sealed.
func (w *Writer) AppendEvent(eventType string, payload interface{}) (Event, error) {
	if err := assert.Check(!w.sealed, "session already sealed"); err != nil {
		return Event{}, err
	}
	if err := assert.Check(eventType != "", "event type must not be empty"); err != nil {
		return Event{}, err
	}
	return w.appendEventLocked(eventType, payload)
}

func (w *Writer) appendEventLocked(eventType string, payload interface{}) (Event, error) {
	ts := now().Format("2006-01-02T15:04:05Z")
	prevHash := w.lastHash

	canonPayload, err := roundTripThroughCanon(payload)
	if err != nil {
		return Event{}, fmt.Errorf("canonicalizing payload: %w", err)
	}

	chainInput := map[string]interface{}{
		"payload":   canonPayload,
		"prev_hash": prevHash,
		"seq":       w.nextSeq,
		"ts":        ts,
		"type":      eventType,
	}
	h, err := canon.Hash(chainInput)
	if err != nil {
		return Event{}, fmt.Errorf("hashing event: %w", err)
	}

	record := Event{
		Seq:      w.nextSeq,
		TS:       ts,
		Type:     eventType,
		Payload:  canonPayload,
		PrevHash: prevHash,
		Hash:     h,
	}

	line, err := json.Marshal(record)
	if err != nil {
		return Event{}, fmt.Errorf("serializing event: %w", err)
	}
	line = append(line, '\n')

	if _, err := w.eventsFile.Write(line); err != nil {
		return Event{}, fmt.Errorf("writing event: %w", err)
	}
	if err := w.eventsFile.Sync(); err != nil {
		return Event{}, fmt.Errorf("flushing event: %w", err)
	}
	if _, err := w.eventsHasher.Write(line); err != nil {
		return Event{}, fmt.Errorf("updating events hasher: %w", err)
	}

	w.lastHash = h
	w.nextSeq++
	return record, nil
}

// roundTripThroughCanon decodes payload's own JSON encoding with
// UseNumber so the value stored on the event (and later re-hashed by the
// verifier reading the line back) matches exactly what canon.Hash saw.
func roundTripThroughCanon(payload interface{}) (interface{}, error) {
	if payload == nil {
		return nil, nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return canon.Decode(raw)
}

// CopyAttachment validates relPath for safety and copies the file at
// sourcePath to bundleDir/relPath, creating intermediate directories as
// needed. It does not append any event; callers append the corresponding
// file_added/shot_saved event only after this returns successfully.
func (w *Writer) CopyAttachment(sourcePath, relPath string) (string, error) {
	if err := assert.Check(!w.sealed, "session already sealed"); err != nil {
		return "", err
	}
	safeRel, err := SafeRelPath(relPath)
	if err != nil {
		return "", err
	}

	src, err := os.Open(sourcePath)
	if err != nil {
		return "", fmt.Errorf("opening source file: %w", err)
	}
	defer src.Close()

	destPath := filepath.Join(w.bundleDir, safeRel)
	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return "", fmt.Errorf("creating destination directory: %w", err)
	}

	dest, err := os.OpenFile(destPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return "", fmt.Errorf("creating destination file: %w", err)
	}
	defer dest.Close()

	if _, err := io.Copy(dest, src); err != nil {
		return "", fmt.Errorf("copying attachment: %w", err)
	}
	if err := dest.Sync(); err != nil {
		return "", fmt.Errorf("flushing attachment: %w", err)
	}

	return safeRel, nil
}

// StopSession appends the session_stopped event, freezes the bundle, and
// writes session.json followed by manifest.json. After it returns
// successfully, no further AppendEvent or CopyAttachment calls succeed.
func (w *Writer) StopSession(reason string) (*ManifestRecord, error) {
	if err := assert.Check(!w.sealed, "session already sealed"); err != nil {
		return nil, err
	}
	if reason == "" {
		reason = "unknown"
	}

	if _, err := w.appendEventLocked(eventSessionStopped, map[string]interface{}{"reason": reason}); err != nil {
		return nil, fmt.Errorf("appending session_stopped event: %w", err)
	}

	finalHash := w.lastHash
	eventsHash := hex.EncodeToString(w.eventsHasher.Sum(nil))

	if err := w.eventsFile.Close(); err != nil {
		return nil, fmt.Errorf("closing events file: %w", err)
	}

	endedAt := now()
	session := SessionRecord{
		StartedAt:  w.startedAt.Format(time.RFC3339Nano),
		EndedAt:    endedAt.Format(time.RFC3339Nano),
		Platform:   w.platform,
		AppVersion: w.appVersion,
		BundleDir:  filepath.Base(w.bundleDir),
	}
	if err := writePrettyJSON(filepath.Join(w.bundleDir, sessionFileName), session); err != nil {
		return nil, fmt.Errorf("writing session.json: %w", err)
	}

	files, err := w.collectFileEntries()
	if err != nil {
		return nil, fmt.Errorf("collecting bundle files: %w", err)
	}

	manifest := ManifestRecord{
		SchemaVersion: schemaVersion,
		EventsHash:    eventsHash,
		FinalHash:     finalHash,
		Files:         files,
	}
	if err := writePrettyJSON(filepath.Join(w.bundleDir, manifestFileName), manifest); err != nil {
		return nil, fmt.Errorf("writing manifest.json: %w", err)
	}

	w.sealed = true
	return &manifest, nil
}

// collectFileEntries always includes session.json and events.jsonl, then
// recursively walks files/ for every regular file, hashing each and
// returning entries sorted lexicographically by rel_path.
func (w *Writer) collectFileEntries() ([]FileEntry, error) {
	entries := make([]FileEntry, 0, 8)

	for _, name := range []string{sessionFileName, eventsFileName} {
		h, err := hashFile(filepath.Join(w.bundleDir, name))
		if err != nil {
			return nil, err
		}
		entries = append(entries, FileEntry{RelPath: name, Hash: h})
	}

	filesRoot := filepath.Join(w.bundleDir, filesDirName)
	err := filepath.Walk(filesRoot, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(w.bundleDir, path)
		if err != nil {
			return err
		}
		h, err := hashFile(path)
		if err != nil {
			return err
		}
		entries = append(entries, FileEntry{RelPath: filepath.ToSlash(rel), Hash: h})
		return nil
	})
	if err != nil && !os.IsNotExist(err) {
		return nil, err
	}

	sortFileEntries(entries)
	return entries, nil
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

func sortFileEntries(entries []FileEntry) {
	sort.Slice(entries, func(i, j int) bool { return entries[i].RelPath < entries[j].RelPath })
}

func writePrettyJSON(path string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')
	return os.WriteFile(path, data, 0o644)
}
