// Command evidence-server accepts one session's worth of collector events
// over a local TCP socket and writes them into a sealed evidence bundle.
package main

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/duskwatch/evidence/internal/bundle"
	"github.com/duskwatch/evidence/internal/config"
	"github.com/duskwatch/evidence/internal/index"
	"github.com/duskwatch/evidence/internal/ingress"
	"github.com/duskwatch/evidence/internal/logging"
	"github.com/duskwatch/evidence/internal/verify"
)

const defaultAddr = "127.0.0.1:7878"

func main() {
	if len(os.Args) < 3 {
		printUsage()
		os.Exit(1)
	}

	platform := os.Args[1]
	appVersion := os.Args[2]
	saveDirArg, addrArg := resolvePositional(os.Args[3:])

	if err := run(platform, appVersion, saveDirArg, addrArg); err != nil {
		log.Fatalf("evidence-server: %v", err)
	}
}

func printUsage() {
	fmt.Println("Usage: evidence-server <platform> <app_version> [save_dir] [addr]")
	fmt.Println()
	fmt.Println("  platform     collector platform identifier, e.g. \"linux\"")
	fmt.Println("  app_version  collector application version, e.g. \"1.4.0\"")
	fmt.Println("  save_dir     directory to create the bundle under (default: config file, else download dir or cwd)")
	fmt.Println("  addr         host:port to listen on (default: $EVIDENCE_ADDR, else config file, else 127.0.0.1:7878)")
	fmt.Println()
	fmt.Println("Reads $EVIDENCE_CONFIG, or ~/.evidence/config.yaml, for save_dir/addr/log_level defaults.")
}

// resolvePositional assigns the remaining positional arguments to save_dir
// and addr using the spec's heuristic: an argument containing ":" but no
// path separator is addr, everything else is save_dir.
func resolvePositional(rest []string) (saveDir, addr string) {
	for _, arg := range rest {
		if looksLikeAddr(arg) {
			addr = arg
		} else {
			saveDir = arg
		}
	}
	return saveDir, addr
}

func looksLikeAddr(arg string) bool {
	return strings.Contains(arg, ":") && !strings.ContainsRune(arg, os.PathSeparator) && !strings.Contains(arg, "/")
}

func defaultSaveDir() string {
	if home, err := os.UserHomeDir(); err == nil {
		downloads := filepath.Join(home, "Downloads")
		if info, err := os.Stat(downloads); err == nil && info.IsDir() {
			return downloads
		}
	}
	cwd, err := os.Getwd()
	if err != nil {
		return "."
	}
	return cwd
}

// applyLogLevel sets EVIDENCE_LOG_LEVEL from the config file, without
// overriding an operator's explicit environment setting.
func applyLogLevel(level string) {
	if level == "" {
		return
	}
	if os.Getenv("EVIDENCE_LOG_LEVEL") == "" {
		os.Setenv("EVIDENCE_LOG_LEVEL", level)
	}
}

// configFilePath returns the evidence-server.yaml location: $EVIDENCE_CONFIG
// if set, else ~/.evidence/config.yaml if a home directory is discoverable,
// else "" (config.Load treats that as "no file, use defaults").
func configFilePath() string {
	if v := os.Getenv("EVIDENCE_CONFIG"); v != "" {
		return v
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".evidence", "config.yaml")
}

func readFinalHash(bundleDir string) (string, error) {
	data, err := os.ReadFile(filepath.Join(bundleDir, "manifest.json"))
	if err != nil {
		return "", err
	}
	var m struct {
		FinalHash string `json:"final_hash"`
	}
	if err := json.Unmarshal(data, &m); err != nil {
		return "", err
	}
	return m.FinalHash, nil
}

// run resolves save_dir/addr/log level by precedence (CLI positional arg,
// then $EVIDENCE_ADDR for addr, then the evidence-server.yaml config file,
// then built-in defaults), starts the config file watcher, and runs the
// ingress server to completion. The config is read once, here; a reload of
// the file during the run does not change this run's log level, save_dir or
// addr.
func run(platform, appVersion, saveDirArg, addrArg string) error {
	cfgWatcher, err := config.Load(configFilePath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if err := cfgWatcher.Watch(); err != nil {
		logging.Warn("config file watch disabled", logging.Fields{Component: "evidence-server", Error: err.Error()})
	}
	defer cfgWatcher.Stop()

	cfg := cfgWatcher.Current()
	applyLogLevel(cfg.LogLevel)

	saveDir := saveDirArg
	if saveDir == "" {
		saveDir = cfg.SaveDir
	}
	if saveDir == "" {
		saveDir = defaultSaveDir()
	}

	addr := addrArg
	if addr == "" {
		addr = os.Getenv("EVIDENCE_ADDR")
	}
	if addr == "" {
		addr = cfg.Addr
	}
	if addr == "" {
		addr = defaultAddr
	}

	writer, err := bundle.StartSession(saveDir, platform, appVersion)
	if err != nil {
		return fmt.Errorf("starting session: %w", err)
	}
	sess := logging.ForBundle(writer.BundleDir())

	var registry *index.DB
	reg, regErr := index.Open(filepath.Join(saveDir, ".evidence-registry.db"))
	if regErr != nil {
		sess.Warn("bundle registry unavailable", logging.Fields{Component: "evidence-server", Error: regErr.Error()})
	} else {
		registry = reg
		defer registry.Close()
		start := time.Now().UTC().Format(time.RFC3339Nano)
		if err := registry.RegisterStarted(filepath.Base(writer.BundleDir()), platform, appVersion, start, time.Now().UTC()); err != nil {
			sess.Warn("failed to register session start", logging.Fields{Component: "evidence-server", Error: err.Error()})
		}
	}

	srv, err := ingress.New(addr, writer)
	if err != nil {
		return fmt.Errorf("constructing server: %w", err)
	}

	sess.Info("evidence-server starting", logging.Fields{Component: "evidence-server", Method: addr})

	if err := srv.Serve(); err != nil {
		return fmt.Errorf("serving: %w", err)
	}

	if registry != nil {
		registerSeal(registry, writer.BundleDir(), sess)
	}

	return nil
}

// registerSeal re-verifies the now-sealed bundle to recover the final hash
// and event count for the registry row; registration failures are logged,
// never fatal, since the bundle itself is already sealed and complete.
func registerSeal(registry *index.DB, bundleDir string, sess logging.Session) {
	result, err := verify.Bundle(bundleDir)
	if err != nil {
		sess.Warn("failed to verify sealed bundle for registry", logging.Fields{Component: "evidence-server", Error: err.Error()})
		return
	}
	if !result.Valid {
		sess.Warn("sealed bundle failed verification", logging.Fields{Component: "evidence-server", Error: result.Reason})
		return
	}

	finalHash, err := readFinalHash(bundleDir)
	if err != nil {
		sess.Warn("failed to read manifest for registry", logging.Fields{Component: "evidence-server", Error: err.Error()})
		return
	}

	endedAt := time.Now().UTC().Format(time.RFC3339Nano)
	if err := registry.RegisterSealed(filepath.Base(bundleDir), endedAt, finalHash, result.EventCount); err != nil {
		sess.Warn("failed to register session seal", logging.Fields{Component: "evidence-server", Error: err.Error()})
	}
}
