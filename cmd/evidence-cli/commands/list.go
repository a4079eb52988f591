package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/duskwatch/evidence/internal/index"
	"github.com/duskwatch/evidence/internal/verify"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "Scan save-dir for Evidence_* bundles, verify each, and update the registry",
	RunE: func(cmd *cobra.Command, args []string) error {
		bundles, err := scanBundles(saveDir)
		if err != nil {
			return fmt.Errorf("scanning %s: %w", saveDir, err)
		}
		if len(bundles) == 0 {
			fmt.Printf("No bundles found under %s\n", saveDir)
			return nil
		}

		reg, err := index.Open(filepath.Join(saveDir, ".evidence-registry.db"))
		if err != nil {
			return fmt.Errorf("opening registry: %w", err)
		}
		defer reg.Close()

		fmt.Printf("%-32s %-8s %s\n", "BUNDLE", "STATUS", "EVENTS")
		for _, name := range bundles {
			dir := filepath.Join(saveDir, name)
			result, err := verify.Bundle(dir)
			if err != nil {
				fmt.Printf("%-32s %-8s %s\n", name, "ERROR", err.Error())
				continue
			}

			status := "PASS"
			if !result.Valid {
				status = "FAIL"
			}
			fmt.Printf("%-32s %-8s %d\n", name, status, result.EventCount)

			if result.Valid {
				upsertSealed(reg, dir, name, result.EventCount)
			}
		}
		return nil
	},
}

func scanBundles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() && strings.HasPrefix(e.Name(), "Evidence_") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

func upsertSealed(reg *index.DB, dir, name string, eventCount int) {
	session, finalHash := readSessionAndManifest(dir)
	_ = reg.RegisterStarted(name, session.Platform, session.AppVersion, session.StartedAt, time.Now().UTC())
	_ = reg.RegisterSealed(name, session.EndedAt, finalHash, eventCount)
}

type sessionSummary struct {
	StartedAt  string `json:"started_at"`
	EndedAt    string `json:"ended_at"`
	Platform   string `json:"platform"`
	AppVersion string `json:"app_version"`
}

func readSessionAndManifest(dir string) (sessionSummary, string) {
	var session sessionSummary
	if data, err := os.ReadFile(filepath.Join(dir, "session.json")); err == nil {
		_ = json.Unmarshal(data, &session)
	}

	var manifest struct {
		FinalHash string `json:"final_hash"`
	}
	if data, err := os.ReadFile(filepath.Join(dir, "manifest.json")); err == nil {
		_ = json.Unmarshal(data, &manifest)
	}

	return session, manifest.FinalHash
}
