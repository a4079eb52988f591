package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/duskwatch/evidence/internal/verify"
)

var inspectCmd = &cobra.Command{
	Use:   "inspect <bundle_dir>",
	Short: "Print a bundle's session/manifest summary and current verification status",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		dir := args[0]

		session, err := readFile(filepath.Join(dir, "session.json"))
		if err != nil {
			return fmt.Errorf("reading session.json: %w", err)
		}
		manifest, err := readFile(filepath.Join(dir, "manifest.json"))
		if err != nil {
			return fmt.Errorf("reading manifest.json: %w", err)
		}

		fmt.Println("session.json:")
		fmt.Println(indentJSON(session))
		fmt.Println()
		fmt.Println("manifest.json:")
		fmt.Println(indentJSON(manifest))
		fmt.Println()

		result, err := verify.Bundle(dir)
		if err != nil {
			return fmt.Errorf("verifying bundle: %w", err)
		}
		if result.Valid {
			fmt.Printf("status: PASS (%d events)\n", result.EventCount)
		} else {
			fmt.Printf("status: FAIL (%s)\n", result.Reason)
		}
		return nil
	},
}

func readFile(path string) (map[string]interface{}, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var v map[string]interface{}
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, err
	}
	return v, nil
}

func indentJSON(v map[string]interface{}) string {
	data, err := json.MarshalIndent(v, "  ", "  ")
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return "  " + string(data)
}
