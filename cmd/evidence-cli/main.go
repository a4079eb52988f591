// Command evidence-cli is a read-only convenience tool for operators: it
// scans a save directory for bundles, verifies them, and keeps the
// advisory SQLite registry in internal/index up to date.
package main

import "github.com/duskwatch/evidence/cmd/evidence-cli/commands"

func main() {
	commands.Execute()
}
