// Command evidence-verify re-derives a sealed bundle's hash chain and
// manifest from on-disk state and reports PASS or FAIL.
package main

import (
	"fmt"
	"os"

	"github.com/duskwatch/evidence/internal/verify"
)

func main() {
	if len(os.Args) != 3 || os.Args[1] != "verify" {
		fmt.Println("Usage: evidence-verify verify <bundle_path>")
		os.Exit(2)
	}

	bundlePath := os.Args[2]

	result, err := verify.Bundle(bundlePath)
	if err != nil {
		fmt.Printf("FAIL: %v\n", err)
		os.Exit(1)
	}

	if result.Valid {
		fmt.Printf("PASS (%d events)\n", result.EventCount)
		os.Exit(0)
	}

	fmt.Printf("FAIL: %s\n", result.Reason)
	os.Exit(1)
}
