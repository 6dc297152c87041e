// rwaguard audits tokenized real-world assets: it correlates contract code
// with legal opinions, financial disclosures, and audit reports to surface
// compliance and security defects that code-only analysis misses.
//
// Usage:
//
//	rwaguard analyze --manifest audit.yaml [-o report.md] [--reconcile]
//	rwaguard kb list|seed|tombstone|history
//	rwaguard serve
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
