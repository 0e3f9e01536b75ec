// Command plantlab manages the tissue-culture lab inventory: it serves the
// JSON API and runs imports, statistics and weekly planning from the shell.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
