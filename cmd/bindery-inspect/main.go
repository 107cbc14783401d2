// Command bindery-inspect resolves a modules directory offline and reports
// the wiring the runtime would commit for it, without starting anything.
package main

import (
	"os"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}
