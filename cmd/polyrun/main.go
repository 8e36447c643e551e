// Command polyrun runs, inspects and packs polyglot function artifacts.
package main

import (
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
