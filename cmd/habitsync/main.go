// Package main is the habitsync command line: it drains the offline queue,
// inspects it and manages stored recordings without the desktop server.
package main

import (
	"fmt"
	"os"
)

// Version is set at build time
var Version = "0.1.0"

func main() {
	if err := newRootCmd(Version, openApp).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
