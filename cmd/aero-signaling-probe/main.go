// Command aero-signaling-probe exercises a running call signaling server from
// the command line: it can join a room and print the events it receives, fetch
// the ICE configuration handed to browsers, and check the health endpoints.
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
