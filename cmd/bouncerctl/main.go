// bouncerctl is the operator CLI for bouncer.ai: project configs, allocation
// previews, authorization signing and session inspection.
package main

import (
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
