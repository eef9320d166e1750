// Command bridge serves the coordination layer: consensus, memory tiers,
// orchestration and the worker pool.
package main

import "os"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
