// Package main is the single-binary entrypoint for the forge
// worker-fleet coordinator.
package main

import "github.com/fleetforge/forge/internal/cli"

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	cli.Execute(version)
}
