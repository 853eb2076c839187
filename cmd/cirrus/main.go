// Package main is the single-binary entrypoint for Cirrus.
// The same binary runs the service, the project workers, and the client
// commands.
package main

import "github.com/cirrus-faas/cirrus/internal/cli"

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	cli.Execute(version)
}
