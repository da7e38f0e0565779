// The main package for the geomap-ingest executable.
package main

import (
	"os"

	"github.com/JakeFAU/geomap-ingest/cmd"
)

// main defers all execution to the Cobra CLI.
func main() {
	os.Exit(cmd.Execute())
}
