// The main package for the fantine-agent executable.
package main

import (
	"github.com/fantine-org/fantine-agent/cmd"
)

// main is the entry point of the application.
// It defers all execution to the Cobra CLI library.
func main() {
	cmd.Execute()
}
