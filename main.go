// The main package for the webserial executable.
package main

import (
	"github.com/khoward/webserial/cmd"
)

// main defers all execution to the Cobra CLI.
func main() {
	cmd.Execute()
}
