// The main package for the alma-bulk executable.
package main

import (
	"github.com/JakeFAU/alma-bulk/cmd"
)

// main defers all execution to the Cobra CLI.
func main() {
	cmd.Execute()
}
