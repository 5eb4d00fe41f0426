// cmd/docpipe is the command line front end: run one job, serve the HTTP
// API, submit a local file, or try the converter on a single document.
package main

import (
	"fmt"
	"os"

	"github.com/tendant/simple-docparser/cmd/docpipe/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
