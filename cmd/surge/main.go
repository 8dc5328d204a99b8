package main

import (
	"context"
	"fmt"
	"os"

	"github.com/wesleyorama2/surge/internal/cli"
)

// Main runs the command line and returns the exit code. The run command
// handles interrupts itself.
func Main() int {
	err := cli.Execute(context.Background())
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
	}
	return cli.ExitCode(err)
}

func main() {
	os.Exit(Main())
}
