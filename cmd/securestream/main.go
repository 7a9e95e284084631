package main

import (
	"fmt"
	"os"

	"securestream/cmd/securestream/commands"
	"securestream/internal/protocol/errs"
)

func main() {
	err := commands.Execute()
	if err == nil {
		os.Exit(0)
	}
	fmt.Fprintln(os.Stderr, err)

	var e *errs.Error
	if ee, ok := err.(*errs.Error); ok {
		e = ee
	}
	if e == nil {
		os.Exit(1)
	}
	os.Exit(e.Kind.ExitCode())
}
