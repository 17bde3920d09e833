package main

import (
	"fmt"
	"os"
)

const (
	ErrorColor   = "\033[31m" // Red
	SuccessColor = "\033[32m" // Green
	ResetColor   = "\033[0m"
)

// Version is set at build time via -ldflags
var Version = "dev"

func main() {
	if err := newRootCommand(openFromConfig).Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "%s✗ Error: %v%s\n", ErrorColor, err, ResetColor)
		os.Exit(1)
	}
}
