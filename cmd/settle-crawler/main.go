package main

import (
	"errors"
	"fmt"
	"os"
)

const version = "0.4.0"

// errQuietExit signals a non-zero exit whose cause was already printed
var errQuietExit = errors.New("exit status 1")

func main() {
	if err := newRootCmd(os.Stdout, os.Stderr).Execute(); err != nil {
		if !errors.Is(err, errQuietExit) {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		os.Exit(1)
	}
}
