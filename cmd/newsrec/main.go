package main

import (
	"fmt"
	"os"

	"github.com/hitoshi/newsrec/internal/app"
)

func main() {
	stdio := app.IO{In: os.Stdin, Out: os.Stdout, Log: os.Stderr}
	if err := app.Run(stdio, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
