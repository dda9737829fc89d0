package main

import (
	"context"
	"os"

	"github.com/harun/coda/internal/cli"
)

func main() {
	if err := cli.GetRootCmd().ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}
