package main

import (
	"context"
	"fmt"
	"os"

	"github.com/dandantas/stocksync/internal/cli"
)

const version = "1.0.0"

func main() {
	cmd := cli.NewRootCommand(version)
	if err := cmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(cli.GetExitCode(err))
	}
}
