package main

import (
	"context"
	"os"

	"github.com/roach88/reportgrid/internal/cli"
)

func main() {
	os.Exit(cli.Execute(context.Background(), cli.NewRootCommand()))
}
