package main

import (
	"os"

	"github.com/danielpatrickdp/equilibrium/internal/cli"
)

func main() {
	os.Exit(cli.Execute(os.Args[1:]))
}
