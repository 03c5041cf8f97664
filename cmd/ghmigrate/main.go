package main

import (
	"os"

	"github.com/forgemove/ghmigrate/pkg/cli"
)

func main() {
	os.Exit(cli.Execute())
}
