package main

import (
	"os"

	"github.com/msalah0e/attackgraph/cmd"
)

func main() {
	os.Exit(cmd.Execute())
}
