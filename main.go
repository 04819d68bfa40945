package main

import (
	"os"

	"github.com/mikaelmello/ringo/cmd"
)

func main() {
	os.Exit(cmd.Execute())
}
