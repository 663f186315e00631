package main

import (
	"os"

	"github.com/haramshield/haramshield-go/cmd"
)

func main() {
	os.Exit(cmd.Execute())
}
