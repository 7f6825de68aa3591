package main

import (
	"os"

	"github.com/eddiefleurent/strike_advisor/cmd/advisor/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
