package main

import (
	"os"

	"github.com/buddybot/buddybot/client/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
