package main

import (
	"log"

	"github.com/hookrelay/hookrelay/cmd/relayctl/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		log.Fatal(err)
	}
}
