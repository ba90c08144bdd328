package main

import (
	"log"

	ledgercored "subledger/services/ledgercored"
)

func main() {
	if err := ledgercored.Main(); err != nil {
		log.Fatalf("ledgercored: %v", err)
	}
}
