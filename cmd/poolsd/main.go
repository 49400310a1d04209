package main

import (
	"log"
	"os"

	"ratebook/services/poolsd"
)

func main() {
	if err := poolsd.Main(os.Args[1:]); err != nil {
		log.Fatalf("poolsd: %v", err)
	}
}
