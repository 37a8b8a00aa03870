//go:build !test

package main

import (
	"log"

	"github.com/xtboot/xtkernel/flag"
)

func main() {
	if err := flag.Parse(); err != nil {
		log.Fatal(err)
	}
}
