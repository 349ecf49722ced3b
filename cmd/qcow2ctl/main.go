package main

import (
	"log"

	"github.com/coreimg/qcow2engine/cmd/qcow2ctl/subcmd"
)

func main() {
	if err := subcmd.NewCommand().Execute(); err != nil {
		log.Fatal(err)
	}
}
