package main

import (
	"os"

	ragkitcmder "github.com/nevindra/ragkit/cmd/ragkit"
)

func main() {
	if err := ragkitcmder.NewRagkitCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
