package main

import (
	"fmt"
	"os"

	"github.com/dmitrijs2005/pindrop/internal/ctl"
)

func main() {
	if err := ctl.NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
