package main

import (
	"os"

	"github.com/ckdtjq0011/saas-survey/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
