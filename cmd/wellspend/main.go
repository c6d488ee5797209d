package main

import (
	"fmt"
	"os"

	"github.com/FACorreiaa/wellspend/internal/cli"
)

func main() {
	app := cli.NewCLIApp()

	if err := app.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
