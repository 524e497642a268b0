// Command pngtools starts the pngtools command loop on the configured runtime
// and exits with the status it returns.
package main

import (
	"context"
	"os"

	"pngtools/internal/bootstrap"
)

func main() {
	outcome := bootstrap.Main(context.Background(), os.Args[1:], bootstrap.StandardIO())
	os.Exit(bootstrap.Exit(outcome, os.Stderr))
}
