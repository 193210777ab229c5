// Command upkg inspects the packages of a game directory.
package main

import (
	"context"
	"os"
)

func main() {
	if err := execute(context.Background()); err != nil {
		os.Exit(1)
	}
}
