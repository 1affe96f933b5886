package main

import (
	"context"
	"fmt"
	"os"
)

func main() {
	root := newRootCommand(newApp())
	if err := root.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
