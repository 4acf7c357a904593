package main

import (
	"context"
	"fmt"
	"os"

	"matchchat/internal/cmd/chatctl"
)

func main() {
	if err := chatctl.NewRoot().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
