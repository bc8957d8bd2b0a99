// Command bot runs the moderation cache and pending action scheduler.
package main

import (
	"log/slog"
	"os"
)

func main() {
	if err := run(); err != nil {
		slog.Error("warden exited", "error", err)
		os.Exit(1)
	}
}
