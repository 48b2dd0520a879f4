package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/soyeahso/chatpulse/internal/cli"
	"github.com/tillberg/autorestart"
)

func main() {
	// Rebuilding the binary restarts a dev server in place.
	if !strings.EqualFold(os.Getenv("CHATPULSE_ENV"), "production") {
		go autorestart.RestartOnChange()
	}

	if err := cli.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
