package main

import (
	"fmt"
	"os"

	"github.com/MuskanSingh-1/Early-Flood-Predictor/internal/cli"
	"github.com/MuskanSingh-1/Early-Flood-Predictor/internal/version"
)

func main() {
	cmd := cli.NewRootCommand(os.Stdout, cli.BuildInfo{
		Version:   version.Version,
		Commit:    version.Commit,
		BuildTime: version.BuildTime,
	})
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "floodauth:", err)
		os.Exit(1)
	}
}
