// Package cli is the local admin surface over the account core: it drives
// registration, credential checks, the audit trail, and the keyed app-data
// store against the database file directly.
package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
)

type BuildInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildTime string `json:"build_time"`
}

func NewRootCommand(out io.Writer, build BuildInfo) *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:           "floodauth",
		Short:         "Administer the flood predictor account store",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.SetOut(out)
	cmd.SetErr(out)
	cmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to TOML config file")

	cmd.AddCommand(newVersionCommand(out, build))
	cmd.AddCommand(newRegisterCommand(out, &configPath))
	cmd.AddCommand(newVerifyCommand(out, &configPath))
	cmd.AddCommand(newLoginCommand(out, &configPath))
	cmd.AddCommand(newAuditCommand(out, &configPath))
	cmd.AddCommand(newAppDataCommand(out, &configPath))
	cmd.InitDefaultCompletionCmd()
	return cmd
}

func newVersionCommand(out io.Writer, build BuildInfo) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print build version information",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := fmt.Fprintf(out, "version=%s commit=%s build_time=%s\n", build.Version, build.Commit, build.BuildTime)
			return err
		},
	}
}
