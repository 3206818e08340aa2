package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
)

func newAppDataCommand(out io.Writer, configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "appdata",
		Short: "Read and write the keyed application data store",
	}
	cmd.AddCommand(newAppDataSetCommand(out, configPath))
	cmd.AddCommand(newAppDataGetCommand(out, configPath))
	return cmd
}

func newAppDataSetCommand(out io.Writer, configPath *string) *cobra.Command {
	var encrypt bool

	cmd := &cobra.Command{
		Use:   "set <key> <value>",
		Short: "Upsert an application data entry",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := newRuntime(*configPath)
			if err != nil {
				return err
			}
			defer rt.close()

			if encrypt && !rt.store.Encrypting() {
				rt.logger.Warn("encryption requested but no key is configured, storing plaintext")
			}
			if err := rt.store.UpsertAppData(cmd.Context(), args[0], []byte(args[1]), encrypt); err != nil {
				return err
			}
			_, err = fmt.Fprintf(out, "stored %s\n", args[0])
			return err
		},
	}
	cmd.Flags().BoolVar(&encrypt, "encrypt", false, "Encrypt the value at rest")
	return cmd
}

func newAppDataGetCommand(out io.Writer, configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "get <key>",
		Short: "Fetch an application data entry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := newRuntime(*configPath)
			if err != nil {
				return err
			}
			defer rt.close()

			entry, err := rt.store.GetAppData(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(out, "%s\n", entry.Value)
			return err
		},
	}
}
