package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"wirewarden/cmd/wirewarden/ui"
	"wirewarden/daemon"
)

func serversCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "servers",
		Short: "List servers registered with the local daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			file, err := daemon.Load(configPath)
			if err != nil {
				return err
			}
			if len(file.Servers) == 0 {
				fmt.Println(ui.InfoMsg("no servers configured"))
				fmt.Println(ui.Muted("  use `wirewarden connect` to add one"))
				return nil
			}

			rows := make([][]string, 0, len(file.Servers))
			for _, entry := range file.Servers {
				rows = append(rows, []string{entry.APIHost, redactToken(entry.APIToken)})
			}
			fmt.Println(ui.Table([]string{"HOST", "TOKEN"}, rows))
			return nil
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", daemon.DefaultConfigPath, "Path to the configuration file")
	return cmd
}

// redactToken keeps enough of the token to tell entries apart without
// printing a working credential.
func redactToken(token string) string {
	if len(token) > 8 {
		return token[:8] + "…"
	}
	return "…"
}
