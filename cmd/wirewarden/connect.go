package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"wirewarden/cmd/wirewarden/ui"
	"wirewarden/daemon"
)

func connectCmd() *cobra.Command {
	var (
		apiHost    string
		apiToken   string
		configPath string
	)

	cmd := &cobra.Command{
		Use:   "connect",
		Short: "Register a server with the local daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			file, err := daemon.Load(configPath)
			if err != nil {
				return err
			}

			entry := daemon.ServerEntry{APIHost: apiHost, APIToken: apiToken}
			if err := daemon.ValidateNewEntry(file, entry); err != nil {
				return err
			}

			file.Servers = append(file.Servers, entry)
			if err := daemon.Save(configPath, file); err != nil {
				return err
			}

			fmt.Println(ui.SuccessMsg("registered server with local daemon"))
			fmt.Print(ui.KeyValues("  ",
				ui.KV("host", apiHost),
				ui.KV("config", configPath),
				ui.KV("servers", strconv.Itoa(len(file.Servers))),
			))
			fmt.Println(ui.Muted("  a running daemon picks this up on its next cycle"))
			return nil
		},
	}
	cmd.Flags().StringVar(&apiHost, "api-host", "", "Control plane base URL")
	cmd.Flags().StringVar(&apiToken, "api-token", "", "Server api token")
	cmd.Flags().StringVarP(&configPath, "config", "c", daemon.DefaultConfigPath, "Path to the configuration file")
	_ = cmd.MarkFlagRequired("api-host")
	_ = cmd.MarkFlagRequired("api-token")
	return cmd
}
