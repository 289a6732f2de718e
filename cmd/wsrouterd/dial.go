package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/cyberinferno/go-wsrouter/wsclient"
	"github.com/spf13/cobra"
)

func dialCmd() *cobra.Command {
	var url string
	var reconnect bool

	cmd := &cobra.Command{
		Use:   "dial",
		Short: "Connect to a server and exchange text messages",
		Long: `Connect to a websocket server, send each line read from stdin as a text
message and print every message received. Ends on EOF or interrupt.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := wsclient.DefaultConfig(url)
			cfg.AutoReconnect = reconnect
			client := wsclient.NewClient(cfg)
			defer client.Close()

			out := cmd.OutOrStdout()
			client.OnMessage(func(e wsclient.MessageEvent) {
				fmt.Fprintf(out, "< %s\n", e.Data)
			})
			client.OnConnectionState(func(e wsclient.ConnectionStateEvent) {
				fmt.Fprintf(cmd.ErrOrStderr(), "* %s\n", e.State)
			})

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
			defer stop()

			if err := client.Connect(ctx); err != nil {
				return err
			}

			lines := make(chan string)
			go func() {
				defer close(lines)
				scanner := bufio.NewScanner(cmd.InOrStdin())
				for scanner.Scan() {
					lines <- scanner.Text()
				}
			}()

			for {
				select {
				case <-ctx.Done():
					return nil
				case line, ok := <-lines:
					if !ok {
						return nil
					}
					if err := client.SendText(line); err != nil {
						fmt.Fprintf(cmd.ErrOrStderr(), "send failed: %s\n", err)
					}
				}
			}
		},
	}

	cmd.Flags().StringVarP(&url, "url", "u", "ws://localhost:9000/", "Server URL")
	cmd.Flags().BoolVar(&reconnect, "reconnect", false, "Redial automatically when the connection drops")

	return cmd
}
