package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/R3E-Network/rentstream/internal/httputil"
	"github.com/R3E-Network/rentstream/internal/subscription"
)

type remoteFlags struct {
	server  string
	timeout time.Duration
}

func (f *remoteFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.server, "server", "http://127.0.0.1:8080", "Base URL of a running rentstream API")
	cmd.Flags().DurationVar(&f.timeout, "timeout", 10*time.Second, "Request timeout")
}

func (f *remoteFlags) client() *httputil.Client {
	return httputil.NewClient(httputil.ClientConfig{BaseURL: f.server, Timeout: f.timeout})
}

type remoteStatus struct {
	subscription.Info
	Clients int `json:"ws_clients"`
}

func newStatusCommand() *cobra.Command {
	flags := &remoteFlags{}
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the chain stream status of a running service",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), flags.timeout)
			defer cancel()

			resp, err := flags.client().Do(ctx, http.MethodGet, "/status", nil)
			if err != nil {
				return fmt.Errorf("failed to get status: %w", err)
			}
			var status remoteStatus
			if err := httputil.DecodeResponse(resp, &status); err != nil {
				return fmt.Errorf("failed to get status: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "State: %s\n", status.State)
			fmt.Fprintf(out, "Mode: %s\n", status.Mode)
			fmt.Fprintf(out, "Contract: %s\n", status.Contract)
			fmt.Fprintf(out, "Last block: %d\n", status.LastBlock)
			fmt.Fprintf(out, "Attempts: %d/%d\n", status.Attempts, status.MaxAttempts)
			if status.LastError != "" {
				fmt.Fprintf(out, "Last error: %s\n", status.LastError)
			}
			fmt.Fprintf(out, "Websocket clients: %d\n", status.Clients)
			if status.State.IsDegraded() {
				fmt.Fprintln(out, "Stream retries are exhausted; run `rentstream reconnect` to try again.")
			}
			return nil
		},
	}
	flags.register(cmd)
	return cmd
}

func newReconnectCommand() *cobra.Command {
	flags := &remoteFlags{}
	cmd := &cobra.Command{
		Use:   "reconnect",
		Short: "Restart the chain subscription of a running service",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), flags.timeout)
			defer cancel()

			if err := flags.client().PostJSON(ctx, "/reconnect", nil); err != nil {
				return fmt.Errorf("failed to request reconnect: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "reconnect requested")
			return nil
		},
	}
	flags.register(cmd)
	return cmd
}
