package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

const (
	envGatewayURL   = "WAGATE_URL"
	envGatewayToken = "WAGATE_API_TOKEN"
)

// clientConnection holds how client subcommands reach a running gateway.
type clientConnection struct {
	URL     string
	Token   string
	Timeout time.Duration
}

func (c *clientConnection) AddFlags(flagSet *pflag.FlagSet) {
	url := os.Getenv(envGatewayURL)
	if url == "" {
		url = "http://127.0.0.1:3000"
	}
	flagSet.StringVar(&c.URL, "url", url, "gateway base URL (env "+envGatewayURL+")")
	flagSet.StringVar(&c.Token, "token", os.Getenv(envGatewayToken), "bearer token (env "+envGatewayToken+")")
	flagSet.DurationVar(&c.Timeout, "timeout", 30*time.Second, "request timeout")
}

func (c *clientConnection) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}
	ctx, cancel := context.WithTimeout(ctx, c.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, method, strings.TrimRight(c.URL, "/")+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("gateway unreachable: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%s %s: %s %s", method, path, resp.Status, strings.TrimSpace(string(msg)))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

type resultBody struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

func (r resultBody) err() error {
	if r.Success {
		return nil
	}
	return fmt.Errorf("%s", r.Message)
}

func statusCmd(conn *clientConnection) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show whether the gateway is connected",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var out struct {
				Connected bool   `json:"connected"`
				Timestamp string `json:"timestamp"`
				State     string `json:"state"`
			}
			if err := conn.do(cmd.Context(), http.MethodGet, "/whatsapp/status", nil, &out); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "connected=%v state=%s at=%s\n", out.Connected, out.State, out.Timestamp)
			return nil
		},
	}
}

func sendCmd(conn *clientConnection) *cobra.Command {
	return &cobra.Command{
		Use:   "send <phone> <message>",
		Short: "Send a text message (phone may be bare digits, a full JID, or \"me\")",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var out resultBody
			body := map[string]string{"phone": args[0], "message": args[1]}
			if err := conn.do(cmd.Context(), http.MethodPost, "/whatsapp/sendMessage", body, &out); err != nil {
				return err
			}
			if err := out.err(); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), out.Message)
			return nil
		},
	}
}

func pairingCmd(conn *clientConnection) *cobra.Command {
	return &cobra.Command{
		Use:   "pairing",
		Short: "Print the outstanding pairing challenge, if any",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var out struct {
				Pairing   bool   `json:"pairing"`
				Challenge string `json:"challenge"`
			}
			if err := conn.do(cmd.Context(), http.MethodGet, "/whatsapp/pairing", nil, &out); err != nil {
				return err
			}
			if !out.Pairing {
				fmt.Fprintln(cmd.OutOrStdout(), "no pairing challenge outstanding")
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), out.Challenge)
			return nil
		},
	}
}

func logoutCmd(conn *clientConnection) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Unlink the gateway's WhatsApp session (requires pairing again)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var out resultBody
			if err := conn.do(cmd.Context(), http.MethodPost, "/whatsapp/logout", nil, &out); err != nil {
				return err
			}
			if err := out.err(); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), out.Message)
			return nil
		},
	}
}
