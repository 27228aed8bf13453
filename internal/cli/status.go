package cli

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/Dicklesworthstone/dcmsg/internal/robot"
)

func newStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Check the configured relay",
		Long: `Query the relay's HTTP /status endpoint and report who is online.

Examples:
  dcmsg status
  dcmsg status --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus()
		},
	}
	return cmd
}

func runStatus() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.Relay.URL == "" {
		return fmt.Errorf("no relay configured (set relay.url in config)")
	}
	statusURL, err := relayStatusURL(cfg.Relay.URL)
	if err != nil {
		return err
	}

	out := robot.RelayStatusOutput{URL: cfg.Relay.URL, Users: []string{}}
	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(statusURL)
	if err != nil {
		out.Response = robot.ErrorResponse(err)
		out.Status = "unreachable"
		if IsJSONOutput() {
			return printJSON(out)
		}
		fmt.Printf("Relay %s: unreachable (%v)\n", cfg.Relay.URL, err)
		return nil
	}
	defer resp.Body.Close()

	var body struct {
		Status      string   `json:"status"`
		UsersOnline int      `json:"users_online"`
		Users       []string `json:"users"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return fmt.Errorf("decode relay status: %w", err)
	}
	out.Response = robot.NewResponse(true)
	out.Status = body.Status
	out.UsersOnline = body.UsersOnline
	if body.Users != nil {
		out.Users = body.Users
	}

	if IsJSONOutput() {
		return printJSON(out)
	}
	fmt.Printf("Relay %s: %s\n", cfg.Relay.URL, out.Status)
	if out.UsersOnline == 0 {
		fmt.Println("Nobody online.")
		return nil
	}
	fmt.Printf("Online (%d): %s\n", out.UsersOnline, strings.Join(out.Users, ", "))
	return nil
}

// relayStatusURL converts the websocket URL into the /status endpoint on
// the same host.
func relayStatusURL(wsURL string) (string, error) {
	u, err := url.Parse(wsURL)
	if err != nil {
		return "", fmt.Errorf("relay url: %w", err)
	}
	switch u.Scheme {
	case "ws":
		u.Scheme = "http"
	case "wss":
		u.Scheme = "https"
	}
	u.Path = "/status"
	u.RawQuery = ""
	return u.String(), nil
}
