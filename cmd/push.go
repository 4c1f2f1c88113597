package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/viralboost/boostd/internal/config"
)

// NewPushCmd returns the "push" subcommand that injects a test notification
// into a running daemon.
func NewPushCmd(cfg *config.AppConfig) *cobra.Command {
	var (
		title   string
		body    string
		tag     string
		notType string
		url     string
	)

	cmd := &cobra.Command{
		Use:   "push [payload]",
		Short: "Inject a test push notification into a running daemon",
		Long: `Send a push payload to the local daemon as if it arrived from the
backend. Pass a raw JSON payload as the argument, or use the flags to build
one. The payload goes through the same normalization as a real push.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			var payload string
			if len(args) == 1 {
				payload = args[0]
			} else {
				m := map[string]any{}
				if title != "" {
					m["title"] = title
				}
				if body != "" {
					m["body"] = body
				}
				if tag != "" {
					m["tag"] = tag
				}
				data := map[string]string{}
				if notType != "" {
					data["type"] = notType
				}
				if url != "" {
					data["url"] = url
				}
				if len(data) > 0 {
					m["data"] = data
				}
				b, err := json.Marshal(m)
				if err != nil {
					return fmt.Errorf("building payload: %w", err)
				}
				payload = string(b)
			}
			return injectPush(cfg.Port, payload)
		},
	}

	cmd.Flags().StringVar(&title, "title", "", "Notification title")
	cmd.Flags().StringVar(&body, "body", "", "Notification body")
	cmd.Flags().StringVar(&tag, "tag", "", "Notification tag")
	cmd.Flags().StringVar(&notType, "type", "", "Notification type (task, payment, membership, complaint)")
	cmd.Flags().StringVar(&url, "url", "", "Explicit click-through URL")
	return cmd
}

func injectPush(port int, payload string) error {
	client := &http.Client{Timeout: 10 * time.Second}
	target := fmt.Sprintf("http://127.0.0.1:%d/api/push", port)

	resp, err := client.Post(target, "application/json", strings.NewReader(payload))
	if err != nil {
		return fmt.Errorf("is the daemon running? %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("daemon rejected push (status %d): %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}
	fmt.Printf("Push accepted: %s\n", strings.TrimSpace(string(respBody)))
	return nil
}
