// jdctl is the operator CLI for the summarization pipeline. It talks to the
// API's admin endpoints; it never touches Postgres or Redis directly.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

var apiAddr string

func main() {
	root := &cobra.Command{
		Use:   "jdctl",
		Short: "Operator CLI for the JD summarization pipeline",
	}
	root.PersistentFlags().StringVar(&apiAddr, "api", "http://localhost:8080", "base URL of the API service")

	failed := &cobra.Command{
		Use:   "failed",
		Short: "Inspect and act on dead-lettered messages",
	}
	failed.AddCommand(buildListCommand())
	failed.AddCommand(buildShowCommand())
	failed.AddCommand(buildReprocessCommand())
	failed.AddCommand(buildIgnoreCommand())
	root.AddCommand(failed)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type failedEvent struct {
	ID           string `json:"id"`
	Stream       string `json:"stream"`
	MessageID    string `json:"message_id"`
	Key          string `json:"key"`
	ErrorType    string `json:"error_type"`
	ErrorMessage string `json:"error_message"`
	RetryCount   int    `json:"retry_count"`
	Status       string `json:"status"`
	CreatedAt    string `json:"created_at"`
}

func buildListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List messages still in FAILED",
		RunE: func(cmd *cobra.Command, args []string) error {
			body, err := call(http.MethodGet, "/admin/failed-events", nil)
			if err != nil {
				return err
			}
			var events []failedEvent
			if err := json.Unmarshal(body, &events); err != nil {
				return fmt.Errorf("unexpected response: %v", err)
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tSTREAM\tKEY\tERROR\tRETRIES\tCREATED")
			for _, ev := range events {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\n",
					ev.ID, ev.Stream, ev.Key, ev.ErrorType, ev.RetryCount, ev.CreatedAt)
			}
			return w.Flush()
		},
	}
}

func buildShowCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show one dead-lettered message in full",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			body, err := call(http.MethodGet, "/admin/failed-events/"+args[0], nil)
			if err != nil {
				return err
			}
			var pretty bytes.Buffer
			if err := json.Indent(&pretty, body, "", "  "); err != nil {
				return fmt.Errorf("unexpected response: %v", err)
			}
			fmt.Println(pretty.String())
			return nil
		},
	}
}

func buildReprocessCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "reprocess <id>",
		Short: "Replay a dead-lettered message through the pipeline",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := call(http.MethodPost, "/admin/failed-events/"+args[0]+"/reprocess", nil); err != nil {
				return err
			}
			fmt.Printf("reprocessed %s\n", args[0])
			return nil
		},
	}
}

func buildIgnoreCommand() *cobra.Command {
	var reason string

	cmd := &cobra.Command{
		Use:   "ignore <id>",
		Short: "Mark a dead-lettered message as permanently ignored",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			payload, _ := json.Marshal(map[string]string{"reason": reason})
			if _, err := call(http.MethodPost, "/admin/failed-events/"+args[0]+"/ignore", payload); err != nil {
				return err
			}
			fmt.Printf("ignored %s\n", args[0])
			return nil
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "why this message will never be reprocessed")
	cmd.MarkFlagRequired("reason")

	return cmd
}

func call(method, path string, payload []byte) ([]byte, error) {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequest(method, apiAddr+path, body)
	if err != nil {
		return nil, err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	out, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		var apiErr struct {
			Message string `json:"message"`
		}
		if json.Unmarshal(out, &apiErr) == nil && apiErr.Message != "" {
			return nil, fmt.Errorf("%s: %s", resp.Status, apiErr.Message)
		}
		return nil, fmt.Errorf("%s", resp.Status)
	}
	return out, nil
}
