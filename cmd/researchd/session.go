package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/spf13/cobra"
)

// sessionCMD is the CLI-side client of the HTTP/SSE API: it submits a
// query, tails the session's event stream to stdout, and prints the final
// report once the session reaches a terminal status.
func sessionCMD() *cobra.Command {
	var server, token, query, clarification string

	run := &cobra.Command{
		Use:   "run",
		Short: "Submit a research query and stream progress until it completes",
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(query) == "" {
				return fmt.Errorf("--query is required")
			}
			client := &http.Client{}

			sessionID, err := createSession(client, server, token, query, clarification)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "session: %s\n", sessionID)

			if err := streamEvents(cmd, client, server, token, sessionID); err != nil {
				return err
			}

			report, err := fetchReport(client, server, token, sessionID)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "\n--- final report ---")
			fmt.Fprintln(cmd.OutOrStdout(), report)
			return nil
		},
	}
	run.Flags().StringVar(&server, "server", "http://localhost:8080", "researchd server base URL")
	run.Flags().StringVar(&token, "token", getenv("RESEARCH_AUTH_TOKEN", ""), "bearer token")
	run.Flags().StringVar(&query, "query", "", "the research query to submit")
	run.Flags().StringVar(&clarification, "clarification", "", "optional clarifying context")

	return run
}

func createSession(client *http.Client, server, token, query, clarification string) (string, error) {
	body, err := json.Marshal(map[string]interface{}{
		"query":         query,
		"clarification": clarification,
	})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequest(http.MethodPost, server+"/api/sessions", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	setAuth(req, token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		b, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("create session: %s: %s", resp.Status, string(b))
	}
	var created struct {
		SessionID string `json:"sessionId"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		return "", err
	}
	return created.SessionID, nil
}

func streamEvents(cmd *cobra.Command, client *http.Client, server, token, sessionID string) error {
	req, err := http.NewRequest(http.MethodGet, server+"/api/sessions/"+sessionID+"/events", nil)
	if err != nil {
		return err
	}
	setAuth(req, token)

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("subscribe: %s: %s", resp.Status, string(b))
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	var eventType string
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "event: "):
			eventType = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			fmt.Fprintf(cmd.OutOrStdout(), "[%s] %s\n", eventType, strings.TrimPrefix(line, "data: "))
			if eventType == "session_status_change" && (strings.Contains(line, "completed") || strings.Contains(line, "failed")) {
				return nil
			}
		}
	}
	return scanner.Err()
}

func fetchReport(client *http.Client, server, token, sessionID string) (string, error) {
	req, err := http.NewRequest(http.MethodGet, server+"/api/sessions/"+sessionID+"/report", nil)
	if err != nil {
		return "", err
	}
	setAuth(req, token)

	resp, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("fetch report: %s: %s", resp.Status, string(b))
	}
	return string(b), nil
}

func setAuth(req *http.Request, token string) {
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
}
