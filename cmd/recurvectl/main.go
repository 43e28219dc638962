package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

const version = "0.1.0"

var (
	serverURL string
	apiKey    string
	token     string
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "recurvectl",
		Short: "recurve CLI - drive a recurve agent",
		Long: `recurvectl is a command-line interface for a running recurve agent.
All output is structured JSON (pipe through jq for human-readable formatting).`,
		Version:      version,
		SilenceUsage: true,
	}

	// Global flags
	rootCmd.PersistentFlags().StringVarP(&serverURL, "server", "s", envOr("RECURVE_SERVER", "http://localhost:8000"), "recurve server URL")
	rootCmd.PersistentFlags().StringVar(&apiKey, "api-key", os.Getenv("RECURVE_API_KEY"), "API key sent as X-API-Key")
	rootCmd.PersistentFlags().StringVar(&token, "token", os.Getenv("RECURVE_TOKEN"), "Bearer token for admin endpoints")

	rootCmd.AddCommand(newProductCommand())
	rootCmd.AddCommand(newStrategyCommand())
	rootCmd.AddCommand(newEvolveCommand())
	rootCmd.AddCommand(newValidateCommand())
	rootCmd.AddCommand(newScoutCommand())
	rootCmd.AddCommand(newGraphCommand())
	rootCmd.AddCommand(newCompaniesCommand())
	rootCmd.AddCommand(newLessonsCommand())
	rootCmd.AddCommand(newEventsCommand())
	rootCmd.AddCommand(newSeedCommand())
	rootCmd.AddCommand(newResetCommand())
	rootCmd.AddCommand(newTokenCommand())
	return rootCmd
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// --- HTTP client ---

type Client struct {
	BaseURL string
	APIKey  string
	Token   string
	HTTP    *http.Client
}

func newClient() *Client {
	return &Client{
		BaseURL: strings.TrimSuffix(serverURL, "/"),
		APIKey:  apiKey,
		Token:   token,
		HTTP:    &http.Client{Timeout: 5 * time.Minute},
	}
}

func (c *Client) newRequest(method, path string, params url.Values, body io.Reader) (*http.Request, error) {
	u := c.BaseURL + path
	if len(params) > 0 {
		u += "?" + params.Encode()
	}
	req, err := http.NewRequest(method, u, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if c.APIKey != "" {
		req.Header.Set("X-API-Key", c.APIKey)
	}
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}
	return req, nil
}

func (c *Client) do(method, path string, params url.Values, data interface{}) ([]byte, error) {
	var body io.Reader
	if data != nil {
		jsonData, err := json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal data: %w", err)
		}
		body = strings.NewReader(string(jsonData))
	}

	req, err := c.newRequest(method, path, params, body)
	if err != nil {
		return nil, err
	}
	if data != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("server error (%d): %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}

	return respBody, nil
}

func (c *Client) get(path string, params url.Values) ([]byte, error) {
	return c.do(http.MethodGet, path, params, nil)
}

func (c *Client) post(path string, data interface{}) ([]byte, error) {
	return c.do(http.MethodPost, path, nil, data)
}

// streamSSE reads an SSE stream and writes each event's data field as one
// JSON line.
func (c *Client) streamSSE(path string, params url.Values, out io.Writer) error {
	req, err := c.newRequest(http.MethodGet, path, params, nil)
	if err != nil {
		return err
	}
	stream := &http.Client{}
	resp, err := stream.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		b, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("server error (%d): %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}

	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "data: ") {
			fmt.Fprintln(out, line[6:])
		}
	}
	return scanner.Err()
}

// outputJSON pretty-prints JSON data. All commands use this as the primary output path.
func outputJSON(w io.Writer, data []byte) {
	var v interface{}
	if err := json.Unmarshal(data, &v); err != nil {
		// Not valid JSON, print raw
		fmt.Fprintln(w, string(data))
		return
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}
