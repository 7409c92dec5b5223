// Package askdbctl implements the askdb ops API client.
package askdbctl

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
)

type Options struct {
	BaseURL    string
	APIKey     string
	Timeout    time.Duration
	HTTPClient *http.Client
	Stdout     io.Writer
	Stderr     io.Writer
}

// requestError marks failures talking to the API, as opposed to usage errors.
type requestError struct {
	err error
}

func (e *requestError) Error() string { return e.err.Error() }
func (e *requestError) Unwrap() error { return e.err }

// Run executes one askdbctl invocation and returns the process exit code:
// 0 on success, 1 when the request fails, 2 on usage errors.
func Run(ctx context.Context, args []string, defaults Options) int {
	stdout := defaults.Stdout
	if stdout == nil {
		stdout = io.Discard
	}
	stderr := defaults.Stderr
	if stderr == nil {
		stderr = io.Discard
	}

	if args == nil {
		args = []string{}
	}
	root := newRootCommand(defaults, stdout)
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	if err := root.ExecuteContext(ctx); err != nil {
		var reqErr *requestError
		if errors.As(err, &reqErr) {
			_, _ = fmt.Fprintln(stderr, reqErr.Error())
			return 1
		}
		_, _ = fmt.Fprintf(stderr, "%v\n\n", err)
		_, _ = fmt.Fprint(stderr, root.UsageString())
		return 2
	}
	return 0
}

type client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

func newRootCommand(defaults Options, stdout io.Writer) *cobra.Command {
	var (
		baseURL string
		apiKey  string
		timeout time.Duration
		c       client
	)

	root := &cobra.Command{
		Use:           "askdbctl",
		Short:         "Operate an askdb deployment through its ops API",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(*cobra.Command, []string) error {
			return errors.New("a command is required")
		},
		PersistentPreRun: func(cmd *cobra.Command, _ []string) {
			httpClient := defaults.HTTPClient
			if httpClient == nil {
				httpClient = &http.Client{Timeout: timeout}
			}
			c = client{
				baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
				apiKey:  strings.TrimSpace(apiKey),
				http:    httpClient,
			}
		},
	}
	root.PersistentFlags().StringVar(&baseURL, "base-url", firstNonEmpty(defaults.BaseURL, "http://localhost:8080"), "askdb API base URL")
	root.PersistentFlags().StringVar(&apiKey, "api-key", defaults.APIKey, "API key for authenticated requests")
	root.PersistentFlags().DurationVar(&timeout, "timeout", durationOr(defaults.Timeout, 10*time.Second), "HTTP timeout (e.g. 10s)")

	root.AddCommand(
		&cobra.Command{
			Use:   "health",
			Short: "GET /v1/health",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return c.printJSON(cmd.Context(), stdout, http.MethodGet, "/v1/health", nil)
			},
		},
		&cobra.Command{
			Use:   "ready",
			Short: "GET /v1/ready",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return c.printJSON(cmd.Context(), stdout, http.MethodGet, "/v1/ready", nil)
			},
		},
		&cobra.Command{
			Use:   "schema",
			Short: "GET /v1/schema",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return c.printJSON(cmd.Context(), stdout, http.MethodGet, "/v1/schema", nil)
			},
		},
		newAskCommand(&c, stdout),
		newHistoryCommand(&c, stdout),
	)
	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return err
	})
	return root
}

func newAskCommand(c *client, stdout io.Writer) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "ask <question>",
		Short: "POST /v1/ask",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			payload, err := json.Marshal(map[string]string{"question": strings.Join(args, " ")})
			if err != nil {
				return err
			}
			if asJSON {
				return c.printJSON(cmd.Context(), stdout, http.MethodPost, "/v1/ask", payload)
			}

			body, err := c.do(cmd.Context(), http.MethodPost, "/v1/ask", payload)
			if err != nil {
				return err
			}
			var answer struct {
				SQL      string `json:"sql"`
				RowCount int    `json:"row_count"`
				Reply    string `json:"reply"`
			}
			if err := json.Unmarshal(body, &answer); err != nil {
				return &requestError{err: fmt.Errorf("decode ask response: %w", err)}
			}
			_, _ = fmt.Fprintln(stdout, pterm.NewStyle(pterm.FgCyan, pterm.Bold).Sprint("SQL"))
			_, _ = fmt.Fprintln(stdout, answer.SQL)
			_, _ = fmt.Fprintln(stdout)
			_, _ = fmt.Fprintln(stdout, pterm.NewStyle(pterm.FgCyan, pterm.Bold).Sprintf("Result (%d rows)", answer.RowCount))
			_, _ = fmt.Fprint(stdout, answer.Reply)
			if !strings.HasSuffix(answer.Reply, "\n") {
				_, _ = fmt.Fprintln(stdout)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the raw JSON response")
	return cmd
}

func newHistoryCommand(c *client, stdout io.Writer) *cobra.Command {
	var (
		limit  int
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "history",
		Short: "GET /v1/history",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if limit < 0 {
				return fmt.Errorf("--limit must not be negative")
			}
			path := "/v1/history"
			if limit > 0 {
				path += "?" + url.Values{"limit": {strconv.Itoa(limit)}}.Encode()
			}
			if asJSON {
				return c.printJSON(cmd.Context(), stdout, http.MethodGet, path, nil)
			}

			body, err := c.do(cmd.Context(), http.MethodGet, path, nil)
			if err != nil {
				return err
			}
			var page struct {
				Records []struct {
					ReceivedAt   time.Time `json:"received_at"`
					Source       string    `json:"source"`
					Outcome      string    `json:"outcome"`
					RowCount     int       `json:"row_count"`
					Question     string    `json:"question"`
					ErrorMessage string    `json:"error_message"`
				} `json:"records"`
			}
			if err := json.Unmarshal(body, &page); err != nil {
				return &requestError{err: fmt.Errorf("decode history response: %w", err)}
			}
			if len(page.Records) == 0 {
				_, _ = fmt.Fprintln(stdout, "No history records.")
				return nil
			}

			data := pterm.TableData{{"RECEIVED", "SOURCE", "OUTCOME", "ROWS", "QUESTION"}}
			for _, record := range page.Records {
				question := record.Question
				if record.ErrorMessage != "" {
					question += " (" + record.ErrorMessage + ")"
				}
				data = append(data, []string{
					record.ReceivedAt.UTC().Format(time.RFC3339),
					record.Source,
					record.Outcome,
					strconv.Itoa(record.RowCount),
					question,
				})
			}
			return pterm.DefaultTable.WithHasHeader().WithData(data).WithWriter(stdout).Render()
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum number of records (server default when 0)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the raw JSON response")
	return cmd
}

func (c *client) printJSON(ctx context.Context, stdout io.Writer, method, path string, payload []byte) error {
	body, err := c.do(ctx, method, path, payload)
	if err != nil {
		return err
	}
	if pretty, ok := prettyJSON(body); ok {
		_, _ = fmt.Fprintln(stdout, pretty)
		return nil
	}
	if len(body) > 0 {
		_, _ = fmt.Fprintln(stdout, string(body))
	}
	return nil
}

func (c *client) do(ctx context.Context, method, path string, payload []byte) ([]byte, error) {
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, &requestError{err: fmt.Errorf("request failed: %w", err)}
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &requestError{err: fmt.Errorf("request failed: %w", err)}
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &requestError{err: fmt.Errorf("read response: %w", err)}
	}
	if resp.StatusCode >= 400 {
		return nil, &requestError{err: fmt.Errorf("http %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))}
	}
	return body, nil
}

func prettyJSON(raw []byte) (string, bool) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return "", false
	}
	var anyValue any
	if err := json.Unmarshal(raw, &anyValue); err != nil {
		return "", false
	}
	formatted, err := json.MarshalIndent(anyValue, "", "  ")
	if err != nil {
		return "", false
	}
	return string(formatted), true
}

func firstNonEmpty(a, b string) string {
	if strings.TrimSpace(a) != "" {
		return strings.TrimSpace(a)
	}
	return b
}

func durationOr(v, fallback time.Duration) time.Duration {
	if v > 0 {
		return v
	}
	return fallback
}
