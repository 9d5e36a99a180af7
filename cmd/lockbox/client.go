package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/benaskins/lockbox/internal/session"
)

// promptTimeout covers a biometric prompt left on screen.
const promptTimeout = 2 * time.Minute

// apiError is the daemon's JSON error body.
type apiError struct {
	Status  int    `json:"-"`
	Message string `json:"error"`
	Code    string `json:"code"`
}

func (e *apiError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("API error %d: %s", e.Status, e.Message)
	}
	return fmt.Sprintf("%s (%s)", e.Message, e.Code)
}

func apiClient(timeout time.Duration) *http.Client {
	socketPath := defaultSocketPath()
	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
				var d net.Dialer
				return d.DialContext(ctx, "unix", socketPath)
			},
		},
	}
}

// apiDo sends a request to the daemon and decodes a JSON response into v.
// v may be nil. A 204 leaves v untouched and reports false.
func apiDo(client *http.Client, method, path string, body io.Reader, v any) (bool, error) {
	req, err := http.NewRequest(method, "http://lockbox"+path, body)
	if err != nil {
		return false, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := client.Do(req)
	if err != nil {
		return false, fmt.Errorf("connecting to daemon: %w (is lockbox daemon running?)", err)
	}
	defer resp.Body.Close()

	return decodeResponse(resp, v)
}

func decodeResponse(resp *http.Response, v any) (bool, error) {
	if resp.StatusCode >= 400 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		apiErr := &apiError{Status: resp.StatusCode}
		if err := json.Unmarshal(raw, apiErr); err != nil || apiErr.Message == "" {
			apiErr.Message = string(raw)
		}
		return false, apiErr
	}
	if resp.StatusCode == http.StatusNoContent {
		return false, nil
	}
	if v == nil {
		return true, nil
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return false, fmt.Errorf("decoding response: %w", err)
	}
	return true, nil
}

func printSnapshot(s session.Snapshot) {
	fmt.Printf("State:        %s\n", s.State)
	if !s.UnlockedAt.IsZero() {
		fmt.Printf("Unlocked at:  %s (%s ago)\n", s.UnlockedAt.Local().Format(time.RFC3339), time.Since(s.UnlockedAt).Round(time.Second))
	}
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// status command
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the lock state",
	RunE: func(cmd *cobra.Command, args []string) error {
		jsonOut, _ := cmd.Flags().GetBool("json")

		var snap session.Snapshot
		if _, err := apiDo(apiClient(10*time.Second), http.MethodGet, "/v1/status", nil, &snap); err != nil {
			return err
		}
		if jsonOut {
			return printJSON(snap)
		}
		printSnapshot(snap)
		return nil
	},
}

// unlock command
var unlockCmd = &cobra.Command{
	Use:   "unlock",
	Short: "Unlock the API key (prompts for biometrics)",
	RunE: func(cmd *cobra.Command, args []string) error {
		var snap session.Snapshot
		if _, err := apiDo(apiClient(promptTimeout), http.MethodPost, "/v1/unlock", nil, &snap); err != nil {
			return err
		}
		printSnapshot(snap)
		return nil
	},
}

// lock command
var lockCmd = &cobra.Command{
	Use:   "lock",
	Short: "Wipe the decrypted API key from memory",
	RunE: func(cmd *cobra.Command, args []string) error {
		var snap session.Snapshot
		if _, err := apiDo(apiClient(10*time.Second), http.MethodPost, "/v1/lock", nil, &snap); err != nil {
			return err
		}
		printSnapshot(snap)
		return nil
	},
}

// lifecycle command
var lifecycleCmd = &cobra.Command{
	Use:       "lifecycle <background|resume|exit>",
	Short:     "Report an app lifecycle event to the daemon",
	Args:      cobra.ExactArgs(1),
	ValidArgs: []string{"background", "resume", "exit"},
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := apiDo(apiClient(10*time.Second), http.MethodPost, "/v1/lifecycle/"+args[0], nil, nil); err != nil {
			return err
		}
		fmt.Printf("%s: delivered\n", args[0])
		return nil
	},
}

// events command
var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Wait for daemon signals such as auth_resume_required",
	RunE: func(cmd *cobra.Command, args []string) error {
		follow, _ := cmd.Flags().GetBool("follow")
		client := apiClient(time.Minute)
		for {
			var ev struct {
				Signal string `json:"signal"`
			}
			got, err := apiDo(client, http.MethodGet, "/v1/events", nil, &ev)
			if err != nil {
				return err
			}
			if got {
				fmt.Println(ev.Signal)
				if !follow {
					return nil
				}
			}
		}
	},
}

// check command
var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Check the backend with the unlocked API key",
	RunE: func(cmd *cobra.Command, args []string) error {
		var result struct {
			Status string `json:"status"`
		}
		if _, err := apiDo(apiClient(time.Minute), http.MethodGet, "/v1/backend/health", nil, &result); err != nil {
			return err
		}
		fmt.Printf("backend: %s\n", result.Status)
		return nil
	},
}

func init() {
	statusCmd.Flags().Bool("json", false, "Output as JSON")
	eventsCmd.Flags().BoolP("follow", "f", false, "Keep waiting after the first signal")

	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(unlockCmd)
	rootCmd.AddCommand(lockCmd)
	rootCmd.AddCommand(lifecycleCmd)
	rootCmd.AddCommand(eventsCmd)
	rootCmd.AddCommand(checkCmd)
}
