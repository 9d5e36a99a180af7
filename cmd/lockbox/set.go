package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/awnumar/memguard"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/benaskins/lockbox/internal/session"
)

var setCmd = &cobra.Command{
	Use:   "set",
	Short: "Store a new API key (prompts for biometrics)",
	Long:  "Store the API key. Reads from the terminal without echo, or from stdin when piped. The key is never accepted as an argument.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		key, err := readSecret(os.Stdin)
		if err != nil {
			return err
		}
		defer memguard.WipeBytes(key)

		body, err := json.Marshal(map[string]string{"api_key": string(key)})
		if err != nil {
			return err
		}
		defer memguard.WipeBytes(body)

		var snap session.Snapshot
		if _, err := apiDo(apiClient(promptTimeout), http.MethodPut, "/v1/apikey", bytes.NewReader(body), &snap); err != nil {
			return err
		}
		fmt.Println("API key stored")
		printSnapshot(snap)
		return nil
	},
}

// readSecret reads the key from a terminal without echo, or from a pipe.
func readSecret(f *os.File) ([]byte, error) {
	if term.IsTerminal(int(f.Fd())) {
		fmt.Fprint(os.Stderr, "Enter API key: ")
		b, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return nil, fmt.Errorf("reading api key: %w", err)
		}
		return b, nil
	}
	return readPiped(f)
}

func readPiped(r io.Reader) ([]byte, error) {
	b, err := io.ReadAll(io.LimitReader(r, 64<<10))
	if err != nil {
		return nil, fmt.Errorf("reading stdin: %w", err)
	}
	trimmed := bytes.TrimRight(b, "\r\n")
	out := make([]byte, len(trimmed))
	copy(out, trimmed)
	memguard.WipeBytes(b)
	return out, nil
}

func init() {
	rootCmd.AddCommand(setCmd)
}
