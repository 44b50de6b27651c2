package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/matheus3301/chatsync/internal/api"
	"github.com/matheus3301/chatsync/internal/session"
	"github.com/spf13/cobra"
)

var (
	flagProfile string
	flagJSON    bool
	flagTimeout time.Duration
)

var rootCmd = &cobra.Command{
	Use:           "chatsyncctl",
	Short:         "Control a running chatsyncd daemon",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagProfile, "profile", "", "profile name (overrides config default)")
	rootCmd.PersistentFlags().BoolVar(&flagJSON, "json", false, "output in JSON format")
	rootCmd.PersistentFlags().DurationVar(&flagTimeout, "timeout", 30*time.Second, "request timeout")
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		stop()
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// dial connects to the daemon serving the selected profile.
func dial() (*api.Client, error) {
	profile := session.Resolve(flagProfile)
	if err := session.ValidateName(profile); err != nil {
		return nil, err
	}
	c, err := api.Dial(session.SocketPath(profile))
	if err != nil {
		return nil, fmt.Errorf("cannot connect to daemon for profile %q: %w", profile, err)
	}
	return c, nil
}

// call runs fn against a fresh client with the request timeout applied.
func call(cmd *cobra.Command, fn func(ctx context.Context, c *api.Client) (map[string]any, error)) error {
	c, err := dial()
	if err != nil {
		return err
	}
	defer func() { _ = c.Close() }()

	ctx, cancel := context.WithTimeout(cmd.Context(), flagTimeout)
	defer cancel()

	resp, err := fn(ctx, c)
	if err != nil {
		return err
	}
	return output(resp)
}

func output(v map[string]any) error {
	if flagJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	keys := make([]string, 0, len(v))
	for k := range v {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		switch val := v[k].(type) {
		case map[string]any, []any:
			b, _ := json.Marshal(val)
			fmt.Printf("%-12s %s\n", k+":", b)
		default:
			fmt.Printf("%-12s %v\n", k+":", val)
		}
	}
	return nil
}
