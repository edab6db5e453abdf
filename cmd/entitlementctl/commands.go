package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/smallbiznis/entitlementd/internal/entitlement/domain"
	"github.com/smallbiznis/entitlementd/internal/entitlement/engine"
	"github.com/smallbiznis/entitlementd/internal/gate"
)

type rootOptions struct {
	userID   string
	cacheDir string
	verbose  bool
}

type checkOptions struct {
	server   string
	cooldown time.Duration
	timeout  time.Duration
}

type statusView struct {
	UserID    string        `json:"user_id"`
	IsPremium bool          `json:"is_premium"`
	Status    domain.Status `json:"status"`
	ExpiresAt *time.Time    `json:"expires_at,omitempty"`
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:           "entitlementctl",
		Short:         "Client-side entitlement checks",
		Long:          `Evaluate a user's premium entitlement from the local cache, refreshing it from the entitlement service when allowed.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opts.userID, "user", "", "user id to check")
	root.PersistentFlags().StringVar(&opts.cacheDir, "cache-dir", defaultCacheDir(), "directory holding cached entitlements")
	root.PersistentFlags().BoolVar(&opts.verbose, "verbose", false, "log gate decisions to stderr")

	root.AddCommand(newCheckCmd(opts), newStatusCmd(opts))
	return root
}

func newCheckCmd(root *rootOptions) *cobra.Command {
	opts := &checkOptions{}
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Enforce locally, then reconcile with the server",
		Example: `  entitlementctl check --user user_123 --server http://localhost:8080
  entitlementctl check --user user_123 --server https://entitlements.internal --cooldown 1h`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := openStore(root)
			if err != nil {
				return err
			}

			var remote gate.Remote
			if strings.TrimSpace(opts.server) != "" {
				httpRemote, err := gate.NewHTTPRemote(opts.server, &http.Client{Timeout: opts.timeout})
				if err != nil {
					return err
				}
				remote = httpRemote
			}

			g := gate.New(store, remote, gate.WithCooldown(opts.cooldown), gate.WithLogger(newLogger(root.verbose)))
			if _, err := g.Check(cmd.Context(), root.userID); err != nil {
				return err
			}
			rec, err := g.Status(root.userID)
			if err != nil {
				return err
			}
			return printStatus(cmd, rec)
		},
	}
	cmd.Flags().StringVar(&opts.server, "server", "", "entitlement service base URL; empty checks offline")
	cmd.Flags().DurationVar(&opts.cooldown, "cooldown", engine.DefaultPollCooldown, "minimum time between server round trips")
	cmd.Flags().DurationVar(&opts.timeout, "timeout", 10*time.Second, "server request timeout")
	return cmd
}

func newStatusCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the locally enforced entitlement without contacting the server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := openStore(root)
			if err != nil {
				return err
			}
			rec, err := gate.New(store, nil, gate.WithLogger(newLogger(root.verbose))).Status(root.userID)
			if err != nil {
				return err
			}
			return printStatus(cmd, rec)
		},
	}
}

func openStore(opts *rootOptions) (*gate.FileStore, error) {
	if strings.TrimSpace(opts.userID) == "" {
		return nil, fmt.Errorf("--user is required")
	}
	return gate.NewFileStore(opts.cacheDir)
}

func printStatus(cmd *cobra.Command, rec domain.Record) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(statusView{
		UserID:    rec.UserID,
		IsPremium: rec.IsPremium,
		Status:    rec.Status,
		ExpiresAt: rec.ExpiresAt,
	})
}

func newLogger(verbose bool) *zap.Logger {
	if !verbose {
		return zap.NewNop()
	}
	log, err := zap.NewDevelopment()
	if err != nil {
		return zap.NewNop()
	}
	return log
}

func defaultCacheDir() string {
	dir, err := os.UserCacheDir()
	if err != nil {
		return ".entitlementctl"
	}
	return filepath.Join(dir, "entitlementctl")
}
