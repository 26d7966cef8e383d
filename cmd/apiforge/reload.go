package main

import (
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/artpar/apiforge/config"
	"github.com/artpar/apiforge/core/manifest"
	"github.com/artpar/apiforge/core/registry"
	"github.com/artpar/apiforge/core/reload"
)

var reloadCmd = &cobra.Command{
	Use:   "reload",
	Short: "Ask every server sharing the Redis reload channel to reload",
	Long: `Validate the configured schema, then publish a reload request on the
Redis channel of reload.redis_url. Servers record the fingerprint of the
schema they serve; --status compares it with the local file without
publishing.

Examples:
  apiforge reload
  apiforge reload --status`,
	RunE: runReload,
}

var reloadStatus bool

func init() {
	rootCmd.AddCommand(reloadCmd)

	reloadCmd.Flags().BoolVar(&reloadStatus, "status", false, "only compare the local and active fingerprints")
}

func runReload(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadWithFallback(cfgFile)
	if err != nil {
		return fmt.Errorf("error loading config: %w", err)
	}
	if cfg.Reload.RedisURL == "" {
		return fmt.Errorf("reload.redis_url is not configured; send SIGHUP to the server instead")
	}

	doc, err := manifest.LoadFile(cfg.Schema.Path)
	if err != nil {
		printSchemaError(cmd.ErrOrStderr(), err)
		return fmt.Errorf("schema invalid")
	}
	local, err := registry.Fingerprint(doc)
	if err != nil {
		return err
	}

	opt, err := redis.ParseURL(cfg.Reload.RedisURL)
	if err != nil {
		return fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opt)
	defer client.Close()

	ctx := cmd.Context()
	trigger := reload.NewRedisTrigger(client, cfg.Reload.Channel, cfg.Reload.FingerprintKey, nil, zerolog.Nop())

	active, err := trigger.Active(ctx)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Local schema:  %s\n", short(local))
	if active == "" {
		fmt.Fprintln(out, "Active schema: none recorded")
	} else {
		fmt.Fprintf(out, "Active schema: %s\n", short(active))
	}

	if reloadStatus {
		if active == local {
			fmt.Fprintf(out, "%s Servers run the local schema\n", checkMark)
		} else {
			fmt.Fprintf(out, "%s Servers run a different schema\n", crossMark)
		}
		return nil
	}

	if err := trigger.Notify(ctx, local); err != nil {
		return err
	}
	fmt.Fprintf(out, "%s Reload published on %s\n", checkMark, cfg.Reload.Channel)
	return nil
}

func short(fp string) string {
	if len(fp) > 12 {
		return fp[:12]
	}
	return fp
}
