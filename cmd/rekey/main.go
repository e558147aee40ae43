// Command rekey rewrites messages stored under the legacy passphrase format
// with per-conversation keys.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"

	"github.com/joakey/joakey/backend/internal/codec"
	"github.com/joakey/joakey/backend/internal/config"
	"github.com/joakey/joakey/backend/internal/services"
	"github.com/joakey/joakey/backend/internal/sqlitestore"
	"github.com/joakey/joakey/backend/internal/store"
	"github.com/joakey/joakey/backend/internal/supabase"
	"github.com/spf13/cobra"
)

var chatIDs []string

var rootCmd = &cobra.Command{
	Use:   "rekey",
	Short: "Re-encode legacy chat messages",
	Long: `Rekey finds messages written by the old web client, decodes them with
LEGACY_MESSAGE_PASSPHRASE and stores them again in the current format.

Example usage:
  rekey                       # every conversation
  rekey --chat <id> --chat <id>`,
	RunE:         runRekey,
	SilenceUsage: true,
}

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true
	rootCmd.Flags().StringSliceVar(&chatIDs, "chat", nil, "conversation id to migrate (repeatable, default all)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runRekey(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if cfg.LegacyPassphrase == "" {
		return fmt.Errorf("LEGACY_MESSAGE_PASSPHRASE is not set")
	}
	keys, err := codec.NewKeyRing(cfg.MasterKey, cfg.LegacyPassphrase)
	if err != nil {
		return err
	}

	db, closer, err := openBackend(cfg)
	if err != nil {
		return err
	}
	if closer != nil {
		defer closer.Close()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	ids := chatIDs
	if len(ids) == 0 {
		convs, err := db.ListConversations(ctx)
		if err != nil {
			return fmt.Errorf("failed to list conversations: %w", err)
		}
		for _, c := range convs {
			ids = append(ids, c.ID)
		}
	}

	messages := services.NewMessageService(db, services.NewConversationService(db), keys, services.MessageConfig{MaxLength: cfg.MaxMessageLength})
	total := 0
	for _, id := range ids {
		n, err := messages.MigrateLegacy(ctx, id)
		if err != nil {
			return fmt.Errorf("conversation %s: %w", id, err)
		}
		if n > 0 {
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %d messages\n", id, n)
		}
		total += n
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Rekeyed %d messages in %d conversations\n", total, len(ids))
	return nil
}

func openBackend(cfg *config.Config) (store.Backend, io.Closer, error) {
	if cfg.UseSupabase() {
		return supabase.NewClient(cfg), nil, nil
	}
	db, err := sqlitestore.Open(cfg.SQLitePath, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open %s: %w", cfg.SQLitePath, err)
	}
	return db, db, nil
}
