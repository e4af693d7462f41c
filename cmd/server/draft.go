package main

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/servicedesk_bot/backend/internal/config"
	"github.com/servicedesk_bot/backend/internal/draft"
	"github.com/servicedesk_bot/backend/internal/kv"
	"github.com/servicedesk_bot/backend/internal/throttle"
)

func newDraftCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "draft <chat_id>",
		Short: "Print the stored draft of a chat (server must be stopped)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			chatID, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("chat id: %w", err)
			}
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			catalog, err := config.NewCatalogHolder(cfg.CatalogPath)
			if err != nil {
				return err
			}
			store, err := kv.Open(cfg.DataDir)
			if err != nil {
				return fmt.Errorf("open %s: %w", cfg.DataDir, err)
			}
			defer store.Close()

			ctx := cmd.Context()
			drafts := draft.NewStore(store, catalog, zerolog.Nop())
			d, err := drafts.Read(ctx, chatID)
			if err != nil {
				return err
			}
			meta, err := drafts.Meta(ctx, chatID)
			if err != nil {
				return err
			}
			ban, banned, err := throttle.New(store, zerolog.Nop()).IsBanned(ctx, chatID)
			if err != nil {
				return err
			}
			out := map[string]any{"draft": d, "meta": meta}
			if banned {
				out["ban"] = ban
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(out)
		},
	}
}
