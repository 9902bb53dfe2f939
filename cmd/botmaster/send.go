package main

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"botmaster/internal/config"
	"botmaster/internal/messenger/telegram"
)

func newSendCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "send <message>",
		Short: "Send a message to the operator's Telegram chat",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if cfg.Telegram.BotToken == "" || cfg.Telegram.ChatID == "" {
				return errors.New("BM_TELEGRAM_BOT_TOKEN and BM_TELEGRAM_CHAT_ID must be set")
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()

			client := telegram.NewClient(cfg.Telegram.BotToken, cfg.Telegram.ChatID)
			_, err = client.SendMessage(ctx, cfg.Telegram.ChatID, strings.Join(args, " "))
			return err
		},
	}
}
