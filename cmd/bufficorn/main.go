package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	cl "bufficorns/internal/cli"
	"bufficorns/internal/config"
	"bufficorns/internal/game"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

func main() {
	if !term.IsTerminal(int(os.Stdout.Fd())) {
		color.NoColor = true
	}
	cfg := config.LoadCLIFromEnv()
	apiBase := cfg.APIBaseURL

	root := &cobra.Command{
		Use:          "bufficorn",
		Short:        "Bufficorn trading game client",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&apiBase, "api", apiBase, "API base URL")

	root.AddCommand(
		newClaimCmd(&apiBase),
		newLogoutCmd(),
		newPlayerCmd(&apiBase),
		newSelectCmd(&apiBase),
		newTradeCmd(&apiBase),
		newHistoryCmd(&apiBase),
		newLeaderboardCmd(&apiBase),
		newQRCmd(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newClient(apiBase *string) *cl.Client {
	return cl.NewClient(strings.TrimRight(strings.TrimSpace(*apiBase), "/"))
}

func requestContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return context.WithTimeout(cmd.Context(), 30*time.Second)
}

func newClaimCmd(apiBase *string) *cobra.Command {
	var username string
	cmd := &cobra.Command{
		Use:   "claim [key]",
		Short: "Claim a player with the key printed on its card",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			key := ""
			if len(args) == 1 {
				key = strings.TrimSpace(args[0])
			}
			if key == "" {
				var err error
				if key, err = promptRequired("Player key"); err != nil {
					return err
				}
			}
			ctx, cancel := requestContext(cmd)
			defer cancel()
			res, err := newClient(apiBase).Claim(ctx, key, strings.TrimSpace(username))
			if err != nil {
				return err
			}
			if err := cl.SaveSession(cl.Session{Key: res.Key, Username: res.Username, Token: res.Token}); err != nil {
				return err
			}
			printSuccess(fmt.Sprintf("Claimed %s. Session saved.", res.Username))
			return nil
		},
	}
	cmd.Flags().StringVar(&username, "username", "", "pick a username instead of the generated one")
	return cmd
}

func newLogoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Clear the local player session",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cl.ClearSession(); err != nil {
				return err
			}
			printSuccess("Logged out.")
			return nil
		},
	}
}

func newPlayerCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "player",
		Short: "Show your player, ranch and active trades",
		RunE: func(cmd *cobra.Command, args []string) error {
			session, err := cl.LoadSession()
			if err != nil {
				return err
			}
			ctx, cancel := requestContext(cmd)
			defer cancel()
			state, err := newClient(apiBase).Player(ctx, session.Token, session.Key)
			if err != nil {
				return err
			}
			renderPlayer(state, time.Now())
			return nil
		},
	}
}

func newSelectCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "select <creation-index>",
		Short: "Choose which bufficorn of your ranch receives trades",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			idx, err := strconv.Atoi(strings.TrimSpace(args[0]))
			if err != nil {
				return fmt.Errorf("creation index must be a whole number")
			}
			session, err := cl.LoadSession()
			if err != nil {
				return err
			}
			ctx, cancel := requestContext(cmd)
			defer cancel()
			b, err := newClient(apiBase).SelectBufficorn(ctx, session.Token, idx)
			if err != nil {
				return err
			}
			printSuccess(fmt.Sprintf("%s now receives your incoming trades.", b.Name))
			return nil
		},
	}
}

func newTradeCmd(apiBase *string) *cobra.Command {
	var skipCooldown bool
	cmd := &cobra.Command{
		Use:   "trade <player-key>",
		Short: "Send a resource to another player's selected bufficorn",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			session, err := cl.LoadSession()
			if err != nil {
				return err
			}
			var cooldown *int64
			if skipCooldown {
				zero := int64(0)
				cooldown = &zero
			}
			ctx, cancel := requestContext(cmd)
			defer cancel()
			tr, err := newClient(apiBase).Trade(ctx, session.Token, strings.TrimSpace(args[0]), cooldown)
			var apiErr *cl.APIError
			if errors.As(err, &apiErr) && apiErr.RemainingMillis > 0 {
				printWarn(fmt.Sprintf("Cooldown: try again in %s.", game.FormatRemaining(time.Duration(apiErr.RemainingMillis)*time.Millisecond)))
				return nil
			}
			if err != nil {
				return err
			}
			renderTrade(tr)
			return nil
		},
	}
	cmd.Flags().BoolVar(&skipCooldown, "no-cooldown", false, "request a zero cooldown (test deployments only)")
	return cmd
}

func newHistoryCmd(apiBase *string) *cobra.Command {
	var limit, offset int
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List your recent trades",
		RunE: func(cmd *cobra.Command, args []string) error {
			session, err := cl.LoadSession()
			if err != nil {
				return err
			}
			ctx, cancel := requestContext(cmd)
			defer cancel()
			h, err := newClient(apiBase).TradeHistory(ctx, session.Token, limit, offset)
			if err != nil {
				return err
			}
			renderHistory(h, session.Username)
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", game.DefaultHistoryLimit, "page size")
	cmd.Flags().IntVar(&offset, "offset", 0, "rows to skip")
	return cmd
}

func newLeaderboardCmd(apiBase *string) *cobra.Command {
	var resource string
	var limit, offset int
	cmd := &cobra.Command{
		Use:   "leaderboard",
		Short: "Show player, bufficorn and ranch rankings",
		RunE: func(cmd *cobra.Command, args []string) error {
			var trait game.Trait
			if strings.TrimSpace(resource) != "" {
				var err error
				if trait, err = game.ParseTrait(resource); err != nil {
					return err
				}
			}
			ctx, cancel := requestContext(cmd)
			defer cancel()
			lb, err := newClient(apiBase).Leaderboard(ctx, trait, limit, offset)
			if err != nil {
				return err
			}
			renderLeaderboard(lb)
			return nil
		},
	}
	cmd.Flags().StringVar(&resource, "resource", "", "rank bufficorns by one trait")
	cmd.Flags().IntVar(&limit, "limit", 10, "rows per board")
	cmd.Flags().IntVar(&offset, "offset", 0, "rows to skip")
	return cmd
}

func newQRCmd() *cobra.Command {
	var seeded int
	cmd := &cobra.Command{
		Use:   "qr [key]",
		Short: "Print a player key as a QR code",
		Long:  "Print a player key as a QR code. With --seeded N, print the cards of the first N seeded players.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			if seeded > 0 {
				for i := 0; i < seeded; i++ {
					renderCard(out, fmt.Sprintf("player%03d", i), game.PlayerKey(i))
				}
				return nil
			}
			if len(args) == 1 {
				renderCard(out, "", strings.TrimSpace(args[0]))
				return nil
			}
			session, err := cl.LoadSession()
			if err != nil {
				return err
			}
			renderCard(out, session.Username, session.Key)
			return nil
		},
	}
	cmd.Flags().IntVar(&seeded, "seeded", 0, "print cards for the first N seeded players")
	return cmd
}
