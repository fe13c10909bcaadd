package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"bufficorns/internal/game"

	"github.com/fatih/color"
	"github.com/mdp/qrterminal/v3"
)

var (
	stdinReader = bufio.NewReader(os.Stdin)
	accent      = color.New(color.FgCyan, color.Bold)
	success     = color.New(color.FgGreen, color.Bold)
	warn        = color.New(color.FgYellow, color.Bold)
	neutral     = color.New(color.FgHiWhite)
	gold        = color.New(color.FgYellow)
)

func printSuccess(msg string) {
	success.Println(msg)
}

func printWarn(msg string) {
	warn.Println(msg)
}

func printInfo(msg string) {
	neutral.Println(msg)
}

func promptRequired(label string) (string, error) {
	for {
		fmt.Printf("%s: ", label)
		text, err := stdinReader.ReadString('\n')
		if err != nil {
			return "", err
		}
		text = strings.TrimSpace(text)
		if text != "" {
			return text, nil
		}
		printWarn(label + " is required.")
	}
}

func renderPlayer(state game.PlayerState, now time.Time) {
	p := state.Player
	accent.Printf("\n== %s ==\n", strings.ToUpper(p.Username))
	fmt.Printf("Ranch:  %s\n", p.Ranch.Name)
	fmt.Printf("Points: %d %s\n", p.Points, medals(p.Medals))
	fmt.Println()
	fmt.Printf("%-4s %-14s %6s %6s %8s %6s %6s %7s\n", "IDX", "BUFFICORN", "VIGOR", "SPEED", "COOLNESS", "COAT", "INTEL", "SCORE")
	for _, b := range p.Ranch.Bufficorns {
		marker := " "
		if b.CreationIndex == p.SelectedBufficorn {
			marker = "*"
		}
		fmt.Printf("%-3d%s %-14s %6d %6d %8d %6d %6d %7d\n",
			b.CreationIndex, marker, truncate(b.Name, 14),
			b.Vigor, b.Speed, b.Coolness, b.Coat, b.Intelligence, b.Score())
	}
	fmt.Println()
	if state.TradeOut != nil {
		printInfo(fmt.Sprintf("Sending to %s, %s left.", state.TradeOut.To, game.FormatRemaining(state.TradeOut.Ends.Sub(now))))
	}
	if state.TradeIn != nil {
		printInfo(fmt.Sprintf("Receiving from %s, %s left.", state.TradeIn.From, game.FormatRemaining(state.TradeIn.Ends.Sub(now))))
	}
	if p.LastTradeOut != nil {
		fmt.Printf("Last trade out: %s\n", p.LastTradeOut.Local().Format("2006-01-02 15:04:05"))
	}
	if p.LastTradeIn != nil {
		fmt.Printf("Last trade in:  %s\n", p.LastTradeIn.Local().Format("2006-01-02 15:04:05"))
	}
}

func renderTrade(tr game.Trade) {
	printSuccess(fmt.Sprintf("Sent %d %s to %s (%s).", tr.Resource.Amount, tr.Resource.Trait, tr.To, tr.Bufficorn))
	if d := time.Until(tr.Ends); d > 0 {
		printInfo(fmt.Sprintf("Cooldown with %s ends in %s.", tr.To, game.FormatRemaining(d)))
	}
}

func renderHistory(h game.TradeHistory, me string) {
	accent.Printf("\n== TRADES (%d total) ==\n", h.Total)
	if len(h.Trades) == 0 {
		printInfo("No trades yet.")
		return
	}
	fmt.Printf("%-19s %-4s %-16s %-14s %-13s %6s\n", "WHEN", "DIR", "PLAYER", "BUFFICORN", "TRAIT", "AMOUNT")
	for _, tr := range h.Trades {
		dir, other := "out", tr.To
		if tr.To == me {
			dir, other = "in", tr.From
		}
		fmt.Printf("%-19s %-4s %-16s %-14s %-13s %6d\n",
			tr.Timestamp.Local().Format("2006-01-02 15:04:05"),
			dir,
			truncate(other, 16),
			truncate(tr.Bufficorn, 14),
			tr.Resource.Trait,
			tr.Resource.Amount,
		)
	}
	fmt.Println()
}

func renderLeaderboard(lb game.Leaderboard) {
	accent.Println("\n== PLAYERS ==")
	fmt.Printf("%-6s %-18s %-22s %8s\n", "RANK", "PLAYER", "RANCH", "POINTS")
	for _, row := range lb.Players {
		fmt.Printf("%-6d %-18s %-22s %8d %s\n", row.Rank, truncate(row.Username, 18), truncate(row.Ranch, 22), row.Points, medals(row.Medals))
	}
	accent.Println("\n== BUFFICORNS ==")
	fmt.Printf("%-6s %-14s %-22s %8s\n", "RANK", "BUFFICORN", "RANCH", "SCORE")
	for _, row := range lb.Bufficorns {
		fmt.Printf("%-6d %-14s %-22s %8d %s\n", row.Rank, truncate(row.Name, 14), truncate(row.Ranch, 22), row.Score, medals(row.Medals))
	}
	accent.Println("\n== RANCHES ==")
	fmt.Printf("%-6s %-22s %8s\n", "RANK", "RANCH", "SCORE")
	for _, row := range lb.Ranches {
		fmt.Printf("%-6d %-22s %8d\n", row.Rank, truncate(row.Name, 22), row.Score)
	}
	fmt.Println()
}

func renderCard(w io.Writer, title, key string) {
	if title != "" {
		accent.Fprintf(w, "\n== %s ==\n", title)
	}
	qrterminal.GenerateHalfBlock(key, qrterminal.M, w)
	fmt.Fprintln(w, key)
}

func medals(m []string) string {
	if len(m) == 0 {
		return ""
	}
	return gold.Sprint("[" + strings.Join(m, ",") + "]")
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if n <= 0 || len(s) <= n {
		return s
	}
	if n <= 3 {
		return s[:n]
	}
	return s[:n-3] + "..."
}
