package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"lendcore/cmd/internal/token"
	"lendcore/services/lending/client"
)

const (
	defaultAPI      = "http://127.0.0.1:9444"
	defaultTokenEnv = "LENDCTL_TOKEN"
)

type command struct {
	summary string
	auth    bool
	run     func(ctx context.Context, c *client.Client, args []string, stdout io.Writer) error
}

var commands = map[string]command{
	"markets":           {summary: "List every market", run: runMarkets},
	"market":            {summary: "Show one market", run: runMarket},
	"position":          {summary: "Show an account position", run: runPosition},
	"liquidatable":      {summary: "List liquidatable accounts of a market", run: runLiquidatable},
	"balances":          {summary: "List ledger balances of an account", run: runBalances},
	"events":            {summary: "Page through persisted events", run: runEvents},
	"accrue":            {summary: "Accrue interest on a market", run: runAccrue},
	"update-rate":       {summary: "Refresh the cached exchange rate", run: runUpdateRate},
	"deposit":           {summary: "Deposit wallet tokens into the ledger", auth: true, run: runDeposit},
	"withdraw":          {summary: "Withdraw ledger shares to the wallet", auth: true, run: runWithdraw},
	"approve":           {summary: "Approve or revoke a ledger operator", auth: true, run: runApprove},
	"add-collateral":    {summary: "Add collateral shares", auth: true, run: runAddCollateral},
	"remove-collateral": {summary: "Remove collateral shares", auth: true, run: runRemoveCollateral},
	"borrow":            {summary: "Borrow the market asset", auth: true, run: runBorrow},
	"repay":             {summary: "Repay debt", auth: true, run: runRepay},
	"lend":              {summary: "Add asset shares to the lending pool", auth: true, run: runLend},
	"redeem":            {summary: "Burn a lending fraction for asset shares", auth: true, run: runRedeem},
	"liquidate":         {summary: "Liquidate insolvent accounts", auth: true, run: runLiquidate},
	"withdraw-fees":     {summary: "Sweep protocol fees to the treasury", auth: true, run: runWithdrawFees},
	"bid":               {summary: "Place a liquidation queue bid", auth: true, run: runBid},
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("lendctl", flag.ContinueOnError)
	fs.SetOutput(stderr)
	api := fs.String("api", envOr("LENDCTL_API", defaultAPI), "lending API base URL")
	tokenEnv := fs.String("token-env", defaultTokenEnv, "environment variable holding the API token")
	timeout := fs.Duration("timeout", 15*time.Second, "request timeout")
	fs.Usage = func() { fmt.Fprintln(stderr, usage()) }
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if fs.NArg() == 0 {
		fmt.Fprintln(stderr, usage())
		return 1
	}
	name := fs.Arg(0)
	cmd, ok := commands[name]
	if !ok {
		fmt.Fprintf(stderr, "Unknown command: %s\n", name)
		fmt.Fprintln(stderr, usage())
		return 1
	}

	src := token.NewSource(*tokenEnv)
	opts := []client.Option{}
	if cmd.auth {
		tok, err := src.Get()
		if err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
		opts = append(opts, client.WithToken(tok))
	} else if tok, ok := src.Lookup(); ok {
		opts = append(opts, client.WithToken(tok))
	}
	c, err := client.New(*api, opts...)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()
	if err := cmd.run(ctx, c, fs.Args()[1:], stdout); err != nil {
		var apiErr *client.APIError
		if errors.As(err, &apiErr) {
			fmt.Fprintf(stderr, "Error: %s (%s, status %d)\n", apiErr.Message, apiErr.Code, apiErr.Status)
		} else {
			fmt.Fprintf(stderr, "Error: %v\n", err)
		}
		return 1
	}
	return 0
}

func usage() string {
	names := make([]string, 0, len(commands))
	for name := range commands {
		names = append(names, name)
	}
	sort.Strings(names)
	var b strings.Builder
	b.WriteString("Usage:\n  lendctl [--api URL] [--token-env VAR] <command> [flags]\n\nCommands:\n")
	for _, name := range names {
		fmt.Fprintf(&b, "  %-18s %s\n", name, commands[name].summary)
	}
	return strings.TrimRight(b.String(), "\n")
}

func envOr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
