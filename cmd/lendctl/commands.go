package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"strings"

	"lendcore/services/lending/client"
	"lendcore/services/lending/engine"
)

// parse runs fs over args and checks that every named flag is set.
func parse(fs *flag.FlagSet, args []string, required ...string) error {
	fs.SetOutput(io.Discard)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() > 0 {
		return fmt.Errorf("unexpected positional arguments")
	}
	for _, name := range required {
		f := fs.Lookup(name)
		if f == nil || strings.TrimSpace(f.Value.String()) == "" {
			return fmt.Errorf("--%s is required", name)
		}
	}
	return nil
}

func runMarkets(ctx context.Context, c *client.Client, args []string, out io.Writer) error {
	if err := parse(flag.NewFlagSet("markets", flag.ContinueOnError), args); err != nil {
		return err
	}
	markets, err := c.Markets(ctx)
	if err != nil {
		return err
	}
	return printJSON(out, markets)
}

func runMarket(ctx context.Context, c *client.Client, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("market", flag.ContinueOnError)
	market := fs.String("market", "", "market address")
	if err := parse(fs, args, "market"); err != nil {
		return err
	}
	view, err := c.Market(ctx, *market)
	if err != nil {
		return err
	}
	return printJSON(out, view)
}

func runPosition(ctx context.Context, c *client.Client, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("position", flag.ContinueOnError)
	market := fs.String("market", "", "market address")
	account := fs.String("account", "", "account address")
	if err := parse(fs, args, "market", "account"); err != nil {
		return err
	}
	view, err := c.Position(ctx, *market, *account)
	if err != nil {
		return err
	}
	return printJSON(out, view)
}

func runLiquidatable(ctx context.Context, c *client.Client, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("liquidatable", flag.ContinueOnError)
	market := fs.String("market", "", "market address")
	if err := parse(fs, args, "market"); err != nil {
		return err
	}
	accounts, err := c.Liquidatable(ctx, *market)
	if err != nil {
		return err
	}
	return printJSON(out, accounts)
}

func runBalances(ctx context.Context, c *client.Client, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("balances", flag.ContinueOnError)
	account := fs.String("account", "", "account address")
	if err := parse(fs, args, "account"); err != nil {
		return err
	}
	balances, err := c.Balances(ctx, *account)
	if err != nil {
		return err
	}
	return printJSON(out, balances)
}

func runEvents(ctx context.Context, c *client.Client, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("events", flag.ContinueOnError)
	var q client.EventQuery
	fs.StringVar(&q.Type, "type", "", "event type; a trailing dot matches a family")
	fs.StringVar(&q.Market, "market", "", "market address")
	fs.StringVar(&q.Account, "account", "", "account address")
	fs.Uint64Var(&q.After, "after", 0, "return events after this id")
	fs.IntVar(&q.Limit, "limit", 0, "page size")
	if err := parse(fs, args); err != nil {
		return err
	}
	page, err := c.Events(ctx, q)
	if err != nil {
		return err
	}
	return printJSON(out, page)
}

func runAccrue(ctx context.Context, c *client.Client, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("accrue", flag.ContinueOnError)
	market := fs.String("market", "", "market address")
	if err := parse(fs, args, "market"); err != nil {
		return err
	}
	view, err := c.Accrue(ctx, *market)
	if err != nil {
		return err
	}
	return printJSON(out, view)
}

func runUpdateRate(ctx context.Context, c *client.Client, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("update-rate", flag.ContinueOnError)
	market := fs.String("market", "", "market address")
	if err := parse(fs, args, "market"); err != nil {
		return err
	}
	view, err := c.UpdateExchangeRate(ctx, *market)
	if err != nil {
		return err
	}
	return printJSON(out, view)
}

func runDeposit(ctx context.Context, c *client.Client, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("deposit", flag.ContinueOnError)
	asset := fs.String("asset", "", "token symbol")
	amount := fs.String("amount", "", "wallet amount")
	if err := parse(fs, args, "asset", "amount"); err != nil {
		return err
	}
	view, err := c.Deposit(ctx, *asset, *amount)
	if err != nil {
		return err
	}
	return printJSON(out, view)
}

func runWithdraw(ctx context.Context, c *client.Client, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("withdraw", flag.ContinueOnError)
	asset := fs.String("asset", "", "token symbol")
	share := fs.String("share", "", "ledger share")
	if err := parse(fs, args, "asset", "share"); err != nil {
		return err
	}
	view, err := c.Withdraw(ctx, *asset, *share)
	if err != nil {
		return err
	}
	return printJSON(out, view)
}

func runApprove(ctx context.Context, c *client.Client, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("approve", flag.ContinueOnError)
	operator := fs.String("operator", "", "market or swapper address")
	revoke := fs.Bool("revoke", false, "revoke instead of approve")
	if err := parse(fs, args, "operator"); err != nil {
		return err
	}
	if err := c.Approve(ctx, *operator, !*revoke); err != nil {
		return err
	}
	return printJSON(out, map[string]interface{}{"operator": *operator, "approved": !*revoke})
}

func amountCommand(name, valueFlag string, call func(ctx context.Context, c *client.Client, market, to, value string) (interface{}, error)) func(context.Context, *client.Client, []string, io.Writer) error {
	return func(ctx context.Context, c *client.Client, args []string, out io.Writer) error {
		fs := flag.NewFlagSet(name, flag.ContinueOnError)
		market := fs.String("market", "", "market address")
		to := fs.String("to", "", "recipient, defaults to the caller")
		value := fs.String(valueFlag, "", valueFlag)
		if err := parse(fs, args, "market", valueFlag); err != nil {
			return err
		}
		result, err := call(ctx, c, *market, *to, *value)
		if err != nil {
			return err
		}
		return printJSON(out, result)
	}
}

var (
	runAddCollateral = amountCommand("add-collateral", "share", func(ctx context.Context, c *client.Client, market, to, v string) (interface{}, error) {
		return map[string]string{"share": v}, c.AddCollateral(ctx, market, to, v)
	})
	runRemoveCollateral = amountCommand("remove-collateral", "share", func(ctx context.Context, c *client.Client, market, to, v string) (interface{}, error) {
		return map[string]string{"share": v}, c.RemoveCollateral(ctx, market, to, v)
	})
	runBorrow = amountCommand("borrow", "amount", func(ctx context.Context, c *client.Client, market, to, v string) (interface{}, error) {
		return c.Borrow(ctx, market, to, v)
	})
	runLend = amountCommand("lend", "share", func(ctx context.Context, c *client.Client, market, to, v string) (interface{}, error) {
		fraction, err := c.AddAsset(ctx, market, to, v)
		return map[string]string{"fraction": fraction}, err
	})
	runRedeem = amountCommand("redeem", "fraction", func(ctx context.Context, c *client.Client, market, to, v string) (interface{}, error) {
		share, err := c.RemoveAsset(ctx, market, to, v)
		return map[string]string{"share": share}, err
	})
)

func runRepay(ctx context.Context, c *client.Client, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("repay", flag.ContinueOnError)
	market := fs.String("market", "", "market address")
	to := fs.String("to", "", "debtor, defaults to the caller")
	part := fs.String("part", "", "borrow part to repay")
	amount := fs.String("amount", "", "asset amount to repay")
	if err := parse(fs, args, "market"); err != nil {
		return err
	}
	if (*part == "") == (*amount == "") {
		return fmt.Errorf("exactly one of --part or --amount is required")
	}
	partPayment, value := true, *part
	if value == "" {
		partPayment, value = false, *amount
	}
	view, err := c.Repay(ctx, *market, *to, partPayment, value)
	if err != nil {
		return err
	}
	return printJSON(out, view)
}

func runLiquidate(ctx context.Context, c *client.Client, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("liquidate", flag.ContinueOnError)
	market := fs.String("market", "", "market address")
	accounts := fs.String("accounts", "", "comma separated accounts")
	parts := fs.String("max-parts", "", "comma separated borrow part caps, one per account")
	swapper := fs.String("swapper", "", "swapper address; empty pulls the asset from the caller")
	if err := parse(fs, args, "market", "accounts"); err != nil {
		return err
	}
	req := engine.LiquidateRequest{Accounts: splitList(*accounts), MaxBorrowParts: splitList(*parts), Swapper: *swapper}
	if len(req.MaxBorrowParts) > 0 && len(req.MaxBorrowParts) != len(req.Accounts) {
		return fmt.Errorf("--max-parts must match --accounts")
	}
	view, err := c.Liquidate(ctx, *market, req)
	if err != nil {
		return err
	}
	return printJSON(out, view)
}

func runWithdrawFees(ctx context.Context, c *client.Client, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("withdraw-fees", flag.ContinueOnError)
	markets := fs.String("markets", "", "comma separated markets, every market when empty")
	if err := parse(fs, args); err != nil {
		return err
	}
	fees, err := c.WithdrawFees(ctx, splitList(*markets)...)
	if err != nil {
		return err
	}
	return printJSON(out, fees)
}

func runBid(ctx context.Context, c *client.Client, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("bid", flag.ContinueOnError)
	queue := fs.String("queue", "", "liquidation queue address")
	pool := fs.Uint("pool", 0, "discount pool")
	share := fs.String("share", "", "asset share to bid")
	if err := parse(fs, args, "queue", "share"); err != nil {
		return err
	}
	view, err := c.PlaceBid(ctx, *queue, uint32(*pool), *share)
	if err != nil {
		return err
	}
	return printJSON(out, view)
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
