package main

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"rwastaking/cmd/internal/secret"
	"rwastaking/config"
	"rwastaking/crypto"
	"rwastaking/gateway/middleware"
	"rwastaking/native/staking"
)

func (c *cli) positionActionCmd(action, short string) *cobra.Command {
	return &cobra.Command{
		Use:   action + " <asset-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.request(cmd.Context(), http.MethodPost, "/v1/positions/"+url.PathEscape(args[0])+"/"+action, nil)
		},
	}
}

func (c *cli) positionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "position <asset-id>",
		Short: "Show a staking position",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.request(cmd.Context(), http.MethodGet, "/v1/positions/"+url.PathEscape(args[0]), nil)
		},
	}
}

func (c *cli) pendingCmd() *cobra.Command {
	var at uint64
	cmd := &cobra.Command{
		Use:   "pending <asset-id>",
		Short: "Preview the reward a claim would pay",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "/v1/positions/" + url.PathEscape(args[0]) + "/pending"
			if cmd.Flags().Changed("at") {
				path += "?at=" + strconv.FormatUint(at, 10)
			}
			return c.request(cmd.Context(), http.MethodGet, path, nil)
		},
	}
	cmd.Flags().Uint64Var(&at, "at", 0, "logical time to settle at (defaults to now)")
	return cmd
}

func (c *cli) positionsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "positions <owner>",
		Short: "List positions held by an owner",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := crypto.ParseAddress(args[0]); err != nil {
				return err
			}
			return c.request(cmd.Context(), http.MethodGet, "/v1/owners/"+args[0]+"/positions", nil)
		},
	}
}

func (c *cli) getCmd(use, short, path string) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.request(cmd.Context(), http.MethodGet, path, nil)
		},
	}
}

func (c *cli) balanceCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "balance <account>",
		Short: "Show the reward token balance of an account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := crypto.ParseAddress(args[0]); err != nil {
				return err
			}
			return c.request(cmd.Context(), http.MethodGet, "/v1/accounts/"+args[0]+"/balance", nil)
		},
	}
}

func (c *cli) adminCmd() *cobra.Command {
	admin := &cobra.Command{
		Use:   "admin",
		Short: "Administrative operations (admin token required)",
	}

	var rate, perDay string
	var effectiveFrom uint64
	setRate := &cobra.Command{
		Use:   "set-rate",
		Short: "Append a reward rate epoch",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var from *uint64
			if cmd.Flags().Changed("effective-from") {
				from = &effectiveFrom
			}
			body, err := rateRequestBody(rate, perDay, from)
			if err != nil {
				return err
			}
			return c.request(cmd.Context(), http.MethodPost, "/v1/admin/rates", body)
		},
	}
	setRate.Flags().StringVar(&rate, "rate", "", "reward per asset per second, as a decimal")
	setRate.Flags().StringVar(&perDay, "per-day", "", "reward per asset per day, as a decimal")
	setRate.Flags().Uint64Var(&effectiveFrom, "effective-from", 0, "logical time the rate takes effect (defaults to now)")

	var amount string
	fund := &cobra.Command{
		Use:   "fund",
		Short: "Deposit reward tokens into the pool",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.request(cmd.Context(), http.MethodPost, "/v1/admin/pool/fund", map[string]string{"amount": amount})
		},
	}
	fund.Flags().StringVar(&amount, "amount", "", "amount in base units")
	_ = fund.MarkFlagRequired("amount")

	var assetID, collection, owner, uri string
	mintAsset := &cobra.Command{
		Use:   "mint-asset",
		Short: "Register an asset in the registry",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.request(cmd.Context(), http.MethodPost, "/v1/admin/assets", map[string]string{
				"id":         assetID,
				"collection": collection,
				"owner":      owner,
				"uri":        uri,
			})
		},
	}
	mintAsset.Flags().StringVar(&assetID, "id", "", "asset identifier")
	mintAsset.Flags().StringVar(&collection, "collection", "", "collection name")
	mintAsset.Flags().StringVar(&owner, "owner", "", "initial owner address")
	mintAsset.Flags().StringVar(&uri, "uri", "", "metadata URI")
	_ = mintAsset.MarkFlagRequired("id")
	_ = mintAsset.MarkFlagRequired("owner")

	var account, mintAmount string
	mintTokens := &cobra.Command{
		Use:   "mint-tokens",
		Short: "Mint reward tokens to an account",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.request(cmd.Context(), http.MethodPost, "/v1/admin/tokens/mint", map[string]string{
				"account": account,
				"amount":  mintAmount,
			})
		},
	}
	mintTokens.Flags().StringVar(&account, "account", "", "recipient address")
	mintTokens.Flags().StringVar(&mintAmount, "amount", "", "amount in base units")
	_ = mintTokens.MarkFlagRequired("account")
	_ = mintTokens.MarkFlagRequired("amount")

	pause := &cobra.Command{
		Use:   "pause",
		Short: "Pause staking mutations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.request(cmd.Context(), http.MethodPost, "/v1/admin/pause", map[string]bool{"paused": true})
		},
	}
	resume := &cobra.Command{
		Use:   "resume",
		Short: "Resume staking mutations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.request(cmd.Context(), http.MethodPost, "/v1/admin/pause", map[string]bool{"paused": false})
		},
	}

	admin.AddCommand(setRate, fund, mintAsset, mintTokens, pause, resume)
	return admin
}

// rateRequestBody validates the rate flags locally before they reach the daemon.
func rateRequestBody(rate, perDay string, effectiveFrom *uint64) (map[string]interface{}, error) {
	body := make(map[string]interface{})
	switch {
	case rate != "" && perDay != "":
		return nil, errors.New("use either --rate or --per-day")
	case rate != "":
		if _, err := staking.ParseRate(rate); err != nil {
			return nil, err
		}
		body["rate"] = rate
	case perDay != "":
		if _, err := staking.ParseRate(perDay); err != nil {
			return nil, err
		}
		body["ratePerDay"] = perDay
	default:
		return nil, errors.New("one of --rate or --per-day is required")
	}
	if effectiveFrom != nil {
		body["effectiveFrom"] = *effectiveFrom
	}
	return body, nil
}

type receiptFlags struct {
	kind, asset, account string
	from, to             uint64
	limit                int
}

func (f *receiptFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.kind, "kind", "", "claim or fund")
	cmd.Flags().StringVar(&f.asset, "asset", "", "asset identifier")
	cmd.Flags().StringVar(&f.account, "account", "", "account address (admins only for other accounts)")
	cmd.Flags().Uint64Var(&f.from, "from", 0, "earliest ledger time")
	cmd.Flags().Uint64Var(&f.to, "to", 0, "latest ledger time")
	cmd.Flags().IntVar(&f.limit, "limit", 0, "maximum rows")
}

func (f *receiptFlags) query() url.Values {
	q := url.Values{}
	set := func(key, value string) {
		if value != "" {
			q.Set(key, value)
		}
	}
	set("kind", f.kind)
	set("asset", f.asset)
	set("account", f.account)
	if f.from > 0 {
		q.Set("from", strconv.FormatUint(f.from, 10))
	}
	if f.to > 0 {
		q.Set("to", strconv.FormatUint(f.to, 10))
	}
	if f.limit > 0 {
		q.Set("limit", strconv.Itoa(f.limit))
	}
	return q
}

func (c *cli) receiptsCmd() *cobra.Command {
	receipts := &cobra.Command{
		Use:   "receipts",
		Short: "Inspect the claim and funding journal",
	}

	var listFlags receiptFlags
	list := &cobra.Command{
		Use:   "list",
		Short: "List receipts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.request(cmd.Context(), http.MethodGet, "/v1/receipts?"+listFlags.query().Encode(), nil)
		},
	}
	listFlags.register(list)

	var exportFlags receiptFlags
	var format, out string
	export := &cobra.Command{
		Use:   "export",
		Short: "Export receipts as csv, jsonl or parquet",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			q := exportFlags.query()
			q.Set("format", format)
			data, err := c.client.call(cmd.Context(), http.MethodGet, "/v1/receipts/export?"+q.Encode(), nil)
			if err != nil {
				return err
			}
			if out == "" || out == "-" {
				_, err = c.stdout.Write(data)
				return err
			}
			if err := os.WriteFile(out, data, 0o644); err != nil {
				return err
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "wrote %d bytes to %s\n", len(data), out)
			return nil
		},
	}
	exportFlags.register(export)
	export.Flags().StringVar(&format, "format", "csv", "csv, jsonl or parquet")
	export.Flags().StringVar(&out, "out", "", "destination file (stdout when empty)")

	receipts.AddCommand(list, export)
	return receipts
}

func (c *cli) tokenCmd() *cobra.Command {
	var subject string
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a bearer token for an account from the daemon's signing secret",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			addr, err := crypto.ParseAddress(subject)
			if err != nil {
				return err
			}
			key, err := secret.NewSource(config.EnvJWTSecret, "JWT signing secret").Get()
			if err != nil {
				return err
			}
			token, err := middleware.IssueToken([]byte(strings.TrimSpace(key)), c.profile.Issuer, c.profile.Audience, addr, ttl)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(c.stdout, token)
			return err
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "", "account address the token authenticates")
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "token lifetime")
	_ = cmd.MarkFlagRequired("subject")
	return cmd
}
