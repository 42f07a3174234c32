package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

type cli struct {
	profilePath string
	endpoint    string
	output      string

	profile Profile
	client  *apiClient
	stdout  io.Writer
}

func main() {
	if err := newRootCmd(os.Stdout).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newRootCmd(stdout io.Writer) *cobra.Command {
	c := &cli{}
	root := &cobra.Command{
		Use:           "staking-cli",
		Short:         "Operate the RWA staking ledger",
		Long:          `Command line client for stakingd: stake assets, claim rewards and administer the reward schedule.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return c.setup(cmd)
		},
	}
	root.SetOut(stdout)
	root.PersistentFlags().StringVar(&c.profilePath, "profile", defaultProfilePath(), "path to the YAML profile")
	root.PersistentFlags().StringVar(&c.endpoint, "endpoint", "", "stakingd base URL (overrides the profile)")
	root.PersistentFlags().StringVarP(&c.output, "output", "o", "", "output format: json or yaml")

	root.AddCommand(
		c.positionActionCmd("stake", "Lock an asset and start accruing rewards"),
		c.positionActionCmd("unstake", "Stop accruing and release the asset"),
		c.positionActionCmd("claim", "Pay out accrued rewards"),
		c.positionActionCmd("checkpoint", "Settle accrual without paying out"),
		c.positionCmd(),
		c.pendingCmd(),
		c.positionsCmd(),
		c.getCmd("rates", "List reward rate epochs", "/v1/rates"),
		c.getCmd("pool", "Show the reward pool balance", "/v1/pool"),
		c.getCmd("totals", "Show ledger totals", "/v1/totals"),
		c.getCmd("contract", "Show contract metadata", "/v1/contract"),
		c.balanceCmd(),
		c.adminCmd(),
		c.receiptsCmd(),
		c.tokenCmd(),
	)
	return root
}

func (c *cli) setup(cmd *cobra.Command) error {
	profile, err := loadProfile(c.profilePath)
	if err != nil {
		return err
	}
	if c.endpoint != "" {
		profile.Endpoint = c.endpoint
	}
	if c.output != "" {
		profile.Output = strings.ToLower(c.output)
	}
	if err := profile.validate(); err != nil {
		return err
	}
	c.profile = profile
	c.stdout = cmd.OutOrStdout()
	c.client, err = newAPIClient(profile)
	return err
}

func (c *cli) request(ctx context.Context, method, path string, body interface{}) error {
	raw, err := c.client.call(ctx, method, path, body)
	if err != nil {
		return err
	}
	return printResult(c.stdout, c.profile.Output, raw)
}
