package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/spf13/cobra"
)

type options struct {
	api string
	key string
}

func (o *options) client() (*client, error) {
	return newClient(o.api, o.key)
}

func newRootCommand(out io.Writer) *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:           "bridgectl",
		Short:         "Operate a native-asset bridge node over its HTTP API",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(out)
	root.PersistentFlags().StringVar(&opts.api, "api", envOr("BRIDGE_API", "http://127.0.0.1:8080"), "bridge HTTP API base URL")
	root.PersistentFlags().StringVar(&opts.key, "key", os.Getenv("BRIDGE_KEY"), "hex private key that signs commands")

	root.AddCommand(
		getCommand(opts, "state", "Show engine state", "/v1/state"),
		getCommand(opts, "price", "Show the latest oracle price", "/v1/price"),
		getCommand(opts, "insurance", "Show insurance valuation and safe bridgeable amount", "/v1/insurance"),
		getCommand(opts, "pending", "List transfers inside the finality window", "/v1/pending"),
		accountCommand(opts),
		transferCommand(opts),
		reorgsCommand(opts),
		amountCommand(opts, "withdraw", "Burn shares for liquidity", "/v1/liquidity/withdraw", "shares"),
		postCommand(opts, "claim", "Claim pending fees", "/v1/fees/claim"),
		postCommand(opts, "sweep", "Release matured pending transfers", "/v1/finality/sweep"),
		adminCommand(opts),
	)
	return root
}

func getCommand(opts *options, use, short, path string) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return printResult(cmd, func() (json.RawMessage, error) {
				return get(cmd, opts, path)
			})
		},
	}
}

func postCommand(opts *options, use, short, path string) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return printResult(cmd, func() (json.RawMessage, error) {
				return post(cmd, opts, path, struct{}{})
			})
		},
	}
}

func amountCommand(opts *options, use, short, path, field string) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <" + field + ">",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return printResult(cmd, func() (json.RawMessage, error) {
				return post(cmd, opts, path, map[string]string{field: args[0]})
			})
		},
	}
}

func accountCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "account <address>",
		Short: "Show shares and fees of a liquidity provider",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return printResult(cmd, func() (json.RawMessage, error) {
				return get(cmd, opts, "/v1/accounts/"+args[0])
			})
		},
	}
}

func transferCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "transfer <outbound|inbound> <chain> <id>",
		Short: "Show a recorded transfer",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := strconv.ParseUint(args[1], 10, 32); err != nil {
				return fmt.Errorf("invalid chain %q", args[1])
			}
			if _, err := strconv.ParseUint(args[2], 10, 64); err != nil {
				return fmt.Errorf("invalid transfer id %q", args[2])
			}
			path := fmt.Sprintf("/v1/transfers/%s/%s/%s", args[0], args[1], args[2])
			return printResult(cmd, func() (json.RawMessage, error) {
				return get(cmd, opts, path)
			})
		},
	}
}

func reorgsCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "reorgs <origin>",
		Short: "List displaced inbound transfers from an origin",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := strconv.ParseUint(args[0], 10, 32); err != nil {
				return fmt.Errorf("invalid origin %q", args[0])
			}
			return printResult(cmd, func() (json.RawMessage, error) {
				return get(cmd, opts, "/v1/reorgs/"+args[0])
			})
		},
	}
}

func adminCommand(opts *options) *cobra.Command {
	admin := &cobra.Command{
		Use:   "admin",
		Short: "Owner-only configuration",
	}
	admin.AddCommand(
		&cobra.Command{
			Use:   "set-transport <address>",
			Short: "Register the message transport",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return printResult(cmd, func() (json.RawMessage, error) {
					return post(cmd, opts, "/v1/admin/transport", map[string]string{"address": args[0]})
				})
			},
		},
		&cobra.Command{
			Use:   "set-counterpart <domain> <address>",
			Short: "Register the counterpart bridge",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				domain, err := strconv.ParseUint(args[0], 10, 32)
				if err != nil {
					return fmt.Errorf("invalid domain %q", args[0])
				}
				body := map[string]any{"domain": domain, "address": args[1]}
				return printResult(cmd, func() (json.RawMessage, error) {
					return post(cmd, opts, "/v1/admin/counterpart", body)
				})
			},
		},
		&cobra.Command{
			Use:   "exempt <origin> <height>",
			Short: "Exempt an origin height from reorg compensation",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				origin, err := strconv.ParseUint(args[0], 10, 32)
				if err != nil {
					return fmt.Errorf("invalid origin %q", args[0])
				}
				height, err := strconv.ParseUint(args[1], 10, 64)
				if err != nil {
					return fmt.Errorf("invalid height %q", args[1])
				}
				body := map[string]any{"origin": origin, "height": height}
				return printResult(cmd, func() (json.RawMessage, error) {
					return post(cmd, opts, "/v1/admin/exemptions", body)
				})
			},
		},
		&cobra.Command{
			Use:   "transfer-ownership <address>",
			Short: "Hand the owner role to another address",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return printResult(cmd, func() (json.RawMessage, error) {
					return post(cmd, opts, "/v1/admin/owner", map[string]string{"address": args[0]})
				})
			},
		},
	)
	return admin
}

func get(cmd *cobra.Command, opts *options, path string) (json.RawMessage, error) {
	c, err := opts.client()
	if err != nil {
		return nil, err
	}
	return c.get(cmd.Context(), path)
}

func post(cmd *cobra.Command, opts *options, path string, body any) (json.RawMessage, error) {
	c, err := opts.client()
	if err != nil {
		return nil, err
	}
	return c.post(cmd.Context(), path, body)
}

func printResult(cmd *cobra.Command, call func() (json.RawMessage, error)) error {
	raw, err := call()
	if err != nil {
		return err
	}
	var pretty bytes.Buffer
	if err := json.Indent(&pretty, raw, "", "  "); err != nil {
		_, err = cmd.OutOrStdout().Write(raw)
		return err
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), pretty.String())
	return err
}

func envOr(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}
