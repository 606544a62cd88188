package main

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"os"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/0xredeth/doneth/pkg/campaign"
	"github.com/0xredeth/doneth/pkg/config"
	"github.com/0xredeth/doneth/pkg/contracts"
)

const txTimeout = 5 * time.Minute

var (
	txBeneficiary      string
	txGoal             string
	txDeadline         string
	txDuration         time.Duration
	txWithdrawalPeriod time.Duration
	txName             string
	txValue            string
	txOnBehalfOf       string
)

// txCmd groups the campaign transaction commands
var txCmd = &cobra.Command{
	Use:   "tx",
	Short: "Submit campaign transactions",
	Long: `Submit signed transactions to the factory and its campaigns.

The signing key is read from WALLET_PRIVATE_KEY (hex, with or without 0x).
Amounts are in wei.`,
}

var txCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a campaign through the factory",
	RunE:  runTxCreate,
}

var txContributeCmd = &cobra.Command{
	Use:   "contribute <campaign>",
	Short: "Contribute to a campaign",
	Args:  cobra.ExactArgs(1),
	RunE: campaignTx(func(c *contracts.Campaign, opts *bind.TransactOpts) (*types.Transaction, error) {
		value, err := parseWei(txValue)
		if err != nil {
			return nil, err
		}
		onBehalfOf, err := optionalAddress(txOnBehalfOf)
		if err != nil {
			return nil, err
		}
		opts.Value = value
		return c.Contribute(opts, onBehalfOf)
	}),
}

var txFinalizeCmd = &cobra.Command{
	Use:   "finalize <campaign>",
	Short: "Finalize a campaign after its deadline, or early once funded",
	Args:  cobra.ExactArgs(1),
	RunE: campaignTx(func(c *contracts.Campaign, opts *bind.TransactOpts) (*types.Transaction, error) {
		return c.FinalizeCampaignAfterDeadline(opts)
	}),
}

var txWithdrawCmd = &cobra.Command{
	Use:   "withdraw <campaign>",
	Short: "Withdraw the raised funds as beneficiary",
	Args:  cobra.ExactArgs(1),
	RunE: campaignTx(func(c *contracts.Campaign, opts *bind.TransactOpts) (*types.Transaction, error) {
		return c.Withdraw(opts)
	}),
}

var txRefundCmd = &cobra.Command{
	Use:   "refund <campaign>",
	Short: "Claim a refund from a failed campaign",
	Args:  cobra.ExactArgs(1),
	RunE: campaignTx(func(c *contracts.Campaign, opts *bind.TransactOpts) (*types.Transaction, error) {
		onBehalfOf, err := optionalAddress(txOnBehalfOf)
		if err != nil {
			return nil, err
		}
		return c.ClaimRefund(opts, onBehalfOf)
	}),
}

var txReclaimCmd = &cobra.Command{
	Use:   "reclaim <campaign>",
	Short: "Reclaim a contribution after a missed withdrawal window",
	Args:  cobra.ExactArgs(1),
	RunE: campaignTx(func(c *contracts.Campaign, opts *bind.TransactOpts) (*types.Transaction, error) {
		return c.ReclaimContribution(opts)
	}),
}

var txInspectCmd = &cobra.Command{
	Use:   "inspect <campaign>",
	Short: "Read a campaign's on-chain state",
	Args:  cobra.ExactArgs(1),
	RunE:  runTxInspect,
}

func init() {
	txCreateCmd.Flags().StringVar(&txBeneficiary, "beneficiary", "", "Beneficiary address (default: signer)")
	txCreateCmd.Flags().StringVar(&txGoal, "goal", "", "Funding goal in wei")
	txCreateCmd.Flags().StringVar(&txDeadline, "deadline", "", "Fundraising deadline, RFC3339 or unix seconds (default: now + --duration)")
	txCreateCmd.Flags().DurationVar(&txDuration, "duration", 30*24*time.Hour, "Fundraising duration when --deadline is unset")
	txCreateCmd.Flags().DurationVar(&txWithdrawalPeriod, "withdrawal-period", 7*24*time.Hour, "Withdrawal window after success")
	txCreateCmd.Flags().StringVar(&txName, "name", "", "Campaign name")
	_ = txCreateCmd.MarkFlagRequired("goal")
	_ = txCreateCmd.MarkFlagRequired("name")

	txContributeCmd.Flags().StringVar(&txValue, "value", "", "Amount in wei")
	txContributeCmd.Flags().StringVar(&txOnBehalfOf, "on-behalf-of", "", "Credit another address")
	_ = txContributeCmd.MarkFlagRequired("value")

	txRefundCmd.Flags().StringVar(&txOnBehalfOf, "on-behalf-of", "", "Refund another contributor")

	txCmd.AddCommand(txCreateCmd, txContributeCmd, txFinalizeCmd, txWithdrawCmd, txRefundCmd, txReclaimCmd, txInspectCmd)
}

// txEnv is a connected client and a signer for one command.
type txEnv struct {
	cfg    *config.Config
	client *ethclient.Client
	opts   *bind.TransactOpts
}

func newTxEnv(ctx context.Context) (*txEnv, error) {
	cfg, err := config.LoadChain()
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	key, err := loadKey()
	if err != nil {
		return nil, err
	}

	client, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("dialing RPC: %w", err)
	}

	chainID, err := client.ChainID(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("getting chain ID: %w", err)
	}
	if cfg.ChainID != 0 && chainID.Uint64() != cfg.ChainID {
		client.Close()
		return nil, fmt.Errorf("chain ID mismatch: config %d, node %s", cfg.ChainID, chainID)
	}

	opts, err := bind.NewKeyedTransactorWithChainID(key, chainID)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("creating transactor: %w", err)
	}
	opts.Context = ctx

	return &txEnv{cfg: cfg, client: client, opts: opts}, nil
}

func loadKey() (*ecdsa.PrivateKey, error) {
	raw := strings.TrimSpace(os.Getenv("WALLET_PRIVATE_KEY"))
	if raw == "" {
		return nil, errors.New("WALLET_PRIVATE_KEY is not set")
	}
	key, err := crypto.HexToECDSA(strings.TrimPrefix(raw, "0x"))
	if err != nil {
		return nil, fmt.Errorf("parsing WALLET_PRIVATE_KEY: %w", err)
	}
	return key, nil
}

func parseWei(s string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok || v.Sign() < 0 {
		return nil, fmt.Errorf("invalid amount %q: want a non-negative integer in wei", s)
	}
	return v, nil
}

func parseAddress(s string) (common.Address, error) {
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("invalid address %q", s)
	}
	return common.HexToAddress(s), nil
}

// optionalAddress parses s, or returns the zero address when s is empty.
func optionalAddress(s string) (common.Address, error) {
	if s == "" {
		return common.Address{}, nil
	}
	return parseAddress(s)
}

// revertReason replaces a JSON-RPC revert with the named contract error.
func revertReason(err error) error {
	if r, ok := contracts.RevertFromError(err); ok {
		return r
	}
	return err
}

// send waits for tx and fails on a reverted receipt.
func (e *txEnv) send(ctx context.Context, tx *types.Transaction, err error) (*types.Receipt, error) {
	if err != nil {
		return nil, fmt.Errorf("sending transaction: %w", revertReason(err))
	}
	log.Info().Str("tx", tx.Hash().Hex()).Msg("transaction sent, waiting to be mined")

	receipt, err := bind.WaitMined(ctx, e.client, tx)
	if err != nil {
		return nil, fmt.Errorf("waiting for %s: %w", tx.Hash().Hex(), err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return receipt, fmt.Errorf("transaction %s reverted in block %d", tx.Hash().Hex(), receipt.BlockNumber)
	}
	log.Info().
		Str("tx", tx.Hash().Hex()).
		Uint64("block", receipt.BlockNumber.Uint64()).
		Uint64("gas_used", receipt.GasUsed).
		Msg("transaction mined")
	return receipt, nil
}

// parseDeadline returns the absolute unix deadline createCampaign expects.
// An empty raw value falls back to now plus d.
func parseDeadline(raw string, now time.Time, d time.Duration) (int64, error) {
	var deadline int64
	switch {
	case raw == "":
		if d <= 0 {
			return 0, errors.New("duration must be positive")
		}
		deadline = now.Add(d).Unix()
	case strings.ContainsAny(raw, "T-:"):
		at, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return 0, fmt.Errorf("parsing deadline %q: %w", raw, err)
		}
		deadline = at.Unix()
	default:
		v, ok := new(big.Int).SetString(raw, 10)
		if !ok || !v.IsInt64() {
			return 0, fmt.Errorf("parsing deadline %q: not unix seconds", raw)
		}
		deadline = v.Int64()
	}
	if deadline <= now.Unix() {
		return 0, fmt.Errorf("deadline %s is not in the future", time.Unix(deadline, 0).UTC().Format(time.RFC3339))
	}
	return deadline, nil
}

func runTxCreate(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), txTimeout)
	defer cancel()

	goal, err := parseWei(txGoal)
	if err != nil {
		return err
	}
	if txWithdrawalPeriod <= 0 {
		return errors.New("withdrawal period must be positive")
	}
	deadline, err := parseDeadline(txDeadline, time.Now(), txDuration)
	if err != nil {
		return err
	}

	env, err := newTxEnv(ctx)
	if err != nil {
		return err
	}
	defer env.client.Close()

	beneficiary := env.opts.From
	if txBeneficiary != "" {
		if beneficiary, err = parseAddress(txBeneficiary); err != nil {
			return err
		}
	}

	factory := contracts.NewFactory(env.cfg.FactoryAddress(), env.client)
	tx, err := factory.CreateCampaign(env.opts, beneficiary, goal,
		big.NewInt(deadline),
		big.NewInt(int64(txWithdrawalPeriod/time.Second)),
		txName)
	receipt, err := env.send(ctx, tx, err)
	if err != nil {
		return err
	}

	addr, err := contracts.CreatedCampaign(receipt)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), addr.Hex())
	return nil
}

// campaignTx adapts a campaign call into a command that takes the campaign
// address as its only argument.
func campaignTx(call func(*contracts.Campaign, *bind.TransactOpts) (*types.Transaction, error)) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), txTimeout)
		defer cancel()

		addr, err := parseAddress(args[0])
		if err != nil {
			return err
		}

		env, err := newTxEnv(ctx)
		if err != nil {
			return err
		}
		defer env.client.Close()

		tx, err := call(contracts.NewCampaign(addr, env.client), env.opts)
		receipt, err := env.send(ctx, tx, err)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), receipt.TxHash.Hex())
		return nil
	}
}

func runTxInspect(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), time.Minute)
	defer cancel()

	addr, err := parseAddress(args[0])
	if err != nil {
		return err
	}

	cfg, err := config.LoadChain()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	client, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return fmt.Errorf("dialing RPC: %w", err)
	}
	defer client.Close()

	c := contracts.NewCampaign(addr, client)
	opts := &bind.CallOpts{Context: ctx}

	state, err := c.State(opts)
	if err != nil {
		return revertReason(err)
	}
	raised, err := c.TotalRaised(opts)
	if err != nil {
		return revertReason(err)
	}
	goal, err := c.Goal(opts)
	if err != nil {
		return revertReason(err)
	}
	deadline, err := c.Deadline(opts)
	if err != nil {
		return revertReason(err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Campaign: %s\n", addr.Hex())
	fmt.Fprintf(out, "State:    %s\n", campaign.State(state))
	fmt.Fprintf(out, "Raised:   %s / %s wei\n", raised, goal)
	fmt.Fprintf(out, "Deadline: %s\n", time.Unix(deadline.Int64(), 0).UTC().Format(time.RFC3339))
	return nil
}
