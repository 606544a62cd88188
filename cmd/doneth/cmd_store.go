package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/0xredeth/doneth/internal/rpc"
	"github.com/0xredeth/doneth/internal/store"
	"github.com/0xredeth/doneth/pkg/config"
	models "github.com/0xredeth/doneth/pkg/store"
)

var (
	campaignsActive bool
	campaignsOrder  string
	campaignsLimit  int
	statusOffline   bool
)

// migrateCmd applies the schema
var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database migrations",
	RunE:  runMigrate,
}

// statusCmd prints the sync checkpoint
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show sync status",
	Long: `Show the last indexed block, row counts and, unless --offline is set,
how far the indexer lags behind the chain head.`,
	RunE: runStatus,
}

// verifyCmd checks stored totals
var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Check that campaign totals match their contributions",
	RunE:  runVerify,
}

// campaignsCmd lists indexed campaigns
var campaignsCmd = &cobra.Command{
	Use:   "campaigns",
	Short: "List indexed campaigns",
	RunE:  runCampaigns,
}

func init() {
	statusCmd.Flags().BoolVar(&statusOffline, "offline", false, "Do not query the RPC node")

	campaignsCmd.Flags().BoolVar(&campaignsActive, "active", false, "Only campaigns whose deadline has not passed")
	campaignsCmd.Flags().StringVar(&campaignsOrder, "order", "total", "Order by total or created")
	campaignsCmd.Flags().IntVar(&campaignsLimit, "limit", 10, "Maximum campaigns to list")
}

func openStore(cfg *config.Config) (*store.Store, error) {
	storeCfg := store.DefaultConfig()
	storeCfg.DSN = cfg.Database
	st, err := store.New(storeCfg)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}
	return st, nil
}

func runMigrate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	if err := st.Migrate(); err != nil {
		return err
	}
	log.Info().Str("driver", st.Driver()).Msg("migrations applied")
	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
	defer cancel()

	checkpoint, err := st.GetSyncStatus(ctx, cfg.Name)
	if err != nil {
		return err
	}
	stats, err := st.GetStats(ctx)
	if err != nil {
		return err
	}

	p := message.NewPrinter(language.English)
	out := cmd.OutOrStdout()

	p.Fprintf(out, "Indexer:       %s (%s, chain %d)\n", cfg.Name, cfg.Network, cfg.ChainID)
	p.Fprintf(out, "Factory:       %s\n", cfg.FactoryAddress().Hex())
	if checkpoint == nil {
		p.Fprintf(out, "Last block:    none\n")
	} else {
		p.Fprintf(out, "Last block:    %d (%s)\n", checkpoint.LastBlockNumber, checkpoint.LastBlockHash)
		p.Fprintf(out, "Updated:       %s\n", checkpoint.UpdatedAt.Format(time.RFC3339))
	}
	p.Fprintf(out, "Campaigns:     %d\n", stats.Campaigns)
	p.Fprintf(out, "Contributors:  %d\n", stats.Contributors)
	p.Fprintf(out, "Contributions: %d\n", stats.Contributions)
	p.Fprintf(out, "Events:        %d\n", stats.Events)

	if statusOffline {
		return nil
	}

	rpcCfg := rpc.DefaultConfig()
	rpcCfg.URL = cfg.RPCURL
	client, err := rpc.New(ctx, rpcCfg)
	if err != nil {
		return fmt.Errorf("creating RPC client: %w", err)
	}
	defer client.Close()

	head, err := client.BlockNumber(ctx)
	if err != nil {
		return err
	}
	last := uint64(0)
	if checkpoint != nil {
		last = checkpoint.LastBlockNumber
	}
	lag := uint64(0)
	if head > last {
		lag = head - last
	}
	p.Fprintf(out, "Chain head:    %d (lag %d blocks)\n", head, lag)
	return nil
}

func runVerify(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	mismatches, err := st.VerifyTotals(cmd.Context())
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if len(mismatches) == 0 {
		fmt.Fprintln(out, "All campaign totals match their contributions.")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "CAMPAIGN\tRECORDED\tSUMMED")
	for _, m := range mismatches {
		fmt.Fprintf(w, "%s\t%s\t%s\n", m.Campaign, m.Recorded, m.Summed)
	}
	if err := w.Flush(); err != nil {
		return err
	}
	return fmt.Errorf("%d campaign totals do not match", len(mismatches))
}

func runCampaigns(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	q := store.CampaignQuery{OrderDir: "DESC", Limit: campaignsLimit}
	switch campaignsOrder {
	case "total":
		q.OrderBy = "total_contributions"
	case "created":
		q.OrderBy = "created_at"
	default:
		return fmt.Errorf("unknown order %q (valid: total, created)", campaignsOrder)
	}
	if campaignsActive {
		now := uint64(time.Now().Unix())
		q.ActiveAt = &now
	}

	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	camps, total, err := st.ListCampaigns(cmd.Context(), q)
	if err != nil {
		return err
	}

	symbol := "native"
	if preset, ok := config.GetNetworkPreset(cfg.Network); ok {
		symbol = preset.NativeSymbol
	}
	renderCampaigns(cmd.OutOrStdout(), camps, symbol)
	message.NewPrinter(language.English).Fprintf(cmd.OutOrStdout(), "\n%d of %d campaigns\n", len(camps), total)
	return nil
}

func renderCampaigns(out io.Writer, camps []models.Campaign, symbol string) {
	title := cases.Title(language.English)
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "ADDRESS\tNAME\tSTATE\tRAISED (%s)\tGOAL (%s)\tDEADLINE\n", symbol, symbol)
	for _, c := range camps {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			c.Address,
			c.Name,
			title.String(strings.ReplaceAll(c.State, "_", " ")),
			c.TotalContributions,
			c.Goal,
			time.Unix(int64(c.Deadline), 0).UTC().Format(time.RFC3339),
		)
	}
	_ = w.Flush()
}

