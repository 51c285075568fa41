package main

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	"secmaster/internal/store"
	"secmaster/internal/types"
	"secmaster/internal/weights"

	"github.com/spf13/cobra"
)

var (
	flagTable   string
	flagListTbl string
	flagTSIDs   []string
	flagWorkers int
	flagDryRun  bool
	flagHTTP    string
	flagApply   bool
	flagLimit   int
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Run one cross validation and write the consensus rows",
	RunE:  runValidate,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run cross validation on a schedule and serve the HTTP API",
	RunE:  runServe,
}

var tsidsCmd = &cobra.Command{
	Use:   "tsids",
	Short: "List the tsids that have prices in a table",
	RunE:  runTSIDs,
}

var vendorsCmd = &cobra.Command{
	Use:   "vendors",
	Short: "List data vendors and their consensus weights",
	RunE:  runVendors,
}

var weightsCmd = &cobra.Command{
	Use:   "weights",
	Short: "Show the effective vendor weights",
	Long: `Show the weights a run would use after the configured source and overrides
are applied. With --apply they are written to data_vendor.consensus_weight.`,
	RunE: runWeights,
}

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List recent validation runs",
	RunE:  runRuns,
}

func init() {
	rootCmd.AddCommand(validateCmd, serveCmd, tsidsCmd, vendorsCmd, weightsCmd, runsCmd)

	validateCmd.Flags().StringVar(&flagTable, "table", "", "price table (default: every configured table)")
	validateCmd.Flags().StringSliceVar(&flagTSIDs, "tsid", nil, "tsid to validate, repeatable (default: every tsid in the table)")
	validateCmd.Flags().IntVar(&flagWorkers, "workers", 0, "parallel tsids (default from config)")
	validateCmd.Flags().BoolVar(&flagDryRun, "dry-run", false, "compute consensus without writing")

	serveCmd.Flags().StringVar(&flagHTTP, "http", "", "enable the HTTP API on this address")

	tsidsCmd.Flags().StringVar(&flagListTbl, "table", "daily_prices", "price table")
	weightsCmd.Flags().BoolVar(&flagApply, "apply", false, "write the effective weights to data_vendor")
	runsCmd.Flags().IntVar(&flagLimit, "limit", 20, "number of runs")
}

func runValidate(cmd *cobra.Command, args []string) error {
	cfg, closer, err := loadConfig()
	if err != nil {
		return err
	}
	defer closer()
	if cmd.Flags().Changed("workers") {
		cfg.Validator.Workers = flagWorkers
	}
	if cmd.Flags().Changed("dry-run") {
		cfg.Validator.DryRun = flagDryRun
	}
	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	reports, err := a.RunOnce(cmd.Context(), flagTable, flagTSIDs)
	for _, r := range reports {
		fmt.Println(r.Summary())
	}
	if err != nil {
		return err
	}
	failed := 0
	for _, r := range reports {
		failed += r.Failed()
	}
	if failed > 0 {
		return fmt.Errorf("%d instruments failed cross validation", failed)
	}
	return nil
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, closer, err := loadConfig()
	if err != nil {
		return err
	}
	defer closer()
	if flagHTTP != "" {
		cfg.HTTP.Enabled = true
		cfg.HTTP.Addr = flagHTTP
	}
	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer a.Close()
	return a.Serve(cmd.Context())
}

func runTSIDs(cmd *cobra.Command, args []string) error {
	cfg, closer, err := loadConfig()
	if err != nil {
		return err
	}
	defer closer()
	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer a.Close()
	if err := store.CheckTable(flagListTbl); err != nil {
		return err
	}
	tsids, err := a.Store().Prices().ActiveTSIDs(cmd.Context(), flagListTbl)
	if err != nil {
		return err
	}
	for _, t := range tsids {
		fmt.Println(t)
	}
	return nil
}

func runVendors(cmd *cobra.Command, args []string) error {
	cfg, closer, err := loadConfig()
	if err != nil {
		return err
	}
	defer closer()
	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer a.Close()
	vendors, err := a.Store().Vendors().List(cmd.Context())
	if err != nil {
		return err
	}
	return renderTable(os.Stdout, vendorTable(vendors))
}

func runWeights(cmd *cobra.Command, args []string) error {
	cfg, closer, err := loadConfig()
	if err != nil {
		return err
	}
	defer closer()
	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer a.Close()
	vendors := a.Store().Vendors()
	eff, err := weights.NewLoader(vendors, cfg.Weights).Load(cmd.Context())
	if err != nil {
		return err
	}
	list, err := vendors.List(cmd.Context())
	if err != nil {
		return err
	}
	if err := renderTable(os.Stdout, weightTable(list, eff)); err != nil {
		return err
	}
	if !flagApply {
		return nil
	}
	if cfg.Weights.Source == weights.SourceDatabase && len(cfg.Weights.Overrides) == 0 {
		return errors.New("weights already come from the database; nothing to apply")
	}
	return weights.Apply(cmd.Context(), vendors, eff)
}

func runRuns(cmd *cobra.Command, args []string) error {
	cfg, closer, err := loadConfig()
	if err != nil {
		return err
	}
	defer closer()
	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer a.Close()
	runs, err := a.Store().Runs().List(cmd.Context(), flagLimit)
	if err != nil {
		return err
	}
	return renderTable(os.Stdout, runTable(runs))
}

func formatWeight(w float64) string {
	return strconv.FormatFloat(w, 'g', -1, 64)
}

func vendorTable(vendors []store.Vendor) tableData {
	data := tableData{Headers: []string{"ID", "NAME", "WEIGHT"}, Right: []int{0, 2}}
	for _, v := range vendors {
		weight := "-"
		if v.Weight != nil {
			weight = formatWeight(*v.Weight)
		}
		data.add(strconv.FormatInt(int64(v.ID), 10), v.Name, weight)
	}
	return data
}

func weightTable(vendors []store.Vendor, eff types.SourceWeights) tableData {
	data := tableData{Headers: []string{"ID", "NAME", "EFFECTIVE"}, Right: []int{0, 2}}
	for _, v := range vendors {
		weight := "-"
		if x, ok := eff.Lookup(v.ID); ok {
			weight = formatWeight(x)
		}
		data.add(strconv.FormatInt(int64(v.ID), 10), v.Name, weight)
	}
	return data
}

func runTable(runs []store.RunRecord) tableData {
	data := tableData{Headers: []string{"ID", "TABLE", "STARTED", "OK", "FAILED", "ROWS", "DRY"}, Right: []int{3, 4, 5}}
	for _, r := range runs {
		data.add(r.ID, r.Table, r.StartedAt.Format("2006-01-02 15:04:05"),
			strconv.Itoa(r.Succeeded), strconv.Itoa(r.Failed),
			strconv.FormatInt(r.RowsWritten, 10), strconv.FormatBool(r.DryRun))
	}
	return data
}
