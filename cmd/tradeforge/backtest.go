package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/tradeforge/tradeforge/internal/backtest"
	"github.com/tradeforge/tradeforge/internal/config"
	"github.com/tradeforge/tradeforge/internal/logger"
	"github.com/tradeforge/tradeforge/internal/marketdata"
	"github.com/tradeforge/tradeforge/internal/strategy"
)

var (
	backtestSymbol   string
	backtestInterval string
	backtestFrom     string
	backtestTo       string
	backtestCapital  float64
)

var backtestCmd = &cobra.Command{
	Use:   "backtest [strategy.json]",
	Short: "Run a backtest on a strategy definition",
	Long:  "Run a strategy definition file against historical data and print performance statistics",
	Args:  cobra.ExactArgs(1),
	RunE:  runBacktestCmd,
}

func init() {
	backtestCmd.Flags().StringVar(&backtestSymbol, "symbol", "", "symbol to backtest (defaults to the strategy's)")
	backtestCmd.Flags().StringVar(&backtestInterval, "interval", "", "bar interval (defaults to the strategy's)")
	backtestCmd.Flags().StringVar(&backtestFrom, "from", "", "start date YYYY-MM-DD (required)")
	backtestCmd.Flags().StringVar(&backtestTo, "to", "", "end date YYYY-MM-DD (required)")
	backtestCmd.Flags().Float64Var(&backtestCapital, "capital", 10000, "initial capital")

	backtestCmd.MarkFlagRequired("from")
	backtestCmd.MarkFlagRequired("to")

	rootCmd.AddCommand(backtestCmd)
}

func loadDefinition(path string) (*strategy.Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading strategy file: %w", err)
	}
	var def strategy.Definition
	if err := json.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("parsing strategy file: %w", err)
	}
	if err := def.Validate(); err != nil {
		return nil, err
	}
	return &def, nil
}

func parseRange(fromStr, toStr string) (time.Time, time.Time, error) {
	from, err := time.Parse("2006-01-02", fromStr)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid from date (expected YYYY-MM-DD): %w", err)
	}
	to, err := time.Parse("2006-01-02", toStr)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid to date (expected YYYY-MM-DD): %w", err)
	}
	if !to.After(from) {
		return time.Time{}, time.Time{}, fmt.Errorf("end date must be after start date")
	}
	return from, to, nil
}

func buildCLIProvider(cfg *config.Config) marketdata.Provider {
	if cfg.Data.Provider == "csv" {
		return marketdata.NewCSVProvider(cfg.Data.CSVDir)
	}
	return marketdata.NewKlineProvider()
}

func runBacktestCmd(cmd *cobra.Command, args []string) error {
	log := logger.Must(debug)
	defer log.Sync()

	cfg, err := loadConfig(log)
	if err != nil {
		return err
	}

	def, err := loadDefinition(args[0])
	if err != nil {
		return err
	}
	from, to, err := parseRange(backtestFrom, backtestTo)
	if err != nil {
		return err
	}

	symbol := backtestSymbol
	if symbol == "" {
		symbol = def.Symbol
	}
	interval := backtestInterval
	if interval == "" {
		interval = def.Timeframe
	}
	if symbol == "" {
		return fmt.Errorf("no symbol: pass --symbol or set it in the strategy")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	bars, err := buildCLIProvider(cfg).GetBars(ctx, symbol, interval, from, to)
	if err != nil {
		return fmt.Errorf("loading bars: %w", err)
	}

	result, err := backtest.New().Run(ctx, def, bars, backtestCapital)
	if err != nil {
		return fmt.Errorf("running backtest: %w", err)
	}
	result.Symbol = symbol

	printResult(def, result)
	return nil
}

func printResult(def *strategy.Definition, r *backtest.Result) {
	fmt.Println("=== TradeForge Backtest ===")
	fmt.Printf("Strategy: %s\n", def.Name)
	fmt.Printf("Symbol:   %s\n", r.Symbol)
	fmt.Printf("Period:   %s to %s\n",
		r.StartDate.Format("2006-01-02"), r.EndDate.Format("2006-01-02"))
	fmt.Println()
	fmt.Printf("Initial capital: %12.2f\n", r.InitialCapital)
	fmt.Printf("Final equity:    %12.2f\n", r.FinalEquity)
	fmt.Printf("Total return:    %11.2f%%\n", r.TotalReturn*100)
	fmt.Printf("Max drawdown:    %11.2f%%\n", r.MaxDrawdown*100)
	fmt.Printf("Sharpe ratio:    %12.2f\n", r.SharpeRatio)
	fmt.Printf("Profit factor:   %12.2f\n", r.ProfitFactor)
	fmt.Printf("Trades: %d total, %d won, %d lost (win rate %.1f%%)\n",
		r.TotalTrades, r.WinningTrades, r.LosingTrades, r.WinRate*100)
}
