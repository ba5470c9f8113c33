package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/tradeforge/tradeforge/internal/job"
	"github.com/tradeforge/tradeforge/internal/logger"
	"github.com/tradeforge/tradeforge/internal/optimize"
)

var (
	optSymbol    string
	optInterval  string
	optFrom      string
	optTo        string
	optCapital   float64
	optMethod    string
	optSearch    string
	optObjective string
	optTrials    int
	optSeed      int64
	optSpaceFile string
)

var optimizeCmd = &cobra.Command{
	Use:   "optimize [strategy.json]",
	Short: "Search a strategy's parameter space",
	Long:  "Run an optimization over a parameter space file and print the best parameters found",
	Args:  cobra.ExactArgs(1),
	RunE:  runOptimizeCmd,
}

func init() {
	optimizeCmd.Flags().StringVar(&optSymbol, "symbol", "", "symbol (defaults to the strategy's)")
	optimizeCmd.Flags().StringVar(&optInterval, "interval", "", "bar interval (defaults to the strategy's)")
	optimizeCmd.Flags().StringVar(&optFrom, "from", "", "start date YYYY-MM-DD (required)")
	optimizeCmd.Flags().StringVar(&optTo, "to", "", "end date YYYY-MM-DD (required)")
	optimizeCmd.Flags().Float64Var(&optCapital, "capital", 10000, "initial capital")
	optimizeCmd.Flags().StringVar(&optMethod, "method", optimize.MethodAuto, "optimization method (ml, dl, hybrid, auto)")
	optimizeCmd.Flags().StringVar(&optSearch, "search", "", "search method override (grid, random, surrogate, evolution)")
	optimizeCmd.Flags().StringVar(&optObjective, "objective", optimize.DefaultObjective, "objective to maximize")
	optimizeCmd.Flags().IntVar(&optTrials, "trials", 50, "number of trials")
	optimizeCmd.Flags().Int64Var(&optSeed, "seed", 0, "random seed (0 picks one)")
	optimizeCmd.Flags().StringVar(&optSpaceFile, "space", "", "parameter space JSON file (required)")

	optimizeCmd.MarkFlagRequired("from")
	optimizeCmd.MarkFlagRequired("to")
	optimizeCmd.MarkFlagRequired("space")

	rootCmd.AddCommand(optimizeCmd)
}

func loadSpace(path string) (optimize.Space, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading space file: %w", err)
	}
	var space optimize.Space
	if err := json.Unmarshal(data, &space); err != nil {
		return nil, fmt.Errorf("parsing space file: %w", err)
	}
	return space, nil
}

func runOptimizeCmd(cmd *cobra.Command, args []string) error {
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
	space, err := loadSpace(optSpaceFile)
	if err != nil {
		return err
	}
	from, to, err := parseRange(optFrom, optTo)
	if err != nil {
		return err
	}

	seed := optSeed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	store := job.NewMemoryStore(4)
	sched := optimize.NewScheduler(optimize.Config{Workers: 1, QueueSize: 1},
		store, buildCLIProvider(cfg), nil, log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sched.Start(ctx)

	j, err := sched.SubmitOptimization(ctx, &optimize.Request{
		Strategy:       def,
		Symbol:         orBlank(optSymbol, def.Symbol),
		Interval:       orBlank(optInterval, def.Timeframe),
		Start:          from,
		End:            to,
		InitialCapital: optCapital,
		Method:         optMethod,
		SearchMethod:   optSearch,
		Objective:      optObjective,
		Space:          space,
		Trials:         optTrials,
		Seed:           seed,
	})
	if err != nil {
		return err
	}

	fmt.Printf("=== TradeForge Optimization ===\n")
	fmt.Printf("Strategy:  %s\n", def.Name)
	fmt.Printf("Method:    %s  Objective: %s  Trials: %d  Seed: %d\n\n",
		optMethod, optObjective, optTrials, seed)

	final, err := waitForJob(ctx, store, j.ID, log)
	if err != nil {
		return err
	}

	fmt.Printf("Status: %s  (%d trials run)\n", final.Status, len(final.History))
	if final.Status == job.StatusFailed {
		return fmt.Errorf("optimization failed: %s", final.ErrorMessage)
	}
	if !final.HasBest {
		fmt.Println("No trial produced a usable score.")
		return nil
	}

	fmt.Printf("Best score: %.6f\n", final.BestScore)
	names := make([]string, 0, len(final.BestParams))
	for name := range final.BestParams {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Printf("  %-20s %g\n", name, final.BestParams[name])
	}
	return nil
}

func waitForJob(ctx context.Context, store job.Store, id string, log *zap.Logger) (*job.Job, error) {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()
	lastProgress := -1
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
		j, err := store.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if j.Progress != lastProgress {
			lastProgress = j.Progress
			log.Info("optimization progress",
				zap.Int("percent", j.Progress), zap.Int("trials", len(j.History)))
		}
		if j.Status.Terminal() {
			return j, nil
		}
	}
}

func orBlank(v, fallback string) string {
	if v != "" {
		return v
	}
	return fallback
}
