package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/tradeforge/tradeforge/internal/broker/mock"
	"github.com/tradeforge/tradeforge/internal/core"
	"github.com/tradeforge/tradeforge/internal/live"
	"github.com/tradeforge/tradeforge/internal/logger"
	"github.com/tradeforge/tradeforge/internal/notifier"
	"github.com/tradeforge/tradeforge/internal/strategy"
)

var (
	signalSymbol   string
	signalInterval string
)

var signalCmd = &cobra.Command{
	Use:   "signal [strategy.json]",
	Short: "Evaluate a strategy against current market data",
	Long:  "Run one evaluation tick against the latest bars and print the signal, without trading",
	Args:  cobra.ExactArgs(1),
	RunE:  runSignalCmd,
}

func init() {
	signalCmd.Flags().StringVar(&signalSymbol, "symbol", "", "symbol (defaults to the strategy's)")
	signalCmd.Flags().StringVar(&signalInterval, "interval", "", "bar interval (defaults to the strategy's)")
	rootCmd.AddCommand(signalCmd)
}

// fileSource serves the single definition loaded from disk.
type fileSource struct {
	def *strategy.Definition
}

func (f *fileSource) GetStrategy(ctx context.Context, id string) (*strategy.Definition, error) {
	if id != f.def.ID {
		return nil, core.WrapError(core.ErrStrategyNotFound, fmt.Errorf("id %s", id))
	}
	return f.def, nil
}

func runSignalCmd(cmd *cobra.Command, args []string) error {
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
	if def.ID == "" {
		def.ID = def.Name
	}

	engine := live.NewEngine(buildCLIProvider(cfg), mock.New(), &fileSource{def: def},
		notifier.Nop{}, nil, log)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	signal, err := engine.EvaluateOnce(ctx, def.ID, signalSymbol, signalInterval)
	if err != nil {
		return fmt.Errorf("evaluating strategy: %w", err)
	}

	fmt.Println("=== TradeForge Signal ===")
	fmt.Printf("Strategy:   %s\n", signal.Strategy)
	fmt.Printf("Symbol:     %s\n", signal.Symbol)
	fmt.Printf("Decision:   %s\n", signal.Decision)
	fmt.Printf("Price:      %g\n", signal.Price)
	fmt.Printf("Confidence: %.2f\n", signal.Confidence)
	fmt.Printf("Reason:     %s\n", signal.Reason)
	fmt.Printf("Evaluated:  %s\n", signal.EvaluatedAt.Format(time.RFC3339))
	return nil
}
