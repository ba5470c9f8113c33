package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tradeforge/tradeforge/internal/backtest"
	"github.com/tradeforge/tradeforge/internal/core"
	"github.com/tradeforge/tradeforge/internal/live"
	"github.com/tradeforge/tradeforge/internal/strategy"
)

// Repository provides typed access to the persisted records. It also
// implements live.StrategySource.
type Repository struct {
	db *gorm.DB
}

// NewRepository wraps db.
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// Strategies

// SaveStrategy inserts or updates a strategy definition. A missing ID is
// assigned.
func (r *Repository) SaveStrategy(ctx context.Context, def *strategy.Definition) error {
	if err := def.Validate(); err != nil {
		return err
	}
	if def.ID == "" {
		def.ID = uuid.NewString()
	}
	raw, err := json.Marshal(def)
	if err != nil {
		return fmt.Errorf("encoding strategy: %w", err)
	}
	rec := StrategyRecord{
		ID:             def.ID,
		Name:           def.Name,
		Symbol:         def.Symbol,
		Timeframe:      def.Timeframe,
		Status:         def.Status,
		DefinitionJSON: string(raw),
	}
	return r.db.WithContext(ctx).Save(&rec).Error
}

// GetStrategy loads a strategy definition by ID.
func (r *Repository) GetStrategy(ctx context.Context, id string) (*strategy.Definition, error) {
	var rec StrategyRecord
	err := r.db.WithContext(ctx).First(&rec, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, core.WrapError(core.ErrStrategyNotFound, fmt.Errorf("id %s", id))
	}
	if err != nil {
		return nil, err
	}
	var def strategy.Definition
	if err := json.Unmarshal([]byte(rec.DefinitionJSON), &def); err != nil {
		return nil, core.WrapError(core.ErrParse, fmt.Errorf("stored strategy %s: %w", id, err))
	}
	return &def, nil
}

// ListStrategies returns the stored records, newest first.
func (r *Repository) ListStrategies(ctx context.Context) ([]StrategyRecord, error) {
	var recs []StrategyRecord
	err := r.db.WithContext(ctx).Order("created_at DESC").Find(&recs).Error
	return recs, err
}

// DeleteStrategy removes a strategy.
func (r *Repository) DeleteStrategy(ctx context.Context, id string) error {
	res := r.db.WithContext(ctx).Delete(&StrategyRecord{}, "id = ?", id)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return core.WrapError(core.ErrStrategyNotFound, fmt.Errorf("id %s", id))
	}
	return nil
}

// Live settings

// SaveSetting inserts or updates a live trading setting.
func (r *Repository) SaveSetting(ctx context.Context, s *live.Setting) error {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	if err := s.Validate(); err != nil {
		return err
	}
	rec := SettingRecord{
		ID:              s.ID,
		StrategyID:      s.StrategyID,
		Symbol:          s.Symbol,
		Interval:        s.Interval,
		Enabled:         s.Enabled,
		RiskPerTradePct: s.RiskPerTradePct,
		MaxOpenTrades:   s.MaxOpenTrades,
		UseStopLoss:     s.UseStopLoss,
		UseTakeProfit:   s.UseTakeProfit,
		PollSeconds:     int(s.PollInterval / time.Second),
	}
	return r.db.WithContext(ctx).Save(&rec).Error
}

// ListSettings returns all live trading settings.
func (r *Repository) ListSettings(ctx context.Context) ([]live.Setting, error) {
	var recs []SettingRecord
	if err := r.db.WithContext(ctx).Find(&recs).Error; err != nil {
		return nil, err
	}
	out := make([]live.Setting, len(recs))
	for i, rec := range recs {
		out[i] = settingFromRecord(rec)
	}
	return out, nil
}

// DeleteSetting removes a live trading setting.
func (r *Repository) DeleteSetting(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Delete(&SettingRecord{}, "id = ?", id).Error
}

func settingFromRecord(rec SettingRecord) live.Setting {
	return live.Setting{
		ID:              rec.ID,
		StrategyID:      rec.StrategyID,
		Symbol:          rec.Symbol,
		Interval:        rec.Interval,
		Enabled:         rec.Enabled,
		RiskPerTradePct: rec.RiskPerTradePct,
		MaxOpenTrades:   rec.MaxOpenTrades,
		UseStopLoss:     rec.UseStopLoss,
		UseTakeProfit:   rec.UseTakeProfit,
		PollInterval:    time.Duration(rec.PollSeconds) * time.Second,
	}
}

// Backtest results

// SaveBacktestResult records a finished backtest.
func (r *Repository) SaveBacktestResult(ctx context.Context, jobID string, result *backtest.Result) error {
	raw, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("encoding result: %w", err)
	}
	rec := BacktestRecord{
		StrategyID:  result.StrategyID,
		JobID:       jobID,
		Symbol:      result.Symbol,
		TotalReturn: result.TotalReturn,
		WinRate:     result.WinRate,
		MaxDrawdown: result.MaxDrawdown,
		TotalTrades: result.TotalTrades,
		ResultJSON:  string(raw),
	}
	return r.db.WithContext(ctx).Create(&rec).Error
}

// RecentBacktests lists the latest results for a strategy.
func (r *Repository) RecentBacktests(ctx context.Context, strategyID string, limit int) ([]BacktestRecord, error) {
	var recs []BacktestRecord
	err := r.db.WithContext(ctx).
		Where("strategy_id = ?", strategyID).
		Order("created_at DESC").Limit(limit).
		Find(&recs).Error
	return recs, err
}

var _ live.StrategySource = (*Repository)(nil)
