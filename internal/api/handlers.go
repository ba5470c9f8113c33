package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/tradeforge/tradeforge/internal/api/response"
	"github.com/tradeforge/tradeforge/internal/core"
	"github.com/tradeforge/tradeforge/internal/live"
	"github.com/tradeforge/tradeforge/internal/optimize"
	"github.com/tradeforge/tradeforge/internal/strategy"
)

// Strategies

func (s *Server) handleCreateStrategy(w http.ResponseWriter, r *http.Request) {
	var def strategy.Definition
	if err := json.NewDecoder(r.Body).Decode(&def); err != nil {
		response.Error(w, http.StatusBadRequest, core.WrapError(core.ErrParse, err))
		return
	}
	def.Status = strategy.StatusPending
	if err := def.Validate(); err != nil {
		response.Error(w, response.StatusFor(err), err)
		return
	}
	def.Status = strategy.StatusReady
	if err := s.repo.SaveStrategy(r.Context(), &def); err != nil {
		response.Error(w, response.StatusFor(err), err)
		return
	}
	response.JSON(w, http.StatusCreated, def)
}

func (s *Server) handleListStrategies(w http.ResponseWriter, r *http.Request) {
	recs, err := s.repo.ListStrategies(r.Context())
	if err != nil {
		response.Error(w, http.StatusInternalServerError, err)
		return
	}
	response.JSON(w, http.StatusOK, recs)
}

func (s *Server) handleGetStrategy(w http.ResponseWriter, r *http.Request) {
	def, err := s.repo.GetStrategy(r.Context(), r.PathValue("id"))
	if err != nil {
		response.Error(w, response.StatusFor(err), err)
		return
	}
	response.JSON(w, http.StatusOK, def)
}

func (s *Server) handleDeleteStrategy(w http.ResponseWriter, r *http.Request) {
	if err := s.repo.DeleteStrategy(r.Context(), r.PathValue("id")); err != nil {
		response.Error(w, response.StatusFor(err), err)
		return
	}
	response.JSON(w, http.StatusOK, map[string]string{"deleted": r.PathValue("id")})
}

func (s *Server) handleRecentBacktests(w http.ResponseWriter, r *http.Request) {
	recs, err := s.repo.RecentBacktests(r.Context(), r.PathValue("id"), 20)
	if err != nil {
		response.Error(w, http.StatusInternalServerError, err)
		return
	}
	response.JSON(w, http.StatusOK, recs)
}

// Jobs

// SubmitBacktestRequest is the request body for starting a backtest.
type SubmitBacktestRequest struct {
	StrategyID     string  `json:"strategy_id"`
	Symbol         string  `json:"symbol"`
	Interval       string  `json:"interval"`
	Start          string  `json:"start"`
	End            string  `json:"end"`
	InitialCapital float64 `json:"initial_capital"`
}

// SubmitOptimizationRequest is the request body for starting an
// optimization run.
type SubmitOptimizationRequest struct {
	SubmitBacktestRequest

	Method       string                `json:"method"`
	SearchMethod string                `json:"search_method"`
	Objective    string                `json:"objective"`
	Space        []optimize.ParamRange `json:"space"`
	Trials       int                   `json:"trials"`
	Seed         int64                 `json:"seed"`
}

func parseWindow(startStr, endStr string) (time.Time, time.Time, error) {
	start, err := time.Parse("2006-01-02", startStr)
	if err != nil {
		return time.Time{}, time.Time{}, core.WrapError(core.ErrConfigInvalid, fmt.Errorf("start: %w", err))
	}
	end, err := time.Parse("2006-01-02", endStr)
	if err != nil {
		return time.Time{}, time.Time{}, core.WrapError(core.ErrConfigInvalid, fmt.Errorf("end: %w", err))
	}
	if !end.After(start) {
		return time.Time{}, time.Time{}, core.WrapError(core.ErrConfigInvalid,
			fmt.Errorf("end %s must be after start %s", endStr, startStr))
	}
	return start, end, nil
}

func (s *Server) handleSubmitBacktest(w http.ResponseWriter, r *http.Request) {
	var req SubmitBacktestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Error(w, http.StatusBadRequest, core.WrapError(core.ErrParse, err))
		return
	}
	def, err := s.repo.GetStrategy(r.Context(), req.StrategyID)
	if err != nil {
		response.Error(w, response.StatusFor(err), err)
		return
	}
	start, end, err := parseWindow(req.Start, req.End)
	if err != nil {
		response.Error(w, response.StatusFor(err), err)
		return
	}
	j, err := s.scheduler.SubmitBacktest(r.Context(), &optimize.BacktestRequest{
		Strategy:       def,
		Symbol:         orDefault(req.Symbol, def.Symbol),
		Interval:       orDefault(req.Interval, def.Timeframe),
		Start:          start,
		End:            end,
		InitialCapital: req.InitialCapital,
	})
	if err != nil {
		response.Error(w, response.StatusFor(err), err)
		return
	}
	s.logger.Info("backtest submitted",
		zap.String("job_id", j.ID), zap.String("strategy_id", def.ID))
	response.JSON(w, http.StatusAccepted, j)
}

func (s *Server) handleSubmitOptimization(w http.ResponseWriter, r *http.Request) {
	var req SubmitOptimizationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Error(w, http.StatusBadRequest, core.WrapError(core.ErrParse, err))
		return
	}
	def, err := s.repo.GetStrategy(r.Context(), req.StrategyID)
	if err != nil {
		response.Error(w, response.StatusFor(err), err)
		return
	}
	start, end, err := parseWindow(req.Start, req.End)
	if err != nil {
		response.Error(w, response.StatusFor(err), err)
		return
	}
	j, err := s.scheduler.SubmitOptimization(r.Context(), &optimize.Request{
		Strategy:       def,
		Symbol:         orDefault(req.Symbol, def.Symbol),
		Interval:       orDefault(req.Interval, def.Timeframe),
		Start:          start,
		End:            end,
		InitialCapital: req.InitialCapital,
		Method:         req.Method,
		SearchMethod:   req.SearchMethod,
		Objective:      req.Objective,
		Space:          optimize.Space(req.Space),
		Trials:         req.Trials,
		Seed:           req.Seed,
	})
	if err != nil {
		response.Error(w, response.StatusFor(err), err)
		return
	}
	s.logger.Info("optimization submitted",
		zap.String("job_id", j.ID), zap.String("strategy_id", def.ID))
	response.JSON(w, http.StatusAccepted, j)
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	jobs, err := s.jobs.List(r.Context())
	if err != nil {
		response.Error(w, http.StatusInternalServerError, err)
		return
	}
	response.JSON(w, http.StatusOK, jobs)
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	j, err := s.jobs.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		response.Error(w, response.StatusFor(err), err)
		return
	}
	response.JSON(w, http.StatusOK, j)
}

func (s *Server) handleCancelJob(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.scheduler.Cancel(r.Context(), id); err != nil {
		response.Error(w, response.StatusFor(err), err)
		return
	}
	j, err := s.jobs.Get(r.Context(), id)
	if err != nil {
		response.Error(w, response.StatusFor(err), err)
		return
	}
	response.JSON(w, http.StatusOK, j)
}

// Live

// EvaluateSignalRequest asks for a one-shot evaluation without trading.
type EvaluateSignalRequest struct {
	StrategyID string `json:"strategy_id"`
	Symbol     string `json:"symbol"`
	Interval   string `json:"interval"`
}

func (s *Server) handleEvaluateSignal(w http.ResponseWriter, r *http.Request) {
	var req EvaluateSignalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Error(w, http.StatusBadRequest, core.WrapError(core.ErrParse, err))
		return
	}
	signal, err := s.engine.EvaluateOnce(r.Context(), req.StrategyID, req.Symbol, req.Interval)
	if err != nil {
		response.Error(w, response.StatusFor(err), err)
		return
	}
	response.JSON(w, http.StatusOK, signal)
}

func (s *Server) handleRecentSignals(w http.ResponseWriter, r *http.Request) {
	response.JSON(w, http.StatusOK, s.engine.RecentSignals())
}

func (s *Server) handleListSettings(w http.ResponseWriter, r *http.Request) {
	response.JSON(w, http.StatusOK, s.engine.Settings())
}

func (s *Server) handleUpsertSetting(w http.ResponseWriter, r *http.Request) {
	var setting live.Setting
	if err := json.NewDecoder(r.Body).Decode(&setting); err != nil {
		response.Error(w, http.StatusBadRequest, core.WrapError(core.ErrParse, err))
		return
	}
	if err := s.repo.SaveSetting(r.Context(), &setting); err != nil {
		response.Error(w, response.StatusFor(err), err)
		return
	}
	if err := s.engine.Upsert(setting); err != nil {
		response.Error(w, response.StatusFor(err), err)
		return
	}
	response.JSON(w, http.StatusOK, setting)
}

func (s *Server) handleDeleteSetting(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.repo.DeleteSetting(r.Context(), id); err != nil {
		response.Error(w, http.StatusInternalServerError, err)
		return
	}
	s.engine.Remove(id)
	response.JSON(w, http.StatusOK, map[string]string{"deleted": id})
}

func orDefault(v, fallback string) string {
	if v != "" {
		return v
	}
	return fallback
}
