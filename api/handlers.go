package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strconv"
	"time"

	errorsmod "cosmossdk.io/errors"
	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/michaelpento.lv/pricelab/simulator"
	"github.com/michaelpento.lv/pricelab/types"
)

// RegisterRoutes registers the testbed routes on r.
func (s *Server) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/state", s.handleState).Methods("GET")
	r.HandleFunc("/pools/{name}", s.handlePool).Methods("GET")
	r.HandleFunc("/accounts/{address}", s.handleAccount).Methods("GET")

	r.HandleFunc("/attack", s.handleAttack).Methods("POST")
	r.HandleFunc("/attack/simulate", s.handleSimulate).Methods("POST")
	r.HandleFunc("/attack/plan", s.handlePlan).Methods("GET")
	r.HandleFunc("/attack/trace", s.handleTrace).Methods("GET")
	r.HandleFunc("/attack/report", s.handleReport).Methods("GET")
	r.HandleFunc("/attack/history", s.handleHistory).Methods("GET")
	r.HandleFunc("/attack/history/{id:[0-9]+}", s.handleRun).Methods("GET")

	r.HandleFunc("/twap", s.handleTWAP).Methods("GET")
	r.HandleFunc("/twap/update", s.handleTWAPUpdate).Methods("POST")
	r.HandleFunc("/twap/emergency", s.handleTWAPEmergency).Methods("POST")
	r.HandleFunc("/aggregator", s.handleAggregator).Methods("GET")

	r.HandleFunc("/clock/advance", s.handleAdvanceClock).Methods("POST")
}

// Request/Response types

type AttackRequest struct {
	Target string `json:"target"`
	// FlashAmount is in whole units of A; empty uses the configured amount
	FlashAmount string `json:"flashAmount,omitempty"`
	Caller      string `json:"caller,omitempty"`
}

type AttackResponse struct {
	*simulator.Result
	Codespace string `json:"codespace,omitempty"`
	Code      uint32 `json:"code,omitempty"`
}

type CallerRequest struct {
	Caller string `json:"caller,omitempty"`
}

type AdvanceClockRequest struct {
	Duration string `json:"duration"`
}

type ClockResponse struct {
	Time time.Time `json:"time"`
}

type UpdateResponse struct {
	Height uint64             `json:"height"`
	TWAP   simulator.TWAPView `json:"twap"`
}

func decode(r *http.Request, v interface{}) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

func parseAddress(s string) (common.Address, error) {
	if s == "" {
		return common.Address{}, nil
	}
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("invalid address %q", s)
	}
	return common.HexToAddress(s), nil
}

func parseTarget(s string) (simulator.Target, error) {
	if s == "" {
		return simulator.TargetVulnerable, nil
	}
	return simulator.ParseTarget(s)
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	snap, err := s.sim.Snapshot(r.Context())
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handlePool(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	if _, err := s.sim.Pool(name); err != nil {
		writeError(w, http.StatusNotFound, "not_found", err.Error())
		return
	}
	v, err := s.sim.PoolView(r.Context(), name)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (s *Server) handleAccount(w http.ResponseWriter, r *http.Request) {
	addr, err := parseAddress(mux.Vars(r)["address"])
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	v, err := s.sim.Account(r.Context(), addr)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (s *Server) handleAttack(w http.ResponseWriter, r *http.Request) {
	s.attack(w, r, false)
}

func (s *Server) handleSimulate(w http.ResponseWriter, r *http.Request) {
	s.attack(w, r, true)
}

func (s *Server) attack(w http.ResponseWriter, r *http.Request, dryRun bool) {
	var req AttackRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	target, err := parseTarget(req.Target)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	caller, err := parseAddress(req.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	var flash *big.Int
	if req.FlashAmount != "" {
		if flash, err = types.ParseUnits(req.FlashAmount); err != nil {
			writeErr(w, errorsmod.Wrap(types.ErrInvalidAmount, err.Error()))
			return
		}
	}

	var res *simulator.Result
	if dryRun {
		res, err = s.sim.DryRunAttack(r.Context(), target, caller, flash)
	} else {
		res, err = s.sim.RunAttack(r.Context(), target, caller, flash)
	}
	if err != nil {
		if res == nil {
			writeErr(w, err)
			return
		}
		body := errorBody(err)
		writeJSON(w, statusOf(err), AttackResponse{Result: res, Codespace: body.Codespace, Code: body.Code})
		return
	}
	writeJSON(w, http.StatusOK, AttackResponse{Result: res})
}

func (s *Server) handlePlan(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	target, err := parseTarget(q.Get("target"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	var flash *big.Int
	if v := q.Get("flash"); v != "" {
		if flash, err = types.ParseUnits(v); err != nil {
			writeErr(w, errorsmod.Wrap(types.ErrInvalidAmount, err.Error()))
			return
		}
	}
	res, err := s.sim.Plan(r.Context(), target, flash)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleTrace(w http.ResponseWriter, r *http.Request) {
	target, err := parseTarget(r.URL.Query().Get("target"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	trace, err := s.sim.LastTrace(r.Context(), target)
	if err != nil {
		writeErr(w, err)
		return
	}
	if trace == nil {
		writeError(w, http.StatusNotFound, "not_found", "no attack has been recorded yet")
		return
	}
	writeJSON(w, http.StatusOK, trace)
}

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	target, err := parseTarget(r.URL.Query().Get("target"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	if err := s.sim.Report(r.Context(), w, target); err != nil {
		s.logger.Error("Failed to write report", zap.Error(err))
	}
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.sim.History())
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	res, ok := s.sim.Run(id)
	if !ok {
		writeError(w, http.StatusNotFound, "not_found", fmt.Sprintf("run %d is not in the history", id))
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleTWAP(w http.ResponseWriter, r *http.Request) {
	v, err := s.sim.TWAPView(r.Context())
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (s *Server) handleTWAPUpdate(w http.ResponseWriter, r *http.Request) {
	if err := s.sim.UpdateTWAP(r.Context()); err != nil {
		writeErr(w, err)
		return
	}
	s.writeUpdate(w, r)
}

func (s *Server) handleTWAPEmergency(w http.ResponseWriter, r *http.Request) {
	var req CallerRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	caller, err := parseAddress(req.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if caller == (common.Address{}) {
		caller = simulator.Deployer
	}
	if err := s.sim.EmergencyUpdateTWAP(r.Context(), caller); err != nil {
		writeErr(w, err)
		return
	}
	s.writeUpdate(w, r)
}

func (s *Server) writeUpdate(w http.ResponseWriter, r *http.Request) {
	v, err := s.sim.TWAPView(r.Context())
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, UpdateResponse{Height: s.sim.Chain().Height(), TWAP: v})
}

func (s *Server) handleAggregator(w http.ResponseWriter, r *http.Request) {
	v, err := s.sim.AggregatorView(r.Context())
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (s *Server) handleAdvanceClock(w http.ResponseWriter, r *http.Request) {
	var req AdvanceClockRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	d, err := time.ParseDuration(req.Duration)
	if err != nil || d <= 0 {
		writeError(w, http.StatusBadRequest, "invalid_request", fmt.Sprintf("invalid duration %q", req.Duration))
		return
	}
	writeJSON(w, http.StatusOK, ClockResponse{Time: s.sim.AdvanceClock(d)})
}
