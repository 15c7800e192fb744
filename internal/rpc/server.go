package rpc

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/BetterClaw-app/betterclaw-plugin/internal/config"
	"github.com/BetterClaw-app/betterclaw-plugin/internal/contextstore"
	"github.com/BetterClaw-app/betterclaw-plugin/internal/ingest"
	"github.com/BetterClaw-app/betterclaw-plugin/internal/model"
	"github.com/BetterClaw-app/betterclaw-plugin/internal/proactive"
)

type Pipeline interface {
	Submit(ev model.DeviceEvent) bool
	Initialized() bool
}

type Server struct {
	cfg      *config.Manager
	pipe     Pipeline
	store    *contextstore.Store
	insights *proactive.Store
	logger   *slog.Logger
	version  string
}

type request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
}

type response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Result  any             `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

type rpcError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func Start(ctx context.Context, cfg *config.Manager, pipe Pipeline, store *contextstore.Store, insights *proactive.Store, logger *slog.Logger, version string) *http.Server {
	current := cfg.Get().Ingest.RPC
	if !current.Enabled {
		if logger != nil {
			logger.Info("rpc disabled")
		}
		return nil
	}
	if logger != nil {
		logger.Info("rpc enabled", "addr", current.Addr)
	}
	server := &Server{
		cfg:      cfg,
		pipe:     pipe,
		store:    store,
		insights: insights,
		logger:   logger,
		version:  version,
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/rpc", server.handleRPC)
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	httpServer := &http.Server{Addr: current.Addr, Handler: mux}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(ctxShutdown)
	}()
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			if logger != nil {
				logger.Error("rpc server error", "err", err)
			}
		}
	}()
	return httpServer
}

func (s *Server) handleRPC(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	var req request
	if err := json.Unmarshal(body, &req); err != nil {
		writeResponse(w, response{JSONRPC: "2.0", Error: &rpcError{Code: "PARSE_ERROR", Message: err.Error()}})
		return
	}
	resp := s.dispatch(req)
	writeResponse(w, resp)
}

func (s *Server) dispatch(req request) response {
	resp := response{JSONRPC: "2.0", ID: req.ID}
	switch req.Method {
	case "betterclaw.ping":
		resp.Result = map[string]any{
			"ok":          true,
			"version":     s.version,
			"initialized": s.pipe.Initialized(),
		}
	case "betterclaw.event":
		result, rpcErr := s.handleEvent(req.Params)
		resp.Result, resp.Error = result, rpcErr
	case "betterclaw.get_context":
		result, rpcErr := s.handleGetContext(req.Params)
		resp.Result, resp.Error = result, rpcErr
	case "betterclaw.status":
		now := float64(time.Now().UnixNano()) / 1e9
		resp.Result = map[string]any{"text": Summary(s.store.Get(), now)}
	case "betterclaw.insights":
		result, rpcErr := s.handleInsights(req.Params)
		resp.Result, resp.Error = result, rpcErr
	default:
		resp.Error = &rpcError{Code: "METHOD_NOT_FOUND", Message: req.Method}
	}
	return resp
}

// handleEvent validates, acknowledges, and hands off. Processing is
// asynchronous; intake arriving before init waits in the queue behind
// the init gate.
func (s *Server) handleEvent(params json.RawMessage) (any, *rpcError) {
	now := float64(time.Now().UnixNano()) / 1e9
	ev, err := ingest.DecodeEvent(params, now)
	if err != nil {
		return nil, &rpcError{Code: "INVALID_PARAMS", Message: err.Error()}
	}
	s.pipe.Submit(ev)
	return map[string]any{"accepted": true}, nil
}

type getContextParams struct {
	Include []string `json:"include"`
}

func (s *Server) handleGetContext(params json.RawMessage) (any, *rpcError) {
	var p getContextParams
	if len(params) > 0 {
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, &rpcError{Code: "INVALID_PARAMS", Message: err.Error()}
		}
	}
	include := map[string]bool{}
	for _, section := range p.Include {
		include[section] = true
	}
	all := len(include) == 0

	dc := s.store.Get()
	payload := map[string]any{}
	if all || include["device"] {
		payload["device"] = dc.Device
	}
	if all || include["activity"] {
		payload["activity"] = dc.Activity
	}
	if all || include["meta"] {
		payload["meta"] = dc.Meta
	}
	if all || include["patterns"] {
		payload["patterns"] = s.store.ReadPatterns()
	}
	text, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return nil, &rpcError{Code: "INTERNAL_ERROR", Message: err.Error()}
	}
	return map[string]any{"text": string(text)}, nil
}

type insightsParams struct {
	Limit int     `json:"limit"`
	Since float64 `json:"since"`
}

func (s *Server) handleInsights(params json.RawMessage) (any, *rpcError) {
	var p insightsParams
	if len(params) > 0 {
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, &rpcError{Code: "INVALID_PARAMS", Message: err.Error()}
		}
	}
	var list []model.Insight
	if p.Since > 0 {
		list = s.insights.Since(p.Since)
	} else {
		list = s.insights.List(p.Limit)
	}
	return map[string]any{"insights": list, "count": len(list)}, nil
}

func writeResponse(w http.ResponseWriter, resp response) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}
