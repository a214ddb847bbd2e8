package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/dshills/planforge/flow"
	"github.com/dshills/planforge/flow/store"
	"github.com/dshills/planforge/pipeline"
)

func (a *app) serveCmd() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the pipeline over HTTP with Prometheus metrics",
		RunE: func(cmd *cobra.Command, args []string) error {
			reg := prometheus.NewRegistry()
			rt, err := a.setup(cmd.Context(), flow.NewMetrics(reg))
			if err != nil {
				return err
			}
			defer rt.close()

			srv := &http.Server{
				Addr:              addr,
				Handler:           newRouter(rt, reg),
				ReadHeaderTimeout: 10 * time.Second,
			}
			cmd.Printf("listening on %s\n", addr)
			return srv.ListenAndServe()
		},
	}
	cmd.Flags().StringVar(&addr, "addr", ":8080", "listen address")
	return cmd
}

// server exposes pipeline runs over HTTP. Runs execute in the background;
// callers poll the run resource for progress.
type server struct {
	rt *runtime
}

func newRouter(rt *runtime, reg *prometheus.Registry) http.Handler {
	s := &server{rt: rt}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	r.Route("/runs", func(r chi.Router) {
		r.Post("/", s.startRun)
		r.Get("/{runID}", s.getRun)
		r.Post("/{runID}/answers", s.resumeRun)
	})
	return r
}

type startRequest struct {
	Idea  string `json:"idea"`
	RunID string `json:"run_id,omitempty"`
}

type answersRequest struct {
	Answers map[string]string `json:"answers"`
}

type runResponse struct {
	RunID     string             `json:"run_id"`
	Step      int                `json:"step,omitempty"`
	Status    string             `json:"status,omitempty"`
	Next      string             `json:"next,omitempty"`
	Complete  bool               `json:"complete"`
	Questions []string           `json:"questions,omitempty"`
	SpentUSD  float64            `json:"spent_usd"`
	Document  *pipeline.Document `json:"document,omitempty"`
}

func (s *server) startRun(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Idea == "" {
		httpError(w, http.StatusBadRequest, "body must be a JSON object with a non-empty idea")
		return
	}
	runID := req.RunID
	if runID == "" {
		runID = uuid.NewString()
	} else if _, err := s.rt.store.LoadLatest(r.Context(), runID); !errors.Is(err, store.ErrNotFound) {
		if err != nil {
			httpError(w, http.StatusInternalServerError, err.Error())
			return
		}
		httpError(w, http.StatusConflict, "run already exists, resume it via POST /runs/{runID}/answers")
		return
	}

	// The run outlives this request; suspension and errors land in the
	// checkpoint store and event stream where polling picks them up.
	ctx := context.WithoutCancel(r.Context())
	go func() { _, _ = s.rt.engine.Run(ctx, runID, pipeline.NewDocument(req.Idea)) }()

	writeJSON(w, http.StatusAccepted, runResponse{RunID: runID})
}

func (s *server) resumeRun(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")

	var req answersRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpError(w, http.StatusBadRequest, "body must be a JSON object with answers")
		return
	}
	var input pipeline.Document
	for q, answer := range req.Answers {
		input.Answers = append(input.Answers, pipeline.QA{Question: q, Answer: answer})
	}

	if _, err := s.rt.store.LoadLatest(r.Context(), runID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			httpError(w, http.StatusNotFound, "no such run")
			return
		}
		httpError(w, http.StatusInternalServerError, err.Error())
		return
	}

	ctx := context.WithoutCancel(r.Context())
	go func() { _, _ = s.rt.engine.Run(ctx, runID, input) }()

	writeJSON(w, http.StatusAccepted, runResponse{RunID: runID})
}

func (s *server) getRun(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")

	cp, err := s.rt.store.LoadLatest(r.Context(), runID)
	if errors.Is(err, store.ErrNotFound) {
		httpError(w, http.StatusNotFound, "no such run")
		return
	}
	if err != nil {
		httpError(w, http.StatusInternalServerError, err.Error())
		return
	}

	resp := runResponse{
		RunID:    cp.RunID,
		Step:     cp.Step,
		Status:   cp.State.Status,
		Next:     cp.NodeID,
		Complete: cp.NodeID == flow.End,
		SpentUSD: cp.State.Ledger.CostUSD,
		Document: &cp.State,
	}
	if cp.State.Status == "awaiting-answers" {
		resp.Questions = cp.State.Questions
	}
	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func httpError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
