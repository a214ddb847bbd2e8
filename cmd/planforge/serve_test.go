package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/dshills/planforge/flow"
	"github.com/dshills/planforge/flow/call"
	"github.com/dshills/planforge/flow/model"
	"github.com/dshills/planforge/flow/store"
	"github.com/dshills/planforge/pipeline"
)

func newTestRouter(t *testing.T) (http.Handler, *store.MemStore[pipeline.Document]) {
	t.Helper()

	mock := &model.MockChatModel{Responses: []model.ChatOut{{
		Text:  `{"requirements":[{"id":"R1","title":"track tasks"}],"entities":[{"name":"User"}]}`,
		Usage: model.Usage{InputTokens: 100, OutputTokens: 50},
	}}}
	st := store.NewMemStore[pipeline.Document]()
	stages := &pipeline.Stages{
		Calls:     call.New(mock, "claude-3-5-sonnet-20241022"),
		BudgetUSD: 2.00,
		MaxCycles: 2,
	}
	engine, err := pipeline.Build(stages, st, nil, flow.Options{MaxSteps: 50})
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	return newRouter(&runtime{store: st, engine: engine}, prometheus.NewRegistry()), st
}

func saveCheckpoint(t *testing.T, st *store.MemStore[pipeline.Document], runID string) {
	t.Helper()
	err := st.SaveStep(context.Background(), store.Checkpoint[pipeline.Document]{
		RunID:     runID,
		Step:      1,
		NodeID:    pipeline.NodeClarify,
		State:     pipeline.NewDocument("a task tracker"),
		CreatedAt: time.Now(),
	})
	if err != nil {
		t.Fatalf("SaveStep failed: %v", err)
	}
}

func TestServe_StartRun(t *testing.T) {
	router, st := newTestRouter(t)

	t.Run("existing run ID conflicts", func(t *testing.T) {
		saveCheckpoint(t, st, "run-taken")

		req := httptest.NewRequest(http.MethodPost, "/runs",
			strings.NewReader(`{"idea":"a task tracker","run_id":"run-taken"}`))
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		if rec.Code != http.StatusConflict {
			t.Fatalf("expected 409 for reused run ID, got %d: %s", rec.Code, rec.Body)
		}
	})

	t.Run("fresh run ID accepted", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/runs",
			strings.NewReader(`{"idea":"a task tracker","run_id":"run-fresh"}`))
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		if rec.Code != http.StatusAccepted {
			t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body)
		}
	})

	t.Run("missing idea rejected", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/runs", strings.NewReader(`{}`))
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		if rec.Code != http.StatusBadRequest {
			t.Fatalf("expected 400, got %d: %s", rec.Code, rec.Body)
		}
	})
}

func TestServe_RunLookup(t *testing.T) {
	router, st := newTestRouter(t)

	t.Run("unknown run is 404", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/runs/run-nowhere", nil)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		if rec.Code != http.StatusNotFound {
			t.Fatalf("expected 404, got %d: %s", rec.Code, rec.Body)
		}
	})

	t.Run("answers for unknown run is 404", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/runs/run-nowhere/answers",
			strings.NewReader(`{"answers":{"tenancy?":"multi"}}`))
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		if rec.Code != http.StatusNotFound {
			t.Fatalf("expected 404, got %d: %s", rec.Code, rec.Body)
		}
	})

	t.Run("checkpointed run is readable", func(t *testing.T) {
		saveCheckpoint(t, st, "run-known")

		req := httptest.NewRequest(http.MethodGet, "/runs/run-known", nil)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body)
		}
	})
}
