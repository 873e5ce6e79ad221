package main

import (
	"context"
	"fmt"

	"roadtest/internal/agent"
	"roadtest/internal/config"
	"roadtest/internal/control"
	"roadtest/internal/device"
	"roadtest/internal/embedding"
	"roadtest/internal/graph"
	"roadtest/internal/history"
	"roadtest/internal/knowledge"
	"roadtest/internal/llm"
	"roadtest/internal/logging"
	"roadtest/internal/verify"
	"roadtest/internal/vision"
)

// app wires the component stack for one CLI invocation. Model and OCR
// backends are optional; everything degrades to the strategies that remain.
type app struct {
	cfg      *config.Config
	ctrl     *control.Controller
	driver   *device.Driver
	store    *knowledge.Store
	oracle   *llm.Oracle
	resolver *vision.Resolver
	verifier *verify.Verifier
	refs     *verify.ReferenceStore
	recorder *history.Recorder
	orch     *agent.Orchestrator
	ocr      vision.OCREngine
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	log := logging.Get(logging.CategoryBoot)

	a := &app{cfg: cfg, ctrl: control.New()}
	a.driver = device.NewDriver(device.NewADBTransport(cfg.Device.Serial), a.ctrl, cfg.Device)

	var engine embedding.Engine
	if cfg.Model.APIKey != "" {
		eng, err := embedding.NewGenAIEngine(ctx, cfg.Model.APIKey, cfg.Model.EmbeddingModel)
		if err != nil {
			log.Warnw("embedding engine unavailable, search falls back to substrings", "err", err)
		} else {
			engine = eng
		}
		a.oracle = llm.NewOracle(llm.NewGeminiClient(cfg.Model), cfg.Model)
	} else {
		log.Warnw("no model API key; planning and routing run without a model")
	}

	store, err := knowledge.Open(cfg, engine)
	if err != nil {
		return nil, fmt.Errorf("opening knowledge store: %w", err)
	}
	a.store = store

	if ocr, err := vision.NewTesseractEngine(); err != nil {
		log.Warnw("OCR unavailable", "err", err)
	} else {
		a.ocr = ocr
	}
	var modelOracle vision.ModelOracle
	if a.oracle != nil {
		modelOracle = a.oracle
	}
	a.resolver = vision.New(cfg, store.Profiles, modelOracle, a.ocr)

	a.refs, err = verify.NewReferenceStore(cfg.DataDir)
	if err != nil {
		return nil, err
	}
	var diag verify.Diagnostician
	if a.oracle != nil {
		diag = a.oracle
	}
	a.verifier = verify.New(cfg, a.refs, diag)

	a.recorder, err = history.NewRecorder(cfg.DataDir)
	if err != nil {
		return nil, err
	}

	deps := graph.Deps{
		Device:    a.driver,
		Vision:    a.resolver,
		Verifier:  a.verifier,
		Knowledge: agent.NewKnowledgeBridge(store),
		Control:   a.ctrl,
		History:   a.recorder,
	}
	if a.oracle != nil {
		deps.Oracle = a.oracle
	}
	a.orch = agent.New(cfg, graph.NewEngine(cfg, deps), a.ctrl)
	return a, nil
}

func (a *app) Close() {
	if a.ocr != nil {
		a.ocr.Close()
	}
	if a.store != nil {
		a.store.Close()
	}
}
