package main

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/alnlive/tokensync/internal/admission"
	"github.com/alnlive/tokensync/internal/bus"
	"github.com/alnlive/tokensync/internal/devices"
	"github.com/alnlive/tokensync/internal/gateway"
	"github.com/alnlive/tokensync/internal/scoring"
	"github.com/alnlive/tokensync/internal/session"
	"github.com/alnlive/tokensync/internal/tokens"
	"github.com/alnlive/tokensync/internal/video"
)

// setupServices wires the domain graph: catalog, dispatcher, session
// coordinator, scoring engine, admission, device tracking, and video.
// Construction order matters only for the coordination listeners,
// which register inside each constructor.
func setupServices(ctx context.Context, catalogPath string, pool *pgxpool.Pool) (gateway.Services, error) {
	d := bus.NewDispatcher()

	catalog, err := tokens.LoadCatalog(catalogPath)
	if err != nil {
		return gateway.Services{}, fmt.Errorf("failed to load token catalog: %w", err)
	}
	log.Info().Int("tokens", catalog.Len()).Str("path", catalogPath).Msg("token catalog loaded")

	clock := clockwork.NewRealClock()

	var sessStore session.Store = session.NewMemStore()
	var txnStore admission.Store = admission.NewMemStore()
	if pool != nil {
		pgSess, err := session.NewPGStore(ctx, pool)
		if err != nil {
			return gateway.Services{}, fmt.Errorf("failed to set up session store: %w", err)
		}
		pgTxn, err := admission.NewPGStore(ctx, pool)
		if err != nil {
			return gateway.Services{}, fmt.Errorf("failed to set up transaction store: %w", err)
		}
		sessStore, txnStore = pgSess, pgTxn
	}

	sessions, err := session.NewCoordinator(ctx, sessStore, d, clock)
	if err != nil {
		return gateway.Services{}, fmt.Errorf("failed to create session coordinator: %w", err)
	}

	engine, err := scoring.NewEngine(catalog, d)
	if err != nil {
		return gateway.Services{}, fmt.Errorf("failed to create scoring engine: %w", err)
	}

	adm := admission.NewService(sessions, engine, catalog, txnStore, d, clock)
	if err := adm.Restore(ctx); err != nil {
		return gateway.Services{}, fmt.Errorf("failed to restore transactions: %w", err)
	}

	return gateway.Services{
		Sessions:  sessions,
		Scoring:   engine,
		Admission: adm,
		Devices:   devices.NewTracker(d, clock),
		Video:     video.NewController(d, nil),
		Catalog:   catalog,
		Bus:       d,
	}, nil
}
