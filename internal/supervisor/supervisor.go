// Package supervisor implements the tick loop of spec.md §4.7: every
// 10 seconds it reads the enabled connections, ensures exactly one WS
// listener per ws_json connection, and dispatches independent
// fetch-and-parse+writer tasks for HTTP-family connections whose
// schedule says they're due.
package supervisor

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nowplaying-fm/ingest-engine/internal/config"
	"github.com/nowplaying-fm/ingest-engine/internal/fetch"
	"github.com/nowplaying-fm/ingest-engine/internal/model"
	"github.com/nowplaying-fm/ingest-engine/internal/store"
	"github.com/nowplaying-fm/ingest-engine/internal/writer"
	"github.com/nowplaying-fm/ingest-engine/internal/wslisten"
)

// DefaultTickInterval is the fallback New applies when a zero-value
// config.SupervisorConfig is given (e.g. in tests); cmd/ingestd always
// supplies cfg.Supervisor from a validated config.Config, whose fields
// are already defaulted.
const DefaultTickInterval = 10 * time.Second

// Supervisor drives the whole engine from a single Run call.
type Supervisor struct {
	store   store.Store
	fetcher *fetch.Fetcher
	writer  *writer.Writer
	logger  *slog.Logger

	tickInterval time.Duration
	wsConfig     config.WSListenerConfig

	activeMu sync.Mutex
	active   map[uuid.UUID]struct{}

	wg sync.WaitGroup
}

// New creates a Supervisor tuned by cfg (spec.md §6.3's supervisor,
// ws_listener, and http_fetch knobs). A nil cfg uses config.Default().
func New(st store.Store, logger *slog.Logger, cfg *config.Config) *Supervisor {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg == nil {
		cfg = config.Default()
	}
	tick := cfg.Supervisor.TickInterval
	if tick <= 0 {
		tick = DefaultTickInterval
	}
	w := writer.New(st, logger)
	return &Supervisor{
		store:        st,
		fetcher:      fetch.New(cfg.HTTPFetch),
		writer:       w,
		logger:       logger,
		tickInterval: tick,
		wsConfig:     cfg.WSListener,
		active:       make(map[uuid.UUID]struct{}),
	}
}

// Run blocks until ctx is canceled, ticking every configured tick
// interval. On return, it waits for in-flight WS listeners and HTTP
// poll tasks it spawned to observe cancellation.
func (s *Supervisor) Run(ctx context.Context) {
	ticker := time.NewTicker(s.tickInterval)
	defer ticker.Stop()

	s.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			s.wg.Wait()
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Supervisor) tick(ctx context.Context) {
	conns, err := s.store.ListEnabledConnections(ctx)
	if err != nil {
		s.logger.Error("supervisor: list enabled connections failed", "error", err)
		return
	}

	now := time.Now().UTC()
	for i := range conns {
		conn := conns[i]
		if conn.ConnectionType.IsWS() {
			s.ensureListener(ctx, conn.ID)
			continue
		}
		if shouldPoll(&conn, now) {
			s.dispatchPoll(ctx, conn)
		}
	}
}

// shouldPoll implements spec.md §4.7 step 2's should_poll evaluation.
func shouldPoll(conn *model.Connection, now time.Time) bool {
	if conn.NextPollAt != nil {
		return !now.Before(*conn.NextPollAt)
	}
	if conn.LastPolledAt == nil {
		return true
	}
	return now.Sub(*conn.LastPolledAt) >= conn.PollInterval
}

// ensureListener starts a WS listener for connID if one isn't already
// running, under the shared active-WS mutex (spec.md §5).
func (s *Supervisor) ensureListener(ctx context.Context, connID uuid.UUID) {
	s.activeMu.Lock()
	if _, ok := s.active[connID]; ok {
		s.activeMu.Unlock()
		return
	}
	s.active[connID] = struct{}{}
	s.activeMu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			s.activeMu.Lock()
			delete(s.active, connID)
			s.activeMu.Unlock()
		}()

		l := wslisten.New(s.store, s.writer, connID, s.logger, s.wsConfig)
		l.Run(ctx)
	}()
}

// dispatchPoll spawns an independent HTTP fetch-and-parse+writer task.
// Failures are logged; the supervisor tick continues regardless.
func (s *Supervisor) dispatchPoll(ctx context.Context, conn model.Connection) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.poll(ctx, &conn)
	}()
}

func (s *Supervisor) poll(ctx context.Context, conn *model.Connection) {
	observedAt := time.Now().UTC()

	var mapping *model.MappingSpec
	if conn.PayloadMappingID != nil {
		pm, err := s.store.GetMapping(ctx, *conn.PayloadMappingID)
		if err != nil {
			s.logger.Warn("supervisor: mapping lookup failed, falling back to best-effort extraction", "connection_id", conn.ID, "error", err)
		} else {
			mapping = &pm.Mapping
		}
	}

	result, err := s.fetcher.FetchAndParse(ctx, conn, mapping)
	if err != nil {
		if werr := s.writer.WriteFetchFailure(ctx, conn, observedAt, err); werr != nil {
			s.logger.Error("supervisor: failed to record fetch failure", "connection_id", conn.ID, "error", werr)
		}
		return
	}

	in := writer.Input{
		StatusCode:  result.StatusCode,
		ContentType: result.ContentType,
		RawPayload:  result.Body,
		Fields:      result.Fields,
	}
	if err := s.writer.Write(ctx, conn, in, observedAt); err != nil {
		s.logger.Error("supervisor: writer failed", "connection_id", conn.ID, "error", err)
	}
}
