// Copyright (C) 2026 CoRATES (dev@corates.org)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package actor hosts the per-project document actors: the single
// serialization point for one project's CRDT document and its live
// sessions.
//
// # Scheduling model
//
// Each project id maps to exactly one Actor. Every operation against an
// actor (connection, incoming delta, sync RPC, debug call) is posted to
// its mailbox and executed by one goroutine, so no two mutations ever
// interleave and no locks guard the document or the session registry.
// Different projects run fully in parallel.
//
// # State machine
//
//	Cold ──first op──► Loading ──► Active ◄──reconnect── Draining
//	                                  │                      │
//	                                  └──last disconnect─────┘
//	                                                         │
//	                                           grace expired ▼
//	                                                      evicted
//
// Loading happens inside the first mailbox command, so concurrent
// triggers queue behind one load rather than issuing many. Draining arms
// a cancellable grace timer; the final flush is awaited before eviction,
// never after, so a reconnect during the grace window observes exactly
// the state as of the last flush.
package actor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/corates/docsync/services/docsync/crdt"
	"github.com/corates/docsync/services/docsync/datatypes"
	"github.com/corates/docsync/services/docsync/storage"
)

var tracer = otel.Tracer("docsync.actor")

const mailboxDepth = 64

// loggerWithTrace returns a logger carrying the active trace context so
// log lines correlate with spans.
func loggerWithTrace(ctx context.Context, logger *slog.Logger) *slog.Logger {
	spanCtx := trace.SpanContextFromContext(ctx)
	if !spanCtx.IsValid() {
		return logger
	}
	return logger.With(
		slog.String("trace_id", spanCtx.TraceID().String()),
		slog.String("span_id", spanCtx.SpanID().String()),
	)
}

type command struct {
	fn    func() error
	reply chan error
}

// Actor owns one project's document, registry and persistence schedule.
//
// Thread Safety: All exported methods are safe for concurrent use; they
// post to the mailbox and wait for the loop.
type Actor struct {
	projectID string
	replicaID string
	cfg       Config
	store     storage.Store
	logger    *slog.Logger
	evictCB   func(projectID string, a *Actor) bool

	cmds chan command
	done chan struct{}

	// Everything below is owned by the run loop.
	doc        *crdt.Document
	registry   *Registry
	dirty      bool
	flushTimer *time.Timer
	drainTimer *time.Timer
	evicted    bool
}

func newActor(projectID string, store storage.Store, cfg Config, evictCB func(string, *Actor) bool) *Actor {
	a := &Actor{
		projectID: projectID,
		replicaID: "srv-" + uuid.NewString(),
		cfg:       cfg,
		store:     store,
		logger:    cfg.Logger.With(slog.String("project_id", projectID)),
		evictCB:   evictCB,
		cmds:      make(chan command, mailboxDepth),
		done:      make(chan struct{}),
		registry:  newRegistry(),
	}
	actorsActiveGauge.Inc()
	go a.run()
	return a
}

// -----------------------------------------------------------------------------
// Mailbox
// -----------------------------------------------------------------------------

func (a *Actor) run() {
	for {
		select {
		case cmd := <-a.cmds:
			a.exec(cmd)
		case <-a.flushC():
			a.flushTimer = nil
			a.flush(context.Background())
		case <-a.drainC():
			a.drainTimer = nil
			a.drainExpired()
		}
		if a.evicted {
			a.drainMailbox()
			return
		}
	}
}

func (a *Actor) exec(cmd command) {
	if a.evicted {
		cmd.reply <- ErrActorClosed
		return
	}
	cmd.reply <- cmd.fn()
}

// drainMailbox rejects everything queued behind the eviction so callers
// can retry against a fresh actor.
func (a *Actor) drainMailbox() {
	for {
		select {
		case cmd := <-a.cmds:
			cmd.reply <- ErrActorClosed
		default:
			return
		}
	}
}

func (a *Actor) flushC() <-chan time.Time {
	if a.flushTimer != nil {
		return a.flushTimer.C
	}
	return nil
}

func (a *Actor) drainC() <-chan time.Time {
	if a.drainTimer != nil {
		return a.drainTimer.C
	}
	return nil
}

// do posts fn to the mailbox and waits for its result.
func (a *Actor) do(ctx context.Context, fn func() error) error {
	cmd := command{fn: fn, reply: make(chan error, 1)}
	select {
	case a.cmds <- cmd:
	case <-a.done:
		return ErrActorClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-cmd.reply:
		return err
	case <-a.done:
		// The loop is exiting; it either already replied or never will.
		select {
		case err := <-cmd.reply:
			return err
		default:
			return ErrActorClosed
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

// -----------------------------------------------------------------------------
// Loading and persistence (loop-owned)
// -----------------------------------------------------------------------------

// ensureLoaded hydrates the document from the snapshot store on first
// access. A failed load leaves the actor cold; the next operation
// retries.
func (a *Actor) ensureLoaded(ctx context.Context) error {
	if a.doc != nil {
		return nil
	}
	ctx, span := tracer.Start(ctx, "actor.load")
	defer span.End()
	span.SetAttributes(attribute.String("project_id", a.projectID))

	snapshot, err := a.store.Get(ctx, a.projectID)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		actorLoadsTotal.WithLabelValues("error").Inc()
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("%w: load %s: %v", ErrPersistence, a.projectID, err)
	}

	doc, err := crdt.NewDocument(a.replicaID)
	if err != nil {
		return err
	}
	if err := doc.Load(snapshot); err != nil {
		actorLoadsTotal.WithLabelValues("corrupt").Inc()
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("decode snapshot %s: %w", a.projectID, err)
	}
	a.doc = doc
	actorLoadsTotal.WithLabelValues("ok").Inc()
	loggerWithTrace(ctx, a.logger).Info("document loaded",
		slog.Bool("had_snapshot", snapshot != nil))
	return nil
}

// flush writes the full document state to the snapshot store.
func (a *Actor) flush(ctx context.Context) error {
	if a.doc == nil || !a.dirty {
		return nil
	}
	ctx, span := tracer.Start(ctx, "actor.flush")
	defer span.End()

	snapshot, err := a.doc.EncodeFull()
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("encode snapshot %s: %w", a.projectID, err)
	}
	start := time.Now()
	if err := a.store.Put(ctx, a.projectID, snapshot); err != nil {
		persistDuration.WithLabelValues("error").Observe(time.Since(start).Seconds())
		span.SetStatus(codes.Error, err.Error())
		loggerWithTrace(ctx, a.logger).Warn("snapshot write failed, will retry",
			slog.String("error", err.Error()))
		return fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	persistDuration.WithLabelValues("ok").Observe(time.Since(start).Seconds())
	a.dirty = false
	return nil
}

// markDirty schedules a debounced background flush. Used on the client
// delta path, where more mutations are expected imminently; RPC calls
// flush explicitly and awaited instead.
func (a *Actor) markDirty() {
	a.dirty = true
	if a.flushTimer == nil {
		a.flushTimer = time.NewTimer(a.cfg.FlushDebounce)
	}
}

// -----------------------------------------------------------------------------
// Draining and eviction (loop-owned)
// -----------------------------------------------------------------------------

// enterDrain runs when the last session disconnects: flush now, then arm
// the grace timer after which the actor is evicted.
func (a *Actor) enterDrain(ctx context.Context) {
	if err := a.flush(ctx); err != nil {
		a.logger.Warn("drain flush failed", slog.String("error", err.Error()))
	}
	if a.drainTimer == nil {
		a.drainTimer = time.NewTimer(a.cfg.DrainGrace)
	}
	a.logger.Debug("draining", slog.Duration("grace", a.cfg.DrainGrace))
}

// cancelDrain runs when a session arrives while draining.
func (a *Actor) cancelDrain() {
	if a.drainTimer != nil {
		a.drainTimer.Stop()
		a.drainTimer = nil
	}
}

// drainExpired evicts the actor if it is still idle. The flush is
// awaited before eviction, never after.
func (a *Actor) drainExpired() {
	if a.registry.len() > 0 {
		return
	}
	if err := a.flush(context.Background()); err != nil {
		// Keep the actor resident rather than dropping unpersisted
		// state; the next drain attempt retries.
		a.drainTimer = time.NewTimer(a.cfg.DrainGrace)
		return
	}
	a.evict()
}

func (a *Actor) evict() {
	if !a.evictCB(a.projectID, a) {
		return
	}
	a.evicted = true
	actorsActiveGauge.Dec()
	close(a.done)
	a.logger.Info("actor evicted")
}

// -----------------------------------------------------------------------------
// Connections
// -----------------------------------------------------------------------------

// Connect registers a new session for an already-authorized user.
//
// Description:
//
//	Loads the document if this is the first access, registers the
//	session (cancelling any pending drain) and queues the initial full
//	sync frame. Authorization is the manager's job; by the time Connect
//	runs, membership has been re-validated.
//
// Outputs:
//
//	*Session - The registered session. Caller runs the read loop and
//	           must call Disconnect when the transport dies.
//	error    - Load failure; no session is registered in that case.
func (a *Actor) Connect(ctx context.Context, userID string, t Transport) (*Session, error) {
	var session *Session
	err := a.do(ctx, func() error {
		if err := a.ensureLoaded(ctx); err != nil {
			return err
		}
		s := newSession(a, userID, t, a.cfg.SessionBuffer)
		a.cancelDrain()
		a.registry.register(s)
		sessionsActiveGauge.Inc()
		go s.writePump(a.cfg.WriteTimeout)

		snapshot, err := a.doc.EncodeFull()
		if err != nil {
			a.dropSession(s)
			return fmt.Errorf("encode initial sync: %w", err)
		}
		s.enqueue(datatypes.EncodeFrame(datatypes.MessageSync, snapshot))
		session = s
		a.logger.Info("session connected",
			slog.String("session_id", s.ID),
			slog.String("user_id", userID),
			slog.Int("sessions", a.registry.len()))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return session, nil
}

// Disconnect removes a session after its transport closed or errored.
func (a *Actor) Disconnect(ctx context.Context, s *Session) error {
	return a.do(ctx, func() error {
		a.dropSession(s)
		return nil
	})
}

// dropSession unregisters and closes a session; arms the drain when it
// was the last one. Loop-owned.
func (a *Actor) dropSession(s *Session) {
	if !a.registry.unregister(s) {
		return
	}
	s.close()
	sessionsActiveGauge.Dec()
	a.logger.Info("session disconnected",
		slog.String("session_id", s.ID),
		slog.String("user_id", s.UserID),
		slog.Int("sessions", a.registry.len()))
	if a.registry.len() == 0 {
		a.enterDrain(context.Background())
	}
}

// ApplyClientDelta merges a delta received on a session's transport,
// schedules a debounced flush and broadcasts to every other session.
//
// Outputs:
//
//	error - crdt.ErrMalformedDelta when the payload does not decode;
//	        the caller logs it and keeps the connection open.
func (a *Actor) ApplyClientDelta(ctx context.Context, origin *Session, delta []byte) error {
	return a.do(ctx, func() error {
		changed, err := a.doc.ApplyRemote(delta)
		if err != nil {
			deltasTotal.WithLabelValues("malformed").Inc()
			return err
		}
		if !changed {
			deltasTotal.WithLabelValues("noop").Inc()
			return nil
		}
		deltasTotal.WithLabelValues("applied").Inc()
		a.markDirty()
		a.fanout(datatypes.EncodeFrame(datatypes.MessageUpdate, delta), origin)
		return nil
	})
}

// fanout broadcasts a frame and drops sessions whose transport could not
// accept it. Loop-owned.
func (a *Actor) fanout(frame []byte, exclude *Session) {
	for _, s := range a.registry.broadcast(frame, exclude) {
		broadcastDropsTotal.Inc()
		a.logger.Warn("dropping unsendable session",
			slog.String("session_id", s.ID),
			slog.String("user_id", s.UserID))
		a.dropSession(s)
	}
}

// -----------------------------------------------------------------------------
// Sync RPC surface
// -----------------------------------------------------------------------------

// rpc runs one sync RPC as a single transaction: mutate, persist awaited
// to completion, then broadcast. Loop-owned via do().
func (a *Actor) rpc(ctx context.Context, op string, mutate func(tx *crdt.Tx) error, after func()) error {
	err := a.do(ctx, func() error {
		ctx, span := tracer.Start(ctx, "actor.rpc."+op)
		defer span.End()

		if err := a.ensureLoaded(ctx); err != nil {
			return err
		}
		delta, err := a.doc.Mutate(mutate)
		if err != nil {
			return err
		}
		if delta != nil {
			a.dirty = true
			// Persistence is awaited even with zero sessions
			// connected; it is a consequence of the mutation, not
			// of broadcasting.
			if err := a.flush(ctx); err != nil {
				span.SetStatus(codes.Error, err.Error())
				return err
			}
			a.fanout(datatypes.EncodeFrame(datatypes.MessageUpdate, delta), nil)
		}
		if after != nil {
			after()
		}
		return nil
	})
	if err != nil {
		rpcTotal.WithLabelValues(op, "error").Inc()
		return err
	}
	rpcTotal.WithLabelValues(op, "ok").Inc()
	return nil
}

// SyncMember upserts or removes one roster entry. Removing a member also
// closes that user's live sessions: a removed member must not continue
// to receive or send updates.
func (a *Actor) SyncMember(ctx context.Context, req datatypes.SyncMemberRequest) error {
	return a.rpc(ctx, "member", func(tx *crdt.Tx) error {
		switch req.Action {
		case datatypes.SyncActionRemove:
			tx.RemoveMember(req.Member.UserID)
		default:
			tx.PutMember(req.Member)
		}
		return nil
	}, func() {
		if req.Action == datatypes.SyncActionRemove {
			for _, s := range a.registry.byUser(req.Member.UserID) {
				a.logger.Info("closing session of removed member",
					slog.String("session_id", s.ID),
					slog.String("user_id", s.UserID))
				a.dropSession(s)
			}
		}
	})
}

// SyncProject pushes authoritative meta and membership into the live
// document. A supplied members list fully replaces the roster within the
// same transaction; no observer ever sees a mixed roster.
func (a *Actor) SyncProject(ctx context.Context, req datatypes.SyncProjectRequest) error {
	var removed []string
	return a.rpc(ctx, "project", func(tx *crdt.Tx) error {
		for k, v := range req.Meta {
			tx.SetMeta(k, v)
		}
		if req.Members != nil {
			keep := make(map[string]struct{}, len(*req.Members))
			for _, m := range *req.Members {
				keep[m.UserID] = struct{}{}
			}
			for uid := range a.doc.Members() {
				if _, ok := keep[uid]; !ok {
					removed = append(removed, uid)
				}
			}
			tx.ReplaceMembers(*req.Members)
		}
		return nil
	}, func() {
		for _, uid := range removed {
			for _, s := range a.registry.byUser(uid) {
				a.dropSession(s)
			}
		}
	})
}

// SyncPdf adds, updates or removes one attachment, creating the target
// study and its pdfs sub-map when this is the study's first attachment.
func (a *Actor) SyncPdf(ctx context.Context, req datatypes.SyncPdfRequest) error {
	return a.rpc(ctx, "pdf", func(tx *crdt.Tx) error {
		switch req.Action {
		case datatypes.SyncActionRemove:
			tx.RemovePdf(req.StudyID, req.Pdf.Name)
		default:
			tx.EnsureStudy(req.StudyID, req.StudyName)
			tx.PutPdf(req.StudyID, req.Pdf)
		}
		return nil
	}, nil)
}

// -----------------------------------------------------------------------------
// Shutdown and inspection
// -----------------------------------------------------------------------------

// Shutdown flushes and evicts the actor regardless of live sessions.
// Used on service shutdown.
func (a *Actor) Shutdown(ctx context.Context) error {
	err := a.do(ctx, func() error {
		for _, s := range a.allSessions() {
			a.registry.unregister(s)
			s.close()
			sessionsActiveGauge.Dec()
		}
		flushErr := a.flush(ctx)
		a.evict()
		return flushErr
	})
	if errors.Is(err, ErrActorClosed) {
		return nil
	}
	return err
}

func (a *Actor) allSessions() []*Session {
	out := make([]*Session, 0, a.registry.len())
	for _, s := range a.registry.sessions {
		out = append(out, s)
	}
	return out
}

// Export materializes the document as a structured snapshot.
func (a *Actor) Export(ctx context.Context) (datatypes.ProjectDocument, error) {
	var doc datatypes.ProjectDocument
	err := a.do(ctx, func() error {
		if err := a.ensureLoaded(ctx); err != nil {
			return err
		}
		doc = a.doc.Export()
		return nil
	})
	return doc, err
}

// Sessions reports the live session count.
func (a *Actor) Sessions(ctx context.Context) (int, error) {
	var n int
	err := a.do(ctx, func() error {
		n = a.registry.len()
		return nil
	})
	return n, err
}

// Import loads a structured snapshot into the document, replacing or
// merging with the current contents. Debug surface only; persisted and
// broadcast like any other transaction.
func (a *Actor) Import(ctx context.Context, doc datatypes.ProjectDocument, replace bool) error {
	return a.rpc(ctx, "import", func(tx *crdt.Tx) error {
		tx.Import(doc, replace)
		return nil
	}, nil)
}

// Patch applies one keyed write (or delete) to an arbitrary document
// path. Debug surface only.
func (a *Actor) Patch(ctx context.Context, path []string, value any, remove bool) error {
	return a.rpc(ctx, "patch", func(tx *crdt.Tx) error {
		if remove {
			tx.DeletePath(path)
		} else {
			tx.SetPath(path, value)
		}
		return nil
	}, nil)
}

// Reset empties the document. Debug surface only.
func (a *Actor) Reset(ctx context.Context) error {
	return a.rpc(ctx, "reset", func(tx *crdt.Tx) error {
		tx.Clear()
		return nil
	}, nil)
}

// Dump returns the raw binary document state. Debug surface only.
func (a *Actor) Dump(ctx context.Context) ([]byte, error) {
	var raw []byte
	err := a.do(ctx, func() error {
		if err := a.ensureLoaded(ctx); err != nil {
			return err
		}
		var encErr error
		raw, encErr = a.doc.EncodeFull()
		return encErr
	})
	return raw, err
}
