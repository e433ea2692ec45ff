// Package engine is the realtime synchronization state machine. It turns
// join, leave, cursor and edit messages from connections into presence
// changes and revision commits, and decides who hears about the outcome.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"live-collab-sync/internal/metrics"
	"live-collab-sync/internal/presence"
	"live-collab-sync/internal/revisions"
	"live-collab-sync/internal/shares"
)

// Sender delivers an encoded frame to one locally connected client. It
// reports false when the connection is gone or its buffer is full.
type Sender interface {
	Send(connId string, data []byte) bool
}

// Relay forwards room broadcasts to other server instances.
type Relay interface {
	Publish(ctx context.Context, room string, data []byte, exceptConn string) error
}

type Engine struct {
	shares    shares.Resolver
	revisions revisions.Store
	presence  *presence.Registry
	sender    Sender
	relay     Relay
	log       zerolog.Logger
}

type Option func(*Engine)

func WithRelay(r Relay) Option {
	return func(e *Engine) { e.relay = r }
}

func WithLogger(log zerolog.Logger) Option {
	return func(e *Engine) { e.log = log }
}

func New(resolver shares.Resolver, store revisions.Store, registry *presence.Registry, sender Sender, opts ...Option) *Engine {
	e := &Engine{
		shares:    resolver,
		revisions: store,
		presence:  registry,
		sender:    sender,
		log:       zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Handle decodes one inbound frame from connId and dispatches it.
func (e *Engine) Handle(ctx context.Context, connId string, frame []byte) {
	var env Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		e.sendError(connId, CodeMalformed, "Invalid message.")
		return
	}
	var err error
	switch env.Type {
	case TypeJoin:
		var req JoinRequest
		if err = decodePayload(env.Payload, &req); err == nil {
			e.Join(ctx, connId, req)
		}
	case TypeLeave:
		var req LeaveRequest
		if err = decodePayload(env.Payload, &req); err == nil {
			e.Leave(ctx, connId, req)
		}
	case TypeCursor:
		var req CursorRequest
		if err = decodePayload(env.Payload, &req); err == nil {
			e.Cursor(ctx, connId, req)
		}
	case TypeEdit:
		var req EditRequest
		if err = decodePayload(env.Payload, &req); err == nil {
			e.Edit(ctx, connId, req)
		}
	default:
		metrics.MessagesReceived.WithLabelValues("unknown").Inc()
		e.sendError(connId, CodeMalformed, "Unknown message type.")
		return
	}
	metrics.MessagesReceived.WithLabelValues(env.Type).Inc()
	if err != nil {
		e.sendError(connId, CodeMalformed, "Invalid "+env.Type+" payload.")
	}
}

func decodePayload(raw json.RawMessage, v interface{}) error {
	if len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, v)
}

func (e *Engine) Join(ctx context.Context, connId string, req JoinRequest) {
	if req.Token == "" {
		e.sendError(connId, CodeMalformed, "Token is required.")
		return
	}
	if _, ok := e.resolve(ctx, connId, req.Token); !ok {
		return
	}

	name := displayName(req.Username)
	roster := e.presence.Join(req.Token, connId, name)
	e.log.Debug().Str("conn_id", connId).Str("room", req.Token).Str("user", name).Msg("joined room")
	e.broadcastPresence(req.Token, roster)
}

func (e *Engine) Leave(_ context.Context, connId string, req LeaveRequest) {
	if req.Token == "" {
		e.sendError(connId, CodeMalformed, "Token is required.")
		return
	}
	roster, present := e.presence.Leave(req.Token, connId)
	if !present {
		return
	}
	e.log.Debug().Str("conn_id", connId).Str("room", req.Token).Msg("left room")
	e.broadcastPresence(req.Token, roster)
}

// Disconnect drops connId from every room and tells each room's remaining
// members.
func (e *Engine) Disconnect(connId string) {
	for _, rr := range e.presence.Disconnect(connId) {
		e.broadcastPresence(rr.Room, rr.Users)
	}
}

func (e *Engine) Cursor(ctx context.Context, connId string, req CursorRequest) {
	if req.Token == "" {
		e.sendError(connId, CodeMalformed, "Token is required.")
		return
	}
	if _, ok := e.resolve(ctx, connId, req.Token); !ok {
		return
	}

	data, err := encode(TypeCursor, CursorPayload{Index: req.Index, User: displayName(req.Username)})
	if err != nil {
		e.log.Error().Err(err).Msg("failed to encode cursor")
		return
	}
	e.broadcast(ctx, req.Token, data, connId, true)
}

// Edit attempts to commit req.Content on top of req.BaseVersion. The sender
// sees exactly one of: the room-wide content broadcast, a private resync,
// or a private error.
func (e *Engine) Edit(ctx context.Context, connId string, req EditRequest) {
	if req.Token == "" {
		e.sendError(connId, CodeMalformed, "Token is required.")
		return
	}
	capability, ok := e.resolve(ctx, connId, req.Token)
	if !ok {
		metrics.EditOutcomes.WithLabelValues("rejected").Inc()
		return
	}
	if !capability.CanEdit {
		metrics.EditOutcomes.WithLabelValues("rejected").Inc()
		e.sendError(connId, CodeForbidden, "View-only share.")
		return
	}

	// the commit outlives a sender that disconnects mid-edit
	commitCtx := context.WithoutCancel(ctx)
	started := time.Now()
	result, err := e.revisions.Commit(commitCtx, capability.DocumentID, req.Content, req.BaseVersion)
	metrics.CommitDuration.Observe(time.Since(started).Seconds())

	log := e.log.With().Str("conn_id", connId).Str("room", req.Token).Int("document_id", capability.DocumentID).Logger()
	if err != nil {
		metrics.EditOutcomes.WithLabelValues("rejected").Inc()
		if errors.Is(err, revisions.ErrDocumentNotFound) {
			e.sendError(connId, CodeDocumentMissing, "Document not found.")
			return
		}
		log.Error().Err(err).Msg("commit failed")
		e.sendError(connId, CodeInternal, "Internal error.")
		return
	}

	metrics.EditOutcomes.WithLabelValues(result.Outcome.String()).Inc()
	switch result.Outcome {
	case revisions.Accepted:
		data, err := encode(TypeContent, ContentPayload{
			Content: result.Content,
			Version: result.Version,
			Editor:  displayName(req.Username),
		})
		if err != nil {
			log.Error().Err(err).Msg("failed to encode content")
			return
		}
		log.Debug().Int("version", result.Version).Msg("edit accepted")
		if !e.isMember(req.Token, connId) {
			e.sender.Send(connId, data)
		}
		e.broadcast(commitCtx, req.Token, data, "", true)
	case revisions.Conflict:
		log.Debug().Int("base_version", req.BaseVersion).Int("version", result.Version).Msg("edit conflicted")
		e.send(connId, TypeResync, ResyncPayload{Content: result.Content, Version: result.Version})
	}
}

// DeliverLocal fans data out to this instance's members of room, skipping
// exceptConn. Relayed broadcasts from other instances arrive here.
func (e *Engine) DeliverLocal(room string, data []byte, exceptConn string) {
	for _, id := range e.presence.Members(room) {
		if id == exceptConn {
			continue
		}
		e.sender.Send(id, data)
	}
}

func (e *Engine) broadcast(ctx context.Context, room string, data []byte, exceptConn string, relay bool) {
	e.DeliverLocal(room, data, exceptConn)
	if relay && e.relay != nil {
		if err := e.relay.Publish(ctx, room, data, exceptConn); err != nil {
			e.log.Warn().Err(err).Str("room", room).Msg("relay publish failed")
		}
	}
}

func (e *Engine) broadcastPresence(room string, users []string) {
	data, err := encode(TypePresence, PresencePayload{Users: users})
	if err != nil {
		e.log.Error().Err(err).Msg("failed to encode presence")
		return
	}
	e.DeliverLocal(room, data, "")
}

func (e *Engine) isMember(room, connId string) bool {
	for _, id := range e.presence.Members(room) {
		if id == connId {
			return true
		}
	}
	return false
}

func (e *Engine) resolve(ctx context.Context, connId, token string) (shares.Capability, bool) {
	capability, err := e.shares.Resolve(ctx, token)
	if err == nil {
		return capability, true
	}
	if errors.Is(err, shares.ErrInvalidToken) {
		e.sendError(connId, CodeInvalidToken, "Invalid share token.")
	} else {
		e.log.Error().Err(err).Str("conn_id", connId).Msg("share lookup failed")
		e.sendError(connId, CodeInternal, "Internal error.")
	}
	return shares.Capability{}, false
}

// SendError delivers an error frame to one connection. The transport uses
// it for failures detected before a message reaches the engine.
func (e *Engine) SendError(connId, code, message string) {
	e.sendError(connId, code, message)
}

func (e *Engine) sendError(connId, code, message string) {
	metrics.ProtocolErrors.WithLabelValues(code).Inc()
	e.send(connId, TypeError, ErrorPayload{Message: message, Code: code})
}

func (e *Engine) send(connId, msgType string, payload interface{}) {
	data, err := encode(msgType, payload)
	if err != nil {
		e.log.Error().Err(err).Str("type", msgType).Msg("failed to encode message")
		return
	}
	e.sender.Send(connId, data)
}
