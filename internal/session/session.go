package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"chat-core/internal/models"
	"chat-core/internal/presence"
	"chat-core/internal/relay"
	"chat-core/internal/store"
	"chat-core/pkg/logger"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

type State int32

const (
	StateConnecting State = iota
	StateAuthenticated
	StateActive
	StateClosed
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
)

// Deps are the collaborators shared by every session in the process.
type Deps struct {
	Store     store.Store
	Presence  *presence.Store
	Relay     relay.Relay
	Router    *Router
	Registry  *Registry
	Subs      *Subscriptions
	Heartbeat time.Duration
}

// Session is the per-connection protocol state machine. It parses
// inbound frames, validates them, invokes the router, presence store and
// subscription manager, and writes outbound frames. Collaborator errors
// are converted to error frames at the dispatch boundary; they never
// crash the session loop.
type Session struct {
	socketID    string
	userID      string
	conn        *websocket.Conn
	send        chan []byte
	state       atomic.Int32
	deps        Deps
	ctx         context.Context
	cancel      context.CancelFunc
	connectedAt time.Time

	relayMu   sync.Mutex
	relaySubs map[string]relay.Subscription

	closeOnce sync.Once
	done      chan struct{}
}

// New creates a session in the Connecting state for the user id the
// client claimed in the connection URL.
func New(conn *websocket.Conn, claimedUserID string, deps Deps) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	return &Session{
		socketID:    uuid.NewString(),
		userID:      claimedUserID,
		conn:        conn,
		send:        make(chan []byte, 256),
		deps:        deps,
		ctx:         ctx,
		cancel:      cancel,
		connectedAt: time.Now(),
		relaySubs:   make(map[string]relay.Subscription),
		done:        make(chan struct{}),
	}
}

func (s *Session) SocketID() string { return s.socketID }
func (s *Session) UserID() string   { return s.userID }

func (s *Session) State() State {
	return State(s.state.Load())
}

// Run drives the session to completion: authenticate, activate, then
// pump frames until the connection dies. Blocks until teardown.
func (s *Session) Run(authenticatedUserID string) {
	if err := s.authenticate(authenticatedUserID); err != nil {
		s.rejectHandshake(err)
		return
	}

	if err := s.activate(); err != nil {
		logger.Error("Failed to activate session for user %s: %v", s.userID, err)
		s.rejectHandshake(err)
		return
	}

	go s.writePump()
	go s.heartbeatLoop()
	s.readPump()
}

// authenticate validates the URL-supplied user id against the identity
// the token resolved to.
func (s *Session) authenticate(authenticatedUserID string) error {
	if s.userID == "" || authenticatedUserID == "" {
		return &AuthenticationError{Message: "missing identity"}
	}
	if s.userID != authenticatedUserID {
		return &AuthenticationError{Message: "identity mismatch"}
	}
	s.state.Store(int32(StateAuthenticated))
	return nil
}

// rejectHandshake sends a best-effort error frame and closes with a
// policy-violation code. Terminal.
func (s *Session) rejectHandshake(err error) {
	s.state.Store(int32(StateClosed))
	frame := models.ErrorFrame("Unauthorized", err.Error())
	if data, merr := json.Marshal(frame); merr == nil {
		s.conn.SetWriteDeadline(time.Now().Add(writeWait))
		s.conn.WriteMessage(websocket.TextMessage, data)
	}
	s.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "unauthorized"),
		time.Now().Add(writeWait))
	s.conn.Close()
	s.cancel()
}

// activate sets presence, records the socket in the registry and
// subscribes the session to its personal channel. After this the
// session is Active and private-chat deliveries reach it.
func (s *Session) activate() error {
	if err := s.deps.Presence.SetOnline(s.userID); err != nil {
		return &CollaboratorError{Op: "set presence", Err: err}
	}
	s.deps.Registry.Add(s)

	if err := s.subscribeChannel(relay.UserMessages(s.userID)); err != nil {
		return &CollaboratorError{Op: "subscribe personal channel", Err: err}
	}

	s.state.Store(int32(StateActive))
	logger.Info("Session %s active for user %s", s.socketID, s.userID)
	return nil
}

// subscribeChannel attaches a relay subscription delivering straight to
// the socket's send queue. Idempotent per channel.
func (s *Session) subscribeChannel(channel string) error {
	s.relayMu.Lock()
	defer s.relayMu.Unlock()
	if _, ok := s.relaySubs[channel]; ok {
		return nil
	}
	sub, err := s.deps.Relay.Subscribe(channel, s.deliver)
	if err != nil {
		return err
	}
	s.relaySubs[channel] = sub
	return nil
}

func (s *Session) unsubscribeChannel(channel string) {
	s.relayMu.Lock()
	defer s.relayMu.Unlock()
	if sub, ok := s.relaySubs[channel]; ok {
		if err := sub.Unsubscribe(); err != nil {
			logger.Error("Error unsubscribing %s from %s: %v", s.socketID, channel, err)
		}
		delete(s.relaySubs, channel)
	}
}

func (s *Session) unsubscribeAll() {
	s.relayMu.Lock()
	defer s.relayMu.Unlock()
	for channel, sub := range s.relaySubs {
		if err := sub.Unsubscribe(); err != nil {
			logger.Error("Error unsubscribing %s from %s: %v", s.socketID, channel, err)
		}
		delete(s.relaySubs, channel)
	}
}

// deliver is the relay handler: payloads are complete frames, relayed to
// the socket verbatim. A full send queue means a consumer too slow to
// keep up; the session is evicted, the client reconnects and backfills.
func (s *Session) deliver(payload []byte) {
	select {
	case <-s.done:
	case s.send <- payload:
	default:
		logger.Warn("Send queue full for socket %s (user %s), evicting", s.socketID, s.userID)
		go s.Close()
	}
}

func (s *Session) sendFrame(frame models.Frame) {
	data, err := json.Marshal(frame)
	if err != nil {
		logger.Error("Error marshaling %s frame: %v", frame.Type, err)
		return
	}
	s.deliver(data)
}

// sendError converts a handler error into a non-fatal error frame.
func (s *Session) sendError(err error) {
	var protoErr *ProtocolError
	var authzErr *AuthorizationError
	var collabErr *CollaboratorError

	switch {
	case errors.As(err, &protoErr):
		s.sendFrame(models.ErrorFrame(protoErr.Message, ""))
	case errors.As(err, &authzErr):
		s.sendFrame(models.ErrorFrame(authzErr.Message, ""))
	case errors.As(err, &collabErr):
		logger.Error("Collaborator failure for user %s: %v", s.userID, collabErr)
		s.sendFrame(models.ErrorFrame(collabErr.Op+" failed", collabErr.Err.Error()))
	default:
		logger.Error("Unexpected handler error for user %s: %v", s.userID, err)
		s.sendFrame(models.ErrorFrame("internal error", ""))
	}
}

func (s *Session) readPump() {
	defer s.teardown()

	s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		s.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				logger.Error("WebSocket error on socket %s: %v", s.socketID, err)
			}
			return
		}

		var frame models.Frame
		if err := json.Unmarshal(raw, &frame); err != nil {
			s.sendError(&ProtocolError{Message: "malformed frame"})
			continue
		}
		s.dispatch(frame)
	}
}

func (s *Session) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		s.conn.Close()
	}()

	for {
		select {
		case <-s.done:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			s.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return

		case msg := <-s.send:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				logger.Error("Write error on socket %s: %v", s.socketID, err)
				return
			}

		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// heartbeatLoop refreshes the presence TTL while the connection lives.
// Cancelled on teardown; a crashed process simply stops refreshing and
// the TTL expiry converges to the same offline state.
func (s *Session) heartbeatLoop() {
	ticker := time.NewTicker(s.deps.Heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			if err := s.deps.Presence.SetOnline(s.userID); err != nil {
				logger.Error("Presence refresh failed for user %s: %v", s.userID, err)
			}
		}
	}
}

// dispatch is the exhaustive inbound frame switch. Every handler error
// becomes an error frame; the connection stays Active.
func (s *Session) dispatch(frame models.Frame) {
	var err error
	switch frame.Type {
	case models.FrameIdentify:
		err = s.handleIdentify()
	case models.FrameChatMessage:
		err = s.handleChatMessage(frame.Data)
	case models.FrameTyping:
		err = s.handleTyping(frame.Data, models.FrameTyping)
	case models.FrameStopTyping:
		err = s.handleTyping(frame.Data, models.FrameStopTyping)
	case models.FrameJoinConversation:
		err = s.handleJoinConversation(frame.Data)
	case models.FrameLeaveConversation:
		err = s.handleLeaveConversation(frame.Data)
	case models.FrameOnlineConnections:
		err = s.handleOnlineConnections()
	case models.FrameConnectionEstablished, models.FrameMessageSent, models.FrameNewMessage,
		models.FrameNewConversation, models.FrameConversationJoined, models.FrameError:
		// Server-to-client types are not valid inbound.
		err = &ProtocolError{Message: fmt.Sprintf("unexpected frame type %q", frame.Type)}
	default:
		err = &ProtocolError{Message: fmt.Sprintf("unknown frame type %q", frame.Type)}
	}
	if err != nil {
		s.sendError(err)
	}
}

// handleIdentify confirms liveness after a (re)connect.
func (s *Session) handleIdentify() error {
	frame, err := models.NewFrame(models.FrameConnectionEstablished,
		models.ConnectionEstablishedPayload{UserID: s.userID})
	if err != nil {
		return err
	}
	s.sendFrame(frame)
	return nil
}

func (s *Session) handleChatMessage(data json.RawMessage) error {
	var payload models.ChatMessagePayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return &ProtocolError{Message: "malformed chat_message payload"}
	}
	if payload.ConversationID == "" && payload.ReceiptID == "" {
		return &ProtocolError{Message: "conversationId or receiptId is required"}
	}

	conv, created, err := s.resolveConversation(payload.ConversationID, payload.ReceiptID)
	if err != nil {
		return err
	}

	// A foreign client may omit the idempotency key; mint one so the
	// echo still carries a stable id.
	if payload.ID == "" {
		payload.ID = uuid.NewString()
	}

	msg := models.Message{
		ID:             payload.ID,
		ConversationID: conv.ID,
		SenderID:       s.userID,
		Content:        payload.Content,
		MessageType:    payload.MessageType,
		Attachments:    payload.Attachments,
		CreatedAt:      time.Now().UTC(),
	}
	if err := s.deps.Store.SaveMessage(s.ctx, &msg); err != nil {
		return &CollaboratorError{Op: "save message", Err: err}
	}

	// First message of an implicitly-created conversation: announce it
	// to all resolved participants exactly once.
	if created {
		convFrame, ferr := models.NewFrame(models.FrameNewConversation,
			models.ConversationEnvelope{ConversationID: conv.ID, Data: *conv})
		if ferr != nil {
			return ferr
		}
		if err := s.deps.Router.AnnounceConversation(conv, convFrame); err != nil {
			return &CollaboratorError{Op: "announce conversation", Err: err}
		}
	}

	envelope := models.MessageEnvelope{ConversationID: conv.ID, Data: msg}
	outbound, err := models.NewFrame(models.FrameNewMessage, envelope)
	if err != nil {
		return err
	}
	if err := s.deps.Router.RouteMessage(conv, s.userID, outbound); err != nil {
		return &CollaboratorError{Op: "route message", Err: err}
	}

	ack, err := models.NewFrame(models.FrameMessageSent, envelope)
	if err != nil {
		return err
	}
	s.sendFrame(ack)
	return nil
}

// resolveConversation fetches the target conversation, or upserts the
// private conversation for the (sender, receipt) pair when only a
// receiptId was supplied. The upsert is keyed by the deterministic
// participant pair, so two racing first messages converge on one row.
// Sending into an existing conversation requires membership; a
// non-member gets Forbidden and nothing is persisted or routed.
func (s *Session) resolveConversation(conversationID, receiptID string) (*models.Conversation, bool, error) {
	if conversationID != "" {
		conv, err := s.deps.Store.GetConversation(s.ctx, conversationID)
		if err != nil {
			return nil, false, &CollaboratorError{Op: "load conversation", Err: err}
		}
		isMember, err := s.deps.Store.IsMember(s.ctx, s.userID, conv.ID)
		if err != nil {
			return nil, false, &CollaboratorError{Op: "membership check", Err: err}
		}
		if !isMember {
			return nil, false, &AuthorizationError{Message: "Forbidden"}
		}
		return conv, false, nil
	}

	conv, created, err := s.deps.Store.GetOrCreatePrivateConversation(s.ctx, s.userID, receiptID)
	if err != nil {
		return nil, false, &CollaboratorError{Op: "create conversation", Err: err}
	}
	return conv, created, nil
}

// handleTyping republishes the indicator with the sender's id attached.
// Nothing is persisted.
func (s *Session) handleTyping(data json.RawMessage, frameType models.FrameType) error {
	var payload models.TypingPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return &ProtocolError{Message: fmt.Sprintf("malformed %s payload", frameType)}
	}
	if payload.ConversationID == "" {
		return &ProtocolError{Message: "conversationId is required"}
	}

	conv, _, err := s.resolveConversation(payload.ConversationID, "")
	if err != nil {
		return err
	}

	payload.UserID = s.userID
	frame, err := models.NewFrame(frameType, payload)
	if err != nil {
		return err
	}
	if err := s.deps.Router.RouteTyping(conv, s.userID, frame); err != nil {
		return &CollaboratorError{Op: "route typing", Err: err}
	}
	return nil
}

func (s *Session) handleJoinConversation(data json.RawMessage) error {
	var payload models.JoinConversationPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return &ProtocolError{Message: "malformed join_conversation payload"}
	}
	if payload.ConversationID == "" {
		return &ProtocolError{Message: "conversationId is required"}
	}
	if payload.UserID != s.userID {
		return &AuthorizationError{Message: "Forbidden"}
	}

	isMember, err := s.deps.Store.IsMember(s.ctx, s.userID, payload.ConversationID)
	if err != nil {
		return &CollaboratorError{Op: "membership check", Err: err}
	}
	if !isMember {
		return &AuthorizationError{Message: "Forbidden"}
	}

	// One active group subscription per socket: joining implicitly
	// leaves the previous conversation.
	if previous := s.deps.Subs.Join(s.socketID, payload.ConversationID); previous != "" {
		s.unsubscribeChannel(relay.ConversationMessages(previous))
		s.unsubscribeChannel(relay.ConversationTypings(previous))
	}

	if err := s.subscribeChannel(relay.ConversationMessages(payload.ConversationID)); err != nil {
		s.deps.Subs.Leave(s.socketID, payload.ConversationID)
		return &CollaboratorError{Op: "subscribe conversation", Err: err}
	}
	if err := s.subscribeChannel(relay.ConversationTypings(payload.ConversationID)); err != nil {
		s.unsubscribeChannel(relay.ConversationMessages(payload.ConversationID))
		s.deps.Subs.Leave(s.socketID, payload.ConversationID)
		return &CollaboratorError{Op: "subscribe conversation", Err: err}
	}

	frame, err := models.NewFrame(models.FrameConversationJoined,
		models.ConversationJoinedPayload{ConversationID: payload.ConversationID, UserID: s.userID})
	if err != nil {
		return err
	}
	s.sendFrame(frame)
	return nil
}

// handleLeaveConversation is idempotent: leaving a conversation the
// socket never joined is a no-op, not an error.
func (s *Session) handleLeaveConversation(data json.RawMessage) error {
	var payload models.LeaveConversationPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return &ProtocolError{Message: "malformed leave_conversation payload"}
	}
	if payload.PreviousConversationID == "" {
		return &ProtocolError{Message: "previousConversationId is required"}
	}

	if s.deps.Subs.Leave(s.socketID, payload.PreviousConversationID) {
		s.unsubscribeChannel(relay.ConversationMessages(payload.PreviousConversationID))
		s.unsubscribeChannel(relay.ConversationTypings(payload.PreviousConversationID))
	}
	return nil
}

// handleOnlineConnections intersects the requester's social-graph
// connections with the currently online user ids. Pull semantics:
// clients poll this on a fixed interval.
func (s *Session) handleOnlineConnections() error {
	connections, err := s.deps.Store.GetConnectionIDs(s.ctx, s.userID)
	if err != nil {
		return &CollaboratorError{Op: "load connections", Err: err}
	}

	online, err := s.deps.Presence.OnlineConnections(connections)
	if err != nil {
		return &CollaboratorError{Op: "presence lookup", Err: err}
	}

	frame, err := models.NewFrame(models.FrameOnlineConnections,
		models.OnlineConnectionsPayload{OnlineConnections: online, TotalConnections: len(connections)})
	if err != nil {
		return err
	}
	s.sendFrame(frame)
	return nil
}

// Close tears the session down from outside the read loop.
func (s *Session) Close() {
	s.teardown()
	s.conn.Close()
}

// teardown runs once, on any close path: clear presence, drop the
// registry entry and every subscription owned by this socket. TTL
// expiry covers the crash path; both converge to the same state.
func (s *Session) teardown() {
	s.closeOnce.Do(func() {
		s.state.Store(int32(StateClosed))
		s.cancel()
		close(s.done)

		s.deps.Subs.Drop(s.socketID)
		s.unsubscribeAll()
		s.deps.Registry.Remove(s.userID, s.socketID)

		if err := s.deps.Presence.ClearOnline(s.userID); err != nil {
			logger.Error("Error clearing presence for user %s: %v", s.userID, err)
		}
		logger.Info("Session %s closed for user %s", s.socketID, s.userID)
	})
}
