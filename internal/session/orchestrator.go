// Package session runs the per-connection protocol of community chat. An
// Orchestrator authenticates the caller, authorizes room membership and then
// drives the receive loop: every inbound message passes the safety gate
// before it can be persisted, credited or broadcast.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/meghan/community-chat/internal/apperr"
	"github.com/meghan/community-chat/internal/auth"
	"github.com/meghan/community-chat/internal/community"
	"github.com/meghan/community-chat/internal/crisis"
	"github.com/meghan/community-chat/internal/ledger"
	"github.com/meghan/community-chat/internal/metrics"
	"github.com/meghan/community-chat/internal/protocol"
	"github.com/meghan/community-chat/internal/room"
	"github.com/meghan/community-chat/internal/safety"
)

// WebSocket close codes used by the orchestrator.
const (
	CloseGoingAway       = 1001
	ClosePolicyViolation = 1008
	CloseInternalError   = 1011
)

// AnonymousLabel is shown in place of the author for anonymous messages.
const AnonymousLabel = "Anonymous"

// Detail strings sent in error frames.
const (
	DetailRateLimited   = "Too many messages, please slow down"
	DetailPersistFailed = "Could not save message, please try again"
)

// State is a session's position in its lifecycle.
type State int

const (
	StateConnecting State = iota
	StateAuthenticated
	StateAuthorized
	StateActive
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAuthenticated:
		return "authenticated"
	case StateAuthorized:
		return "authorized"
	case StateActive:
		return "active"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Conn is a client transport. Send must be safe to call concurrently with
// Read and with other Sends.
type Conn interface {
	room.Handle
	// Read blocks for the next data frame. It returns io.EOF when the peer
	// closed the connection.
	Read(ctx context.Context) ([]byte, error)
	CloseWith(code int, reason string) error
}

// Request carries the out-of-band session parameters.
type Request struct {
	Token  string
	RoomID int64
}

type Authenticator interface {
	Authenticate(ctx context.Context, token string) (auth.Identity, error)
}

type Directory interface {
	Authorize(ctx context.Context, userID, roomID int64) (community.Room, community.Membership, error)
	Limits() community.Limits
}

type MessageStore interface {
	InsertMessage(ctx context.Context, msg community.Message) (community.Message, error)
}

type Classifier interface {
	Assess(ctx context.Context, text string) safety.Verdict
}

type CrisisRecorder interface {
	RecordAndNotify(ctx context.Context, userID int64, source string, roomID *int64, content, level string, matched []string) (crisis.Event, error)
}

type Rewarder interface {
	Reward(ctx context.Context, accountID int64, reason ledger.Reason, description string, referenceID *string) (ledger.Transaction, error)
}

type Broadcaster interface {
	Join(roomID int64, h room.Handle)
	Leave(roomID int64, h room.Handle)
	Broadcast(ctx context.Context, roomID int64, payload []byte) int
}

type Limiter interface {
	Allow(ctx context.Context, identifier string) (bool, error)
}

// Presence is optional live-member bookkeeping.
type Presence interface {
	Enter(ctx context.Context, roomID, userID int64, connID string) error
	Exit(ctx context.Context, roomID int64, connID string) error
	Touch(ctx context.Context, roomID int64, connID string) error
}

// PresenceRefresh is how often a live session renews its presence record.
var PresenceRefresh = time.Minute

// Deps are the collaborators of an Orchestrator. Limiter and Presence may
// be nil.
type Deps struct {
	Auth       Authenticator
	Directory  Directory
	Messages   MessageStore
	Classifier Classifier
	Crisis     CrisisRecorder
	Ledger     Rewarder
	Rooms      Broadcaster
	Limiter    Limiter
	Presence   Presence
}

// Orchestrator serves chat sessions. One Orchestrator is shared by all
// connections.
type Orchestrator struct {
	deps Deps
	log  logrus.FieldLogger
	now  func() time.Time
}

// NewOrchestrator checks that the required deps are set.
func NewOrchestrator(deps Deps, log logrus.FieldLogger) (*Orchestrator, error) {
	switch {
	case deps.Auth == nil:
		return nil, errors.New("session: authenticator is required")
	case deps.Directory == nil:
		return nil, errors.New("session: directory is required")
	case deps.Messages == nil:
		return nil, errors.New("session: message store is required")
	case deps.Classifier == nil:
		return nil, errors.New("session: classifier is required")
	case deps.Crisis == nil:
		return nil, errors.New("session: crisis recorder is required")
	case deps.Ledger == nil:
		return nil, errors.New("session: ledger is required")
	case deps.Rooms == nil:
		return nil, errors.New("session: room registry is required")
	}
	if log == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		log = l
	}
	return &Orchestrator{
		deps: deps,
		log:  log.WithField("component", "session"),
		now:  time.Now,
	}, nil
}

// session is the state of one connection.
type session struct {
	conn     Conn
	state    State
	identity auth.Identity
	room     community.Room
	member   community.Membership
	log      logrus.FieldLogger
}

func (s *session) transition(to State) {
	s.log.WithFields(logrus.Fields{"from": s.state, "to": to}).Debug("session state")
	s.state = to
}

// Serve runs one connection to completion. It always leaves the room and
// closes conn before returning. The returned error is nil for a normal
// disconnect.
func (o *Orchestrator) Serve(ctx context.Context, conn Conn, req Request) (err error) {
	s := &session{
		conn:  conn,
		state: StateConnecting,
		log:   o.log.WithFields(logrus.Fields{"conn_id": conn.ID(), "room_id": req.RoomID}),
	}
	defer func() {
		if r := recover(); r != nil {
			s.log.Errorf("session panicked: %v", r)
			conn.CloseWith(CloseInternalError, "internal error")
			err = fmt.Errorf("session: panic: %v", r)
		}
		s.transition(StateClosed)
	}()

	if err := o.authenticate(ctx, s, req.Token); err != nil {
		return err
	}
	if err := o.authorize(ctx, s, req.RoomID); err != nil {
		return err
	}
	return o.run(ctx, s)
}

func (o *Orchestrator) authenticate(ctx context.Context, s *session, token string) error {
	if token == "" {
		s.conn.CloseWith(ClosePolicyViolation, "missing token")
		return apperr.ErrInvalidCredentials
	}
	id, err := o.deps.Auth.Authenticate(ctx, token)
	if err != nil {
		s.log.WithError(err).Info("session refused: invalid credentials")
		s.conn.CloseWith(ClosePolicyViolation, apperr.Message(apperr.ErrInvalidCredentials))
		return err
	}
	s.identity = id
	s.transition(StateAuthenticated)
	s.log = s.log.WithField("user_id", id.UserID)
	return nil
}

func (o *Orchestrator) authorize(ctx context.Context, s *session, roomID int64) error {
	rm, member, err := o.deps.Directory.Authorize(ctx, s.identity.UserID, roomID)
	if err != nil {
		kind := apperr.KindOf(err)
		code := ClosePolicyViolation
		if kind != apperr.KindNotFound && kind != apperr.KindAuthorization {
			code = CloseInternalError
			s.log.WithError(err).Error("authorization lookup failed")
		} else {
			s.log.WithError(err).Info("session refused: not authorized")
		}
		o.sendError(s, apperr.Message(err))
		s.conn.CloseWith(code, apperr.Message(err))
		return err
	}
	s.room = rm
	s.member = member
	s.transition(StateAuthorized)
	return nil
}

func (o *Orchestrator) run(ctx context.Context, s *session) error {
	rooms := o.deps.Rooms
	rooms.Join(s.room.ID, s.conn)
	s.transition(StateActive)

	if o.deps.Presence != nil {
		if err := o.deps.Presence.Enter(ctx, s.room.ID, s.identity.UserID, s.conn.ID()); err != nil {
			s.log.WithError(err).Warn("presence enter failed")
		}
	}

	stop := context.AfterFunc(ctx, func() {
		s.conn.CloseWith(CloseGoingAway, "server shutting down")
	})
	done, refreshed := make(chan struct{}), make(chan struct{})
	if o.deps.Presence != nil {
		go func() {
			defer close(refreshed)
			o.refreshPresence(ctx, s, done)
		}()
	} else {
		close(refreshed)
	}

	defer func() {
		stop()
		close(done)
		<-refreshed
		rooms.Leave(s.room.ID, s.conn)
		if o.deps.Presence != nil {
			exitCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
			if err := o.deps.Presence.Exit(exitCtx, s.room.ID, s.conn.ID()); err != nil {
				s.log.WithError(err).Warn("presence exit failed")
			}
			cancel()
		}
		if ctx.Err() != nil {
			s.conn.CloseWith(CloseGoingAway, "server shutting down")
		}
		s.conn.Close()
		s.log.Debug("session closed")
	}()

	s.log.Info("session active")
	for {
		data, err := s.conn.Read(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) || ctx.Err() != nil {
				return nil
			}
			s.log.WithError(err).Warn("read failed")
			return fmt.Errorf("session: read: %w", err)
		}
		o.handleFrame(ctx, s, data)
	}
}

func (o *Orchestrator) refreshPresence(ctx context.Context, s *session, done <-chan struct{}) {
	ticker := time.NewTicker(PresenceRefresh)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := o.deps.Presence.Touch(ctx, s.room.ID, s.conn.ID()); err != nil {
				s.log.WithError(err).Debug("presence refresh failed")
			}
		}
	}
}

// handleFrame processes one inbound frame. It never ends the session.
func (o *Orchestrator) handleFrame(ctx context.Context, s *session, data []byte) {
	frame, err := protocol.ParseClientMessage(data)
	if err != nil {
		metrics.MessagesTotal.WithLabelValues("invalid").Inc()
		o.sendError(s, apperr.Message(err))
		return
	}

	switch f := frame.(type) {
	case protocol.PingFrame:
		if pong, err := protocol.NewPong(); err == nil {
			o.send(s, pong)
		}
	case protocol.MessageFrame:
		o.handleMessage(ctx, s, f)
	}
}

func (o *Orchestrator) handleMessage(ctx context.Context, s *session, f protocol.MessageFrame) {
	start := o.now()
	userID := s.identity.UserID

	if o.deps.Limiter != nil {
		ok, err := o.deps.Limiter.Allow(ctx, strconv.FormatInt(userID, 10))
		if err != nil {
			s.log.WithError(err).Warn("rate limiter error")
		}
		if !ok {
			metrics.MessagesTotal.WithLabelValues("rate_limited").Inc()
			o.sendError(s, DetailRateLimited)
			return
		}
	}

	content, err := community.ValidateContent(f.Content, o.deps.Directory.Limits().For(s.room.Kind))
	if err != nil {
		metrics.MessagesTotal.WithLabelValues("invalid").Inc()
		o.sendError(s, apperr.Message(err))
		return
	}

	anonymous := s.member.IsAnonymous
	if f.IsAnonymous != nil {
		anonymous = *f.IsAnonymous
	}

	// The classifier may be slow; nothing is locked while it runs.
	verdict := o.deps.Classifier.Assess(ctx, content)
	if !verdict.Allowed {
		o.block(ctx, s, content, verdict)
		return
	}

	// The message is accepted from here on. Finish its effects even if the
	// author disconnects.
	ctx = context.WithoutCancel(ctx)

	msg, err := o.deps.Messages.InsertMessage(ctx, community.Message{
		RoomID:      s.room.ID,
		AuthorID:    userID,
		Content:     content,
		IsAnonymous: anonymous,
		CreatedAt:   o.now().UTC(),
	})
	if err != nil {
		metrics.MessagesTotal.WithLabelValues("persist_failed").Inc()
		s.log.WithError(err).Error("message persistence failed")
		o.sendError(s, DetailPersistFailed)
		return
	}

	reason, desc := rewardFor(s.room.Kind)
	ref := strconv.FormatInt(msg.ID, 10)
	if _, err := o.deps.Ledger.Reward(ctx, userID, reason, desc, &ref); err != nil {
		s.log.WithError(err).WithField("message_id", msg.ID).Error("ledger credit failed")
	}

	payload, err := protocol.NewBroadcast(o.view(s, msg))
	if err != nil {
		s.log.WithError(err).Error("encode broadcast")
		return
	}
	delivered := o.deps.Rooms.Broadcast(ctx, s.room.ID, payload)

	metrics.MessagesTotal.WithLabelValues("accepted").Inc()
	metrics.MessageLatency.Observe(o.now().Sub(start).Seconds())
	s.log.WithFields(logrus.Fields{"message_id": msg.ID, "delivered": delivered}).Debug("message broadcast")
}

// block handles a message the classifier refused. The author always gets
// the safe reply, whether or not the crisis event could be stored.
func (o *Orchestrator) block(ctx context.Context, s *session, content string, v safety.Verdict) {
	metrics.MessagesTotal.WithLabelValues("blocked").Inc()

	roomID := s.room.ID
	ev, err := o.deps.Crisis.RecordAndNotify(context.WithoutCancel(ctx), s.identity.UserID,
		crisisSource(s.room.Kind), &roomID, content, string(v.Level), v.Matched)
	if err != nil {
		s.log.WithError(err).Error("crisis event not recorded")
	} else {
		s.log.WithFields(logrus.Fields{"event_id": ev.ID, "level": v.Level}).Warn("message blocked by safety gate")
	}

	reply := v.SafeReply
	if reply == "" {
		reply = safety.SafeReply
	}
	frame, err := protocol.NewSafety(reply)
	if err != nil {
		s.log.WithError(err).Error("encode safety reply")
		return
	}
	o.send(s, frame)
}

func (o *Orchestrator) view(s *session, msg community.Message) protocol.MessageView {
	name := AnonymousLabel
	if !msg.IsAnonymous {
		name = s.identity.Email
		if name == "" {
			name = "User " + strconv.FormatInt(msg.AuthorID, 10)
		}
	}
	return protocol.MessageView{
		ID:          msg.ID,
		RoomID:      msg.RoomID,
		AuthorID:    msg.AuthorID,
		Content:     msg.Content,
		IsAnonymous: msg.IsAnonymous,
		CreatedAt:   msg.CreatedAt,
		DisplayName: &name,
	}
}

func (o *Orchestrator) sendError(s *session, detail string) {
	frame, err := protocol.NewError(detail)
	if err != nil {
		s.log.WithError(err).Error("encode error frame")
		return
	}
	o.send(s, frame)
}

// send writes a private frame to the session's own connection. Failures are
// logged; the receive loop notices a dead transport on its next read.
func (o *Orchestrator) send(s *session, frame []byte) {
	ctx, cancel := context.WithTimeout(context.Background(), room.DefaultSendTimeout)
	defer cancel()
	if err := s.conn.Send(ctx, frame); err != nil {
		s.log.WithError(err).Debug("private send failed")
	}
}

func rewardFor(kind community.Kind) (ledger.Reason, string) {
	if kind == community.KindExpression {
		return ledger.ReasonExpression, "Posted a micro expression"
	}
	return ledger.ReasonCommunityMessage, "Posted a community message"
}

func crisisSource(kind community.Kind) string {
	if kind == community.KindExpression {
		return crisis.SourceExpression
	}
	return crisis.SourceCommunity
}
