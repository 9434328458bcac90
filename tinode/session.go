/******************************************************************************
 *
 *  Description :
 *
 *    Session: the connection to the server, the correlation of requests to
 *    {ctrl} replies, routing of asynchronous frames to cached topics, and
 *    automatic reconnection with exponential backoff.
 *
 *****************************************************************************/

package tinode

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"strconv"
	"sync"
	"time"

	"github.com/tinode/gosdk/tinode/logs"
	"github.com/tinode/gosdk/tinode/store"
	"github.com/tinode/gosdk/tinode/types"
)

// Version of the protocol spoken by this client.
const ProtocolVersion = "0.24"

// DefaultUserAgent is reported in the {hi} handshake unless overridden.
const DefaultUserAgent = "gosdk/" + ProtocolVersion

// Config is the static session configuration.
type Config struct {
	// Server address: a full ws(s):// URL including the API key parameter.
	Addr string

	UserAgent string
	DeviceID  string
	// ISO 639-1 language code of the device.
	Lang string
	// Platform code: ios, android, web.
	Platform string
	// Session is non-interactive, i.e. issued by a service.
	Background bool

	// Reconnect automatically after a connection loss.
	AutoReconnect bool

	// Optional persistent cache of topics and messages.
	Store store.Adapter

	// Transport constructor; DialWebsocket when nil.
	Dial Dialer
}

// SessionListener receives connection-level notifications. A nil listener or
// a nil callback is skipped.
type SessionListener struct {
	// Handshake completed.
	OnConnect func(ctrl *MsgServerCtrl)
	// Connection lost; err is nil on a clean local close.
	OnDisconnect func(err error)
	// A reconnect attempt is scheduled after delay; attempt counts from 1
	// since the connection was lost.
	OnAutoReconnect func(delay time.Duration, attempt int)
	// Authentication completed.
	OnLogin func(ctrl *MsgServerCtrl)
	// Raw frame hook, called for every parsed server message.
	OnMessage func(*ServerComMessage)
	// Presence or info frame addressed to a topic missing from the cache.
	// Such frames are dropped after this callback.
	OnOrphanFrame func(*ServerComMessage)
}

type pendingReply struct {
	ch chan *pendingResult
}

type pendingResult struct {
	ctrl *MsgServerCtrl
	err  error
}

// Session is a single client connection to a Tinode server. All exported
// methods are safe for concurrent use.
type Session struct {
	cfg      Config
	listener *SessionListener

	// Guards connection state, the pending table and the handshake queue.
	lock sync.Mutex

	conn Connection
	// Transport link is up.
	connected bool
	// {hi} handshake completed, requests may flow.
	ready bool
	// Close was requested by the user; suppresses auto reconnect.
	stopped bool

	msgID   uint64
	pending map[string]*pendingReply
	// Frames submitted between connect and handshake completion.
	preQueue [][]byte

	authUID     string
	authToken   string
	authExpires time.Time

	// Server limits reported in the {hi} response.
	serverParams map[string]any

	registry *topicRegistry
	boff     *expBackoff
	// Pending reconnect timer, cancelled by a forced reconnect or Close.
	reconnTimer *time.Timer

	idGen types.IdGenerator
}

// NewSession creates a disconnected session.
func NewSession(cfg Config, listener *SessionListener) *Session {
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}
	if cfg.Dial == nil {
		cfg.Dial = DialWebsocket
	}

	s := &Session{
		cfg:      cfg,
		listener: listener,
		pending:  make(map[string]*pendingReply),
		registry: newTopicRegistry(),
		boff:     newExpBackoff(),
	}
	key := make([]byte, 16)
	rand.Read(key)
	if err := s.idGen.Init(1, key); err != nil {
		logs.Err.Println("session: id generator init failed", err)
	}
	return s
}

// Connect establishes the transport link and performs the {hi} handshake.
func (s *Session) Connect(ctx context.Context) (*MsgServerCtrl, error) {
	s.lock.Lock()
	if s.connected {
		s.lock.Unlock()
		return nil, nil
	}
	s.stopped = false
	s.lock.Unlock()

	conn, err := s.cfg.Dial(ctx, s.cfg.Addr, s.dispatch, s.connClosed)
	if err != nil {
		s.maybeScheduleReconnect()
		return nil, err
	}

	s.lock.Lock()
	s.conn = conn
	s.connected = true
	s.lock.Unlock()
	statsInc("LiveConnections", 1)

	ctrl, err := s.hello(ctx)
	if err != nil {
		conn.Close()
		return nil, err
	}

	s.lock.Lock()
	s.ready = true
	queued := s.preQueue
	s.preQueue = nil
	conn = s.conn
	s.lock.Unlock()
	s.boff.Reset()

	// Flush requests submitted while the handshake was in flight.
	for _, frame := range queued {
		if err := conn.Send(frame); err != nil {
			logs.Warn.Println("session: queued send failed", err)
			break
		}
	}

	if s.listener != nil && s.listener.OnConnect != nil {
		s.listener.OnConnect(ctrl)
	}
	return ctrl, nil
}

// Close terminates the connection and disables automatic reconnects.
func (s *Session) Close() {
	s.lock.Lock()
	s.stopped = true
	if s.reconnTimer != nil {
		s.reconnTimer.Stop()
		s.reconnTimer = nil
	}
	conn := s.conn
	s.lock.Unlock()

	if conn != nil {
		conn.Close()
	}
}

// IsConnected reports whether the handshake has completed on a live link.
func (s *Session) IsConnected() bool {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.connected && s.ready
}

// Reconnect re-establishes a lost connection. With force set any scheduled
// backoff wait is cancelled and the attempt is made immediately.
func (s *Session) Reconnect(ctx context.Context, force bool) error {
	s.lock.Lock()
	if s.connected {
		s.lock.Unlock()
		return nil
	}
	if force {
		if s.reconnTimer != nil {
			s.reconnTimer.Stop()
			s.reconnTimer = nil
		}
		s.boff.Reset()
	} else if s.reconnTimer != nil {
		// A retry is already scheduled.
		s.lock.Unlock()
		return nil
	}
	s.lock.Unlock()

	_, err := s.Connect(ctx)
	if err != nil {
		return err
	}
	s.resumeAfterReconnect(ctx)
	return nil
}

// resumeAfterReconnect restores authentication with the stored token.
// Re-attaching topics is left to the application: it knows which
// subscriptions are still worth holding.
func (s *Session) resumeAfterReconnect(ctx context.Context) {
	s.lock.Lock()
	token := s.authToken
	expires := s.authExpires
	s.lock.Unlock()

	if token != "" && (expires.IsZero() || expires.After(time.Now())) {
		if _, err := s.LoginToken(ctx, token); err != nil {
			logs.Warn.Println("session: token login after reconnect failed", err)
			return
		}
	}
}

// connClosed runs when the transport link dies for any reason.
func (s *Session) connClosed(err error) {
	s.lock.Lock()
	if !s.connected {
		s.lock.Unlock()
		return
	}
	s.connected = false
	s.ready = false
	s.conn = nil
	s.preQueue = nil
	pending := s.pending
	s.pending = make(map[string]*pendingReply)
	s.lock.Unlock()
	statsInc("LiveConnections", -1)

	// Every outstanding request fails at once; callers decide on retries.
	for _, req := range pending {
		req.ch <- &pendingResult{err: ErrDisconnected}
	}

	// In-flight messages must not stay stuck in the sending state.
	s.registry.forEach(func(t *Topic) {
		t.disconnected()
	})

	if s.listener != nil && s.listener.OnDisconnect != nil {
		s.listener.OnDisconnect(err)
	}
	s.maybeScheduleReconnect()
}

func (s *Session) maybeScheduleReconnect() {
	if !s.cfg.AutoReconnect {
		return
	}

	s.lock.Lock()
	if s.stopped || s.connected || s.reconnTimer != nil {
		s.lock.Unlock()
		return
	}
	delay, attempt := s.boff.NextDelay()
	s.reconnTimer = time.AfterFunc(delay, func() {
		s.lock.Lock()
		s.reconnTimer = nil
		stopped := s.stopped
		s.lock.Unlock()
		if stopped {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), writeWait)
		defer cancel()
		if _, err := s.Connect(ctx); err != nil {
			logs.Warn.Println("session: reconnect attempt", attempt, "failed:", err)
			return
		}
		s.resumeAfterReconnect(ctx)
	})
	s.lock.Unlock()

	if s.listener != nil && s.listener.OnAutoReconnect != nil {
		s.listener.OnAutoReconnect(delay, attempt)
	}
}

// nextID returns the next correlation id.
func (s *Session) nextID() string {
	s.lock.Lock()
	s.msgID++
	id := s.msgID
	s.lock.Unlock()
	return strconv.FormatUint(id, 10)
}

// send serializes and transmits a message without waiting for a reply.
// Messages submitted before the handshake completes are queued; {hi} itself
// bypasses the queue.
func (s *Session) send(msg *ClientComMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	s.lock.Lock()
	if !s.connected {
		s.lock.Unlock()
		return ErrNotConnected
	}
	if !s.ready && msg.Hi == nil {
		s.preQueue = append(s.preQueue, data)
		s.lock.Unlock()
		return nil
	}
	conn := s.conn
	s.lock.Unlock()

	statsInc("OutgoingMessages", 1)
	return conn.Send(data)
}

// request sends a message and blocks until the matching {ctrl} arrives, the
// context expires, or the connection is lost. A cancelled context discards
// the eventual reply silently.
func (s *Session) request(ctx context.Context, msg *ClientComMessage) (*MsgServerCtrl, error) {
	id := msg.id()
	if id == "" {
		return nil, ErrCacheInconsistency
	}

	reply := &pendingReply{ch: make(chan *pendingResult, 1)}
	s.lock.Lock()
	s.pending[id] = reply
	s.lock.Unlock()

	if err := s.send(msg); err != nil {
		s.discardPending(id)
		return nil, err
	}

	select {
	case res := <-reply.ch:
		return res.ctrl, res.err
	case <-ctx.Done():
		s.discardPending(id)
		if ctx.Err() == context.DeadlineExceeded {
			return nil, ErrTimeout
		}
		return nil, ctx.Err()
	}
}

func (s *Session) discardPending(id string) {
	s.lock.Lock()
	delete(s.pending, id)
	s.lock.Unlock()
}

// dispatch parses one inbound frame and routes it.
func (s *Session) dispatch(data []byte) {
	statsInc("IncomingMessages", 1)

	var msg ServerComMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		logs.Warn.Println("session: malformed frame:", err)
		statsInc("MalformedFrames", 1)
		return
	}

	if s.listener != nil && s.listener.OnMessage != nil {
		s.listener.OnMessage(&msg)
	}

	if msg.Ctrl != nil {
		s.dispatchCtrl(msg.Ctrl)
		return
	}

	topic := s.registry.get(msg.topic())
	if topic == nil {
		// Frames for unknown topics are dropped, not buffered: the server
		// state will be re-fetched when the topic is subscribed.
		logs.Warn.Println("session: frame for uncached topic dropped:", msg.topic())
		statsInc("OrphanFrames", 1)
		if s.listener != nil && s.listener.OnOrphanFrame != nil {
			s.listener.OnOrphanFrame(&msg)
		}
		return
	}

	switch {
	case msg.Data != nil:
		topic.routeData(msg.Data)
	case msg.Meta != nil:
		topic.routeMeta(msg.Meta)
	case msg.Pres != nil:
		topic.routePres(msg.Pres)
	case msg.Info != nil:
		topic.routeInfo(msg.Info)
	}
}

func (s *Session) dispatchCtrl(ctrl *MsgServerCtrl) {
	if ctrl.Id == "" {
		// Unsolicited ctrl, e.g. a {pres}-like event on the control channel.
		logs.Info.Println("session: unsolicited ctrl", ctrl.Code, ctrl.Text)
		return
	}

	s.lock.Lock()
	reply := s.pending[ctrl.Id]
	delete(s.pending, ctrl.Id)
	s.lock.Unlock()

	if reply == nil {
		// Reply to a request whose waiter gave up.
		logs.Info.Println("session: dropped ctrl for abandoned request", ctrl.Id)
		return
	}

	res := &pendingResult{ctrl: ctrl}
	if !IsSuccess(ctrl.Code) {
		res.err = &ServerError{Code: ctrl.Code, Text: ctrl.Text}
	}
	reply.ch <- res
}

// hello performs the protocol handshake.
func (s *Session) hello(ctx context.Context) (*MsgServerCtrl, error) {
	ctrl, err := s.request(ctx, &ClientComMessage{Hi: &MsgClientHi{
		Id:         s.nextID(),
		UserAgent:  s.cfg.UserAgent,
		Version:    ProtocolVersion,
		DeviceID:   s.cfg.DeviceID,
		Lang:       s.cfg.Lang,
		Platform:   s.cfg.Platform,
		Background: s.cfg.Background,
	}})
	if err != nil {
		return nil, err
	}

	if params, ok := ctrl.Params.(map[string]any); ok {
		s.lock.Lock()
		s.serverParams = params
		s.lock.Unlock()
	}
	return ctrl, nil
}

// ServerParam returns a server limit reported in the handshake, e.g.
// "maxMessageSize".
func (s *Session) ServerParam(name string) any {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.serverParams[name]
}

// Login authenticates the session with the given scheme.
func (s *Session) Login(ctx context.Context, scheme string, secret []byte, cred []MsgCredClient) (*MsgServerCtrl, error) {
	ctrl, err := s.request(ctx, &ClientComMessage{Login: &MsgClientLogin{
		Id:     s.nextID(),
		Scheme: scheme,
		Secret: secret,
		Cred:   cred,
	}})
	if err != nil {
		return nil, err
	}

	s.loginComplete(ctrl)
	return ctrl, nil
}

// LoginBasic authenticates with a login and password.
func (s *Session) LoginBasic(ctx context.Context, uname, password string) (*MsgServerCtrl, error) {
	return s.Login(ctx, "basic", []byte(uname+":"+password), nil)
}

// LoginToken authenticates with a previously issued token.
func (s *Session) LoginToken(ctx context.Context, token string) (*MsgServerCtrl, error) {
	return s.Login(ctx, "token", []byte(token), nil)
}

func (s *Session) loginComplete(ctrl *MsgServerCtrl) {
	params, _ := ctrl.Params.(map[string]any)

	s.lock.Lock()
	if uid, ok := params["user"].(string); ok {
		s.authUID = uid
	}
	if token, ok := params["token"].(string); ok {
		s.authToken = token
		s.authExpires = time.Time{}
		if exp, ok := params["expires"].(string); ok {
			if ts, err := time.Parse(time.RFC3339, exp); err == nil {
				s.authExpires = ts
			}
		}
	}
	s.lock.Unlock()

	if s.listener != nil && s.listener.OnLogin != nil {
		s.listener.OnLogin(ctrl)
	}
}

// CreateAccount creates or updates an account. With login set the session is
// authenticated as the new user.
func (s *Session) CreateAccount(ctx context.Context, user, scheme string, secret []byte, login bool,
	params *MsgSetQuery, cred []MsgCredClient) (*MsgServerCtrl, error) {

	acc := &MsgClientAcc{
		Id:     s.nextID(),
		User:   user,
		Scheme: scheme,
		Secret: secret,
		Login:  login,
		Cred:   cred,
	}
	if params != nil {
		acc.Desc = params.Desc
		acc.Tags = params.Tags
	}

	ctrl, err := s.request(ctx, &ClientComMessage{Acc: acc})
	if err != nil {
		return nil, err
	}
	if login {
		s.loginComplete(ctrl)
	}
	return ctrl, nil
}

// CreateAccountBasic creates a new account with a login and password.
func (s *Session) CreateAccountBasic(ctx context.Context, uname, password string, login bool,
	params *MsgSetQuery, cred []MsgCredClient) (*MsgServerCtrl, error) {
	return s.CreateAccount(ctx, "new", "basic", []byte(uname+":"+password), login, params, cred)
}

// CurrentUser returns the authenticated user id, empty before login.
func (s *Session) CurrentUser() string {
	return s.currentUser()
}

func (s *Session) currentUser() string {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.authUID
}

// AuthToken returns the server-issued authentication token and its expiry.
func (s *Session) AuthToken() (string, time.Time) {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.authToken, s.authExpires
}

func (s *Session) storeAdapter() store.Adapter {
	return s.cfg.Store
}

// Topic returns the cached topic, creating an empty cache entry on first
// use. A persisted snapshot is loaded into a newly created entry.
func (s *Session) Topic(name string) *Topic {
	t, created := s.registry.getOrCreate(s, name)
	if created {
		t.restore()
		statsInc("CachedTopics", 1)
	}
	return t
}

// GetTopic returns the cached topic or nil; never creates one.
func (s *Session) GetTopic(name string) *Topic {
	return s.registry.get(name)
}

// MeTopic returns the topic holding the account state and the contact list.
func (s *Session) MeTopic() *Topic {
	return s.Topic("me")
}

// FndTopic returns the user and topic discovery topic.
func (s *Session) FndTopic() *Topic {
	return s.Topic("fnd")
}

// NewGroupTopicName generates a locally unique name for a group topic to be
// created by the server; isChan makes it a channel.
func (s *Session) NewGroupTopicName(isChan bool) string {
	prefix := "new"
	if isChan {
		prefix = "nch"
	}
	return s.idGen.NewName(prefix)
}

// NewGroupTopic makes a cache entry for a group topic to be created on first
// subscribe.
func (s *Session) NewGroupTopic(isChan bool) *Topic {
	return s.Topic(s.NewGroupTopicName(isChan))
}

// Topics iterates the cached topics.
func (s *Session) Topics(f func(*Topic)) {
	s.registry.forEach(f)
}

// Wire operations used by Topic.

func (s *Session) subscribe(ctx context.Context, topic string, get *MsgGetQuery, set *MsgSetQuery) (*MsgServerCtrl, error) {
	return s.request(ctx, &ClientComMessage{Sub: &MsgClientSub{
		Id:    s.nextID(),
		Topic: topic,
		Get:   get,
		Set:   set,
	}})
}

func (s *Session) leave(ctx context.Context, topic string, unsub bool) (*MsgServerCtrl, error) {
	return s.request(ctx, &ClientComMessage{Leave: &MsgClientLeave{
		Id:    s.nextID(),
		Topic: topic,
		Unsub: unsub,
	}})
}

func (s *Session) publish(ctx context.Context, topic string, msg *Message) (*MsgServerCtrl, error) {
	id := s.nextID()
	msg.clientId = id
	return s.request(ctx, &ClientComMessage{Pub: &MsgClientPub{
		Id:      id,
		Topic:   topic,
		NoEcho:  msg.noEcho,
		Head:    msg.Head,
		Content: msg.Content,
	}})
}

func (s *Session) getMeta(ctx context.Context, topic string, query *MsgGetQuery) (*MsgServerCtrl, error) {
	if query == nil {
		return nil, nil
	}
	return s.request(ctx, &ClientComMessage{Get: &MsgClientGet{
		Id:          s.nextID(),
		Topic:       topic,
		MsgGetQuery: *query,
	}})
}

func (s *Session) setMeta(ctx context.Context, topic string, params *MsgSetQuery) (*MsgServerCtrl, error) {
	return s.request(ctx, &ClientComMessage{Set: &MsgClientSet{
		Id:          s.nextID(),
		Topic:       topic,
		MsgSetQuery: *params,
	}})
}

func (s *Session) delMessages(ctx context.Context, topic string, ranges []types.Range, hard bool) (*MsgServerCtrl, error) {
	return s.request(ctx, &ClientComMessage{Del: &MsgClientDel{
		Id:     s.nextID(),
		Topic:  topic,
		What:   "msg",
		DelSeq: ranges,
		Hard:   hard,
	}})
}

func (s *Session) delTopic(ctx context.Context, topic string, hard bool) (*MsgServerCtrl, error) {
	return s.request(ctx, &ClientComMessage{Del: &MsgClientDel{
		Id:    s.nextID(),
		Topic: topic,
		What:  "topic",
		Hard:  hard,
	}})
}

func (s *Session) delSubscription(ctx context.Context, topic, user string) (*MsgServerCtrl, error) {
	return s.request(ctx, &ClientComMessage{Del: &MsgClientDel{
		Id:    s.nextID(),
		Topic: topic,
		What:  "sub",
		User:  user,
	}})
}

// DelCredential removes a validated credential from the account.
func (s *Session) DelCredential(ctx context.Context, method, value string) (*MsgServerCtrl, error) {
	return s.request(ctx, &ClientComMessage{Del: &MsgClientDel{
		Id:   s.nextID(),
		What: "cred",
		Cred: &MsgCredClient{Method: method, Value: value},
	}})
}

// DelCurrentUser permanently deletes the authenticated account.
func (s *Session) DelCurrentUser(ctx context.Context, hard bool) (*MsgServerCtrl, error) {
	return s.request(ctx, &ClientComMessage{Del: &MsgClientDel{
		Id:   s.nextID(),
		What: "user",
		Hard: hard,
	}})
}

// note sends a {note} notification. No reply is expected; errors are logged
// and swallowed.
func (s *Session) note(topic, what string, seq, unread int) {
	err := s.send(&ClientComMessage{Note: &MsgClientNote{
		Topic:  topic,
		What:   what,
		SeqId:  seq,
		Unread: unread,
	}})
	if err != nil && err != ErrNotConnected {
		logs.Warn.Println("session: note failed", topic, what, err)
	}
}

// updateContact pushes a 'me' subscription update into the contact topic's
// own cache, if present.
func (s *Session) updateContact(sub *MsgTopicSub) {
	if sub.Topic == "" {
		return
	}
	t := s.registry.get(sub.Topic)
	if t == nil {
		return
	}

	t.lock.Lock()
	if sub.UpdatedAt != nil && sub.UpdatedAt.After(t.updated) {
		t.updated = *sub.UpdatedAt
	}
	if sub.TouchedAt != nil && sub.TouchedAt.After(t.touched) {
		t.touched = *sub.TouchedAt
	}
	t.acs.AssignAll(sub.Acs.Mode, sub.Acs.Given, sub.Acs.Want)
	if sub.SeqId > t.seq {
		t.seq = sub.SeqId
	}
	if sub.ReadSeqId > t.read {
		t.read = sub.ReadSeqId
	}
	if sub.RecvSeqId > t.recv {
		t.recv = sub.RecvSeqId
	}
	if sub.DelId > t.maxDel {
		t.maxDel = sub.DelId
	}
	if sub.Public != nil {
		t.public = sub.Public
	}
	if sub.Trusted != nil {
		t.trusted = sub.Trusted
	}
	if sub.Private != nil {
		t.private = sub.Private
	}
	t.online = sub.Online
	t.unread = t.countUnreadLocked()
	t.lock.Unlock()
}
