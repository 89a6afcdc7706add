package auth

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"sync"

	"code.teamsync.org/golang/internal/observability"
	"code.teamsync.org/golang/internal/store"
	"code.teamsync.org/golang/internal/utils"
	"code.teamsync.org/golang/internal/wire"
	"code.teamsync.org/golang/pkg/team"
)

// Config assembles what a Provider needs at construction.
type Config struct {
	// Device is this device identity. Its secret key also wraps the
	// persisted team keyrings and is itself never persisted.
	Device team.DeviceIdentity

	// User is the local user identity. It may be nil for a new device that
	// will join through a device invitation; it is set on first join.
	User *team.UserIdentity

	// Store persists the share set. A nil Store gets an in-memory one.
	Store store.Store

	// Obs carries the logger.
	Obs *observability.Observability
}

// shareState is one admitted share: the team plus the document ids synced
// under it.
type shareState struct {
	team *team.Team
	docs map[string]bool
}

// Provider wraps base network adapters into authenticated ones. It owns the
// share and invitation registries, one handshake session per (share, peer)
// pair, the pending-message buffers, and the persisted state.
//
// All work runs on an internal run-to-completion executor, so handlers never
// race; public methods are safe to call from any goroutine.
type Provider struct {
	cfg  Config
	exec executor
	log  *slog.Logger

	user        *team.UserIdentity
	shares      map[string]*shareState
	invitations map[string]team.Invitation
	adapters    []*AuthenticatedAdapter
	listeners   []func(Event)
	closed      bool

	saveCh    chan struct{}
	stopCh    chan struct{}
	saveDone  chan struct{}
	restored  chan struct{}
	closeOnce sync.Once
}

// NewProvider builds a Provider and schedules the asynchronous restore of
// persisted shares. No handshake is attempted until Wrap is called.
// It errors if the device identity is invalid.
func NewProvider(cfg Config) (*Provider, error) {
	if err := cfg.Device.Check(); nil != err {
		return nil, wrapError(err, "invalid device identity")
	}
	if nil != cfg.User {
		if err := cfg.User.Check(); nil != err {
			return nil, wrapError(err, "invalid user identity")
		}
	}
	if nil == cfg.Store {
		cfg.Store = &store.MemStore{}
	}

	p := &Provider{
		cfg:         cfg,
		log:         cfg.Obs.Tagged("provider").Log().With("device", cfg.Device.DeviceID),
		user:        cfg.User,
		shares:      make(map[string]*shareState),
		invitations: make(map[string]team.Invitation),
		saveCh:      make(chan struct{}, 1),
		stopCh:      make(chan struct{}),
		saveDone:    make(chan struct{}),
		restored:    make(chan struct{}),
	}

	go p.saver()
	go p.restore()

	return p, nil
}

// OnEvent registers an outward event listener.
func (self *Provider) OnEvent(fn func(Event)) {
	self.exec.do(func() {
		self.listeners = append(self.listeners, fn)
	})
}

// WaitRestored blocks until the persisted share set finished loading.
func (self *Provider) WaitRestored() {
	<-self.restored
}

// Wrap builds an authenticated adapter over base and registers it. Every
// call produces a distinct wrapper.
func (self *Provider) Wrap(base Adapter) *AuthenticatedAdapter {
	w := newAuthenticatedAdapter(self, base)
	self.exec.do(func() {
		self.adapters = append(self.adapters, w)
	})

	base.OnReady(func() {
		self.exec.do(w.emitter.emitReady)
	})
	base.OnClose(func() {
		self.exec.do(func() { self.handleBaseClose(w) })
	})
	base.OnPeerCandidate(func(peerID string) {
		self.exec.do(func() { self.handlePeerArrived(w, peerID) })
	})
	base.OnPeerDisconnected(func(peerID string) {
		self.exec.do(func() { self.handlePeerLost(w, peerID) })
	})
	base.OnMessage(func(f wire.Frame) {
		self.exec.do(func() { self.handleInbound(w, f) })
	})
	base.OnError(func(peerID string, err error) {
		self.exec.do(func() { w.emitter.emitError(peerID, err) })
	})

	return w
}

// AddTeam admits t as a share and opens sessions toward every known peer.
// It errors if t is nil; admission itself is asynchronous and idempotent.
func (self *Provider) AddTeam(t *team.Team) error {
	if nil == t {
		return newError("nil team")
	}
	self.exec.do(func() {
		self.admitTeam(t, true)
	})
	return nil
}

// AddInvitation records a pending invitation and opens sessions toward every
// known peer so a joining handshake can begin. Nothing is persisted until
// the join succeeds.
func (self *Provider) AddInvitation(inv team.Invitation) error {
	if err := inv.Check(); nil != err {
		return wrapError(err, "invalid invitation")
	}
	self.exec.do(func() {
		if _, present := self.shares[inv.TeamID]; present {
			self.log.Warn("ignoring invitation for an admitted share", "share", inv.TeamID)
			return
		}
		self.invitations[inv.TeamID] = inv
		self.openAllSessions(inv.TeamID)
	})
	return nil
}

// AddDocuments adds ids to the document set of the named share.
// No network traffic is emitted; listeners get an EventUpdated.
func (self *Provider) AddDocuments(shareID string, ids ...string) {
	self.exec.do(func() {
		sh, present := self.shares[shareID]
		if !present {
			self.emit(Event{Kind: EventLocalError, ShareID: shareID, Err: newError("unknown share %s", shareID)})
			return
		}
		for _, id := range ids {
			sh.docs[id] = true
		}
		self.emit(Event{Kind: EventUpdated, ShareID: shareID})
	})
}

// RemoveDocuments removes ids from the document set of the named share.
// No network traffic is emitted; listeners get an EventUpdated.
func (self *Provider) RemoveDocuments(shareID string, ids ...string) {
	self.exec.do(func() {
		sh, present := self.shares[shareID]
		if !present {
			self.emit(Event{Kind: EventLocalError, ShareID: shareID, Err: newError("unknown share %s", shareID)})
			return
		}
		for _, id := range ids {
			delete(sh.docs, id)
		}
		self.emit(Event{Kind: EventUpdated, ShareID: shareID})
	})
}

// Close tears down every session, flushes the final save and stops the
// provider.
func (self *Provider) Close() {
	self.closeOnce.Do(func() {
		self.exec.do(func() {
			self.closed = true
			for _, w := range self.adapters {
				for k, s := range w.sessions {
					s.conn.Close()
					delete(w.sessions, k)
				}
			}
		})
		self.scheduleSave()
		close(self.stopCh)
	})
	<-self.saveDone
}

// emit delivers evt to every listener.
func (self *Provider) emit(evt Event) {
	for _, fn := range self.listeners {
		fn(evt)
	}
}

// admitTeam installs t as a share. Re-admission of a known share id is a
// no-op that keeps existing sessions intact.
func (self *Provider) admitTeam(t *team.Team, save bool) {
	id := t.ID()
	if self.closed {
		return
	}
	if _, present := self.shares[id]; present {
		return
	}
	delete(self.invitations, id)
	self.shares[id] = &shareState{team: t, docs: make(map[string]bool)}
	self.openAllSessions(id)
	if save {
		self.scheduleSave()
	}
}

// openAllSessions opens the missing sessions of shareID toward every peer
// currently known on every wrapped adapter.
func (self *Provider) openAllSessions(shareID string) {
	for _, w := range self.adapters {
		for peerID := range w.peers {
			self.openSession(w, shareID, peerID)
		}
	}
}

// engineContext builds the handshake context for shareID, nil if the share
// id is neither admitted nor invited.
func (self *Provider) engineContext(shareID string) *team.Context {
	if sh, present := self.shares[shareID]; present {
		return &team.Context{Device: self.cfg.Device, User: self.user, Team: sh.team}
	}
	if inv, present := self.invitations[shareID]; present {
		return &team.Context{Device: self.cfg.Device, User: self.user, Invitation: &inv}
	}
	return nil
}

// openSession creates, wires and starts the session for (shareID, peerID) on
// w, then drains any buffered handshake bytes into it in arrival order.
func (self *Provider) openSession(w *AuthenticatedAdapter, shareID, peerID string) {
	k := pairKey{shareID: shareID, peerID: peerID}
	if _, present := w.sessions[k]; present {
		return
	}
	ctx := self.engineContext(shareID)
	if nil == ctx {
		return
	}

	send := func(msg []byte) error {
		return w.base.Send(wire.Frame{
			Type:     wire.TypeAuth,
			SenderID: w.base.ID(),
			TargetID: peerID,
			Auth:     &wire.AuthPayload{ShareID: shareID, ConnectionMessage: msg},
		})
	}
	conn, err := team.NewConnection(*ctx, send, "")
	if nil != err {
		self.emit(Event{Kind: EventLocalError, ShareID: shareID, PeerID: peerID, Err: err})
		return
	}

	s := &session{shareID: shareID, peerID: peerID, adapter: w, conn: conn}
	w.sessions[k] = s

	conn.OnJoined(func(t *team.Team, user team.UserIdentity) {
		self.handleJoined(s, t, user)
	})
	conn.OnConnected(func() {
		self.handleConnected(s)
	})
	conn.OnUpdated(func() {
		self.scheduleSave()
		self.emit(Event{Kind: EventUpdated, ShareID: shareID, PeerID: peerID})
	})
	conn.OnLocalError(func(err error) {
		self.emit(Event{Kind: EventLocalError, ShareID: shareID, PeerID: peerID, Err: err})
	})
	conn.OnRemoteError(func(err error) {
		self.emit(Event{Kind: EventRemoteError, ShareID: shareID, PeerID: peerID, Err: err})
	})
	conn.OnDisconnected(func() {
		self.handleDisconnected(s)
	})

	err = conn.Start()
	if nil != err {
		delete(w.sessions, k)
		self.emit(Event{Kind: EventLocalError, ShareID: shareID, PeerID: peerID, Err: err})
		return
	}

	for _, msg := range w.pending.drain(k) {
		err = conn.Deliver(msg)
		if nil != err {
			w.emitter.emitError(peerID, err)
		}
	}
}

// handleJoined runs when a session admitted us into a team: store the user
// identity if it was absent, admit the share, drop the consumed invitation,
// persist and notify.
func (self *Provider) handleJoined(s *session, t *team.Team, user team.UserIdentity) {
	if nil == self.user {
		u := user
		self.user = &u
	}
	delete(self.invitations, s.shareID)
	self.admitTeam(t, true)
	self.emit(Event{Kind: EventJoined, ShareID: s.shareID, PeerID: s.peerID, Team: t, User: &user})
}

// handleConnected records the session key, notifies outward and announces the
// peer on the owning authenticated adapter.
func (self *Provider) handleConnected(s *session) {
	key := s.conn.SessionKey()
	s.key = make([]byte, len(key))
	copy(s.key, key)

	self.log.Debug("session connected", "share", s.shareID, "peer", s.peerID, "key", utils.Preview(s.key))
	self.emit(Event{Kind: EventConnected, ShareID: s.shareID, PeerID: s.peerID})
	s.adapter.announce(s.peerID)
}

// handleDisconnected removes the session and notifies outward.
func (self *Provider) handleDisconnected(s *session) {
	delete(s.adapter.sessions, s.pair())
	self.emit(Event{Kind: EventDisconnected, ShareID: s.shareID, PeerID: s.peerID})
}

// handlePeerArrived registers the peer and opens sessions for every known
// share id and pending invitation toward it.
func (self *Provider) handlePeerArrived(w *AuthenticatedAdapter, peerID string) {
	w.peers[peerID] = true
	for shareID := range self.shares {
		self.openSession(w, shareID, peerID)
	}
	for shareID := range self.invitations {
		self.openSession(w, shareID, peerID)
	}
}

// handlePeerLost closes the peer sessions, re-arms the peer-candidate
// announcement and forwards peer-disconnected.
func (self *Provider) handlePeerLost(w *AuthenticatedAdapter, peerID string) {
	delete(w.peers, peerID)
	delete(w.announced, peerID)
	for k, s := range w.sessions {
		if k.peerID != peerID {
			continue
		}
		s.conn.Close()
		delete(w.sessions, k)
		w.pending.forget(k)
		self.emit(Event{Kind: EventDisconnected, ShareID: k.shareID, PeerID: peerID})
	}
	w.emitter.emitPeerDisconnected(peerID)
}

// handleBaseClose closes every session under w and forwards close.
func (self *Provider) handleBaseClose(w *AuthenticatedAdapter) {
	for k, s := range w.sessions {
		s.conn.Close()
		delete(w.sessions, k)
	}
	w.peers = make(map[string]bool)
	w.announced = make(map[string]bool)
	w.pending = pendingBuffer{}
	w.emitter.emitClose()
}

// handleInbound classifies one frame from the base adapter and routes it.
func (self *Provider) handleInbound(w *AuthenticatedAdapter, f wire.Frame) {
	defer func() {
		if r := recover(); nil != r {
			w.emitter.emitError(f.SenderID, newError("inbound processing panic: %v", r))
		}
	}()

	switch f.Classify() {
	case wire.KindAuth:
		self.routeAuth(w, f)
	case wire.KindSealed:
		self.routeSealed(w, f)
	case wire.KindPassThrough:
		w.emitter.emitMessage(f)
	default:
		self.log.Debug("dropping invalid frame", "type", f.Type, "sender", f.SenderID)
	}
}

// routeAuth hands handshake bytes to the session, or buffers them until one
// exists for the (share, sender) pair.
func (self *Provider) routeAuth(w *AuthenticatedAdapter, f wire.Frame) {
	k := pairKey{shareID: f.Auth.ShareID, peerID: f.SenderID}
	s, present := w.sessions[k]
	if !present {
		w.pending.add(k, f.Auth.ConnectionMessage)
		return
	}
	err := s.conn.Deliver(f.Auth.ConnectionMessage)
	if nil != err {
		w.emitter.emitError(f.SenderID, err)
	}
}

// routeSealed decrypts a sealed repository message with the pair session key
// and surfaces the inner message. Failures surface as adapter errors and
// leave the session as is.
func (self *Provider) routeSealed(w *AuthenticatedAdapter, f wire.Frame) {
	k := pairKey{shareID: f.ShareID, peerID: f.SenderID}
	s, present := w.sessions[k]
	if !present || nil == s.key {
		w.emitter.emitError(f.SenderID, newError("sealed frame without a connected session, share %s", f.ShareID))
		return
	}
	plain, err := team.Open(f.Sealed, s.key)
	if nil != err {
		w.emitter.emitError(f.SenderID, wrapError(err, "failed decrypting frame"))
		return
	}
	inner, err := wire.Decode(plain)
	if nil != err {
		w.emitter.emitError(f.SenderID, wrapError(err, "failed decoding sealed frame"))
		return
	}
	w.emitter.emitMessage(inner)
}

// sendOut seals one plaintext repository frame for its target and transmits
// it through the base adapter of w.
func (self *Provider) sendOut(w *AuthenticatedAdapter, f wire.Frame) {
	if "" == f.TargetID {
		w.emitter.emitError("", newError("outbound message without target"))
		return
	}

	s := self.selectSession(w, f.TargetID, f.DocID)
	if nil == s {
		w.emitter.emitError(f.TargetID, wrapError(ErrNoShare, "peer %s has no connected share", f.TargetID))
		return
	}

	if "" == f.SenderID {
		f.SenderID = w.base.ID()
	}
	plain, err := wire.Encode(f)
	if nil != err {
		w.emitter.emitError(f.TargetID, err)
		return
	}
	sealed, err := team.Seal(plain, s.key)
	if nil != err {
		w.emitter.emitError(f.TargetID, wrapError(err, "failed sealing frame"))
		return
	}

	err = w.base.Send(wire.Frame{
		Type:     wire.TypeSealed,
		SenderID: w.base.ID(),
		TargetID: f.TargetID,
		ShareID:  s.shareID,
		Sealed:   sealed,
	})
	if nil != err {
		w.emitter.emitError(f.TargetID, wrapError(err, "failed sending sealed frame"))
	}
}

// selectSession picks the session used to seal a message for peerID. Shares
// containing docID win when docID is set; the remaining tie is broken by
// lexicographic session key order so both sides of a pair agree.
func (self *Provider) selectSession(w *AuthenticatedAdapter, peerID, docID string) *session {
	var candidates []*session
	for shareID, sh := range self.shares {
		s, present := w.sessions[pairKey{shareID: shareID, peerID: peerID}]
		if !present || nil == s.key {
			continue
		}
		if "" != docID && sh.docs[docID] {
			candidates = append(candidates, s)
		} else if "" == docID {
			candidates = append(candidates, s)
		}
	}
	if 0 == len(candidates) && "" != docID {
		// no share holds the document, fall back to any connected share
		for shareID := range self.shares {
			s, present := w.sessions[pairKey{shareID: shareID, peerID: peerID}]
			if present && nil != s.key {
				candidates = append(candidates, s)
			}
		}
	}
	if 0 == len(candidates) {
		return nil
	}

	best := candidates[0]
	for _, s := range candidates[1:] {
		if bytes.Compare(s.key, best.key) < 0 {
			best = s
		}
	}
	return best
}

// saver serializes persisted-state writes: adjacent saves coalesce through
// the one-slot channel, the final save after Close always runs.
func (self *Provider) saver() {
	defer close(self.saveDone)
	for {
		select {
		case <-self.saveCh:
			self.saveNow()
		case <-self.stopCh:
			select {
			case <-self.saveCh:
				self.saveNow()
			default:
			}
			return
		}
	}
}

// scheduleSave requests an asynchronous save of the share set.
func (self *Provider) scheduleSave() {
	select {
	case self.saveCh <- struct{}{}:
	default:
	}
}

// saveNow snapshots the share set on the executor and writes the blob.
// Persistence failures are logged and surfaced; in-memory state stays
// authoritative.
func (self *Provider) saveNow() {
	var blob []byte
	var err error
	done := make(chan struct{})
	self.exec.do(func() {
		blob, err = self.encodeShares()
		close(done)
	})
	<-done
	if nil != err {
		self.surfaceSaveError(err)
		return
	}

	err = self.cfg.Store.Save(context.Background(), sharesKeyPath, blob)
	if nil != err {
		self.surfaceSaveError(err)
	}
}

func (self *Provider) surfaceSaveError(err error) {
	self.log.Error("failed persisting shares", "error", err)
	self.exec.do(func() {
		self.emit(Event{Kind: EventLocalError, Err: wrapError(err, "failed persisting shares")})
	})
}

// restore loads the persisted share set and admits every team it contains.
func (self *Provider) restore() {
	blob, err := self.cfg.Store.Load(context.Background(), sharesKeyPath)
	if nil != err {
		if !errors.Is(err, store.ErrNotFound) {
			self.log.Error("failed loading persisted shares", "error", err)
			self.exec.do(func() {
				self.emit(Event{Kind: EventLocalError, Err: wrapError(err, "failed loading persisted shares")})
			})
		}
		close(self.restored)
		return
	}

	self.exec.do(func() {
		defer close(self.restored)
		teams, err := self.decodeShares(blob)
		if nil != err {
			self.emit(Event{Kind: EventLocalError, Err: err})
			return
		}
		for _, t := range teams {
			self.admitTeam(t, false)
		}
		self.log.Info("restored shares", "count", len(teams))
	})
}
