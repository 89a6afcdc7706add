package auth

import (
	"code.teamsync.org/golang/internal/wire"
	"code.teamsync.org/golang/pkg/team"
)

// Adapter is the surface shared by base network adapters and the
// authenticated wrappers a Provider builds over them.
//
// ID returns the local peer id on that transport; peer ids are scoped to one
// adapter, the same string on two adapters names two different peers.
// Callback registration is additive: every registered function fires.
type Adapter interface {
	ID() string
	Send(f wire.Frame) error

	OnReady(fn func())
	OnClose(fn func())
	OnPeerCandidate(fn func(peerID string))
	OnPeerDisconnected(fn func(peerID string))
	OnMessage(fn func(f wire.Frame))
	OnError(fn func(peerID string, err error))
}

// adapterEmitter holds the callback lists behind an Adapter event surface.
type adapterEmitter struct {
	ready            []func()
	closed           []func()
	peerCandidate    []func(string)
	peerDisconnected []func(string)
	message          []func(wire.Frame)
	errs             []func(string, error)
}

func (self *adapterEmitter) emitReady() {
	for _, fn := range self.ready {
		fn()
	}
}

func (self *adapterEmitter) emitClose() {
	for _, fn := range self.closed {
		fn()
	}
}

func (self *adapterEmitter) emitPeerCandidate(peerID string) {
	for _, fn := range self.peerCandidate {
		fn(peerID)
	}
}

func (self *adapterEmitter) emitPeerDisconnected(peerID string) {
	for _, fn := range self.peerDisconnected {
		fn(peerID)
	}
}

func (self *adapterEmitter) emitMessage(f wire.Frame) {
	for _, fn := range self.message {
		fn(f)
	}
}

func (self *adapterEmitter) emitError(peerID string, err error) {
	for _, fn := range self.errs {
		fn(peerID, err)
	}
}

// AuthenticatedAdapter is the virtual adapter a Provider presents to the
// repository. It re-emits the base adapter lifecycle, announces peers only
// once a session authenticated them, and turns plaintext repository traffic
// into sealed frames.
type AuthenticatedAdapter struct {
	provider *Provider
	base     Adapter
	emitter  adapterEmitter

	// peers currently known on the base adapter
	peers map[string]bool

	// peers already announced upward; cleared on peer loss so that a
	// reconnect announces again
	announced map[string]bool

	sessions map[pairKey]*session
	pending  pendingBuffer
}

func newAuthenticatedAdapter(p *Provider, base Adapter) *AuthenticatedAdapter {
	return &AuthenticatedAdapter{
		provider:  p,
		base:      base,
		peers:     make(map[string]bool),
		announced: make(map[string]bool),
		sessions:  make(map[pairKey]*session),
	}
}

// ID returns the base adapter local peer id.
func (self *AuthenticatedAdapter) ID() string {
	return self.base.ID()
}

// Send seals f for its target under the selected share session key and hands
// it to the base adapter. Failures surface on the error event, never as a
// returned error, so that the repository send path stays fire-and-forget.
func (self *AuthenticatedAdapter) Send(f wire.Frame) error {
	self.provider.exec.do(func() {
		self.provider.sendOut(self, f)
	})
	return nil
}

func (self *AuthenticatedAdapter) OnReady(fn func()) {
	self.emitter.ready = append(self.emitter.ready, fn)
}

func (self *AuthenticatedAdapter) OnClose(fn func()) {
	self.emitter.closed = append(self.emitter.closed, fn)
}

func (self *AuthenticatedAdapter) OnPeerCandidate(fn func(peerID string)) {
	self.emitter.peerCandidate = append(self.emitter.peerCandidate, fn)
}

func (self *AuthenticatedAdapter) OnPeerDisconnected(fn func(peerID string)) {
	self.emitter.peerDisconnected = append(self.emitter.peerDisconnected, fn)
}

func (self *AuthenticatedAdapter) OnMessage(fn func(f wire.Frame)) {
	self.emitter.message = append(self.emitter.message, fn)
}

func (self *AuthenticatedAdapter) OnError(fn func(peerID string, err error)) {
	self.emitter.errs = append(self.emitter.errs, fn)
}

var _ Adapter = &AuthenticatedAdapter{}

// announce emits peer-candidate upward once per connected stretch.
func (self *AuthenticatedAdapter) announce(peerID string) {
	if self.announced[peerID] {
		return
	}
	self.announced[peerID] = true
	self.emitter.emitPeerCandidate(peerID)
}

// session is the provider side wrapper around one handshake engine instance.
type session struct {
	shareID string
	peerID  string
	adapter *AuthenticatedAdapter
	conn    *team.Connection

	// key holds the session key once the engine connected.
	key []byte
}

func (self *session) pair() pairKey {
	return pairKey{shareID: self.shareID, peerID: self.peerID}
}
