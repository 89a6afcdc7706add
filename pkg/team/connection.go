package team

import (
	"bytes"
	"crypto/hmac"
	"crypto/rand"

	"github.com/flynn/noise"
	"github.com/fxamacker/cbor/v2"
)

// Context configures one side of a Connection. Exactly one of Team (member
// side) or Invitation (invitee side) is set. User may be nil only for device
// invitations, where the user identity is recovered from the welcome.
type Context struct {
	Device     DeviceIdentity
	User       *UserIdentity
	Team       *Team
	Invitation *Invitation
}

// Check validates the Context.
func (self Context) Check() error {
	if err := self.Device.Check(); nil != err {
		return wrapError(err, "invalid device identity")
	}
	if (nil == self.Team) == (nil == self.Invitation) {
		return newError("need exactly one of team or invitation")
	}
	if nil != self.Team && nil == self.User {
		return newError("member context needs a user identity")
	}
	if nil != self.Invitation {
		if err := self.Invitation.Check(); nil != err {
			return wrapError(err, "invalid invitation")
		}
		if InviteMember == self.Invitation.Kind && nil == self.User {
			return newError("member invitation needs a user identity")
		}
	}
	if nil != self.User {
		if err := self.User.Check(); nil != err {
			return wrapError(err, "invalid user identity")
		}
	}
	return nil
}

// connState tracks Connection progress.
type connState int

const (
	stateCreated connState = iota
	stateHello
	stateHandshaking
	stateProving
	stateConnected
	stateClosed
)

// envelope wraps every message a Connection puts on the wire.
type envelope struct {
	Tag  int    `cbor:"1,keyasint"`
	Body []byte `cbor:"2,keyasint,omitempty"`
}

const (
	tagHello = iota + 1
	tagNoise
	tagProof
	tagAccept
	tagWelcome
	tagReject
)

// proofMsg is exchanged after the Noise handshake, encrypted by the
// handshake ciphers. Members carry MemberMAC, invitees carry InvitationID &
// InviteMAC.
type proofMsg struct {
	UserID       string `cbor:"1,keyasint,omitempty"`
	DeviceID     string `cbor:"2,keyasint,omitempty"`
	UserPub      []byte `cbor:"3,keyasint,omitempty"`
	MemberMAC    []byte `cbor:"4,keyasint,omitempty"`
	InvitationID string `cbor:"5,keyasint,omitempty"`
	InviteMAC    []byte `cbor:"6,keyasint,omitempty"`
	Kind         int    `cbor:"7,keyasint,omitempty"`
}

// welcomeMsg admits an invitee: the sealed team document, its keyring, and
// for device invitations the user keypair sealed under a key derived from
// the invitation secret hash.
type welcomeMsg struct {
	Team     []byte  `cbor:"1,keyasint"`
	Keyring  Keyring `cbor:"2,keyasint"`
	UserKeys []byte  `cbor:"3,keyasint,omitempty"`
}

type rejectMsg struct {
	Reason string `cbor:"1,keyasint"`
}

const (
	sessionKeyInfo = "teamsync session key"
	userKeysInfo   = "teamsync user keys"
)

// Connection runs the authentication protocol with one peer for one share:
// a role draw, a Noise XX handshake with the device static keys, then a
// membership or invitation proof. Once connected it exposes the session key
// both sides derived from the handshake transcript.
//
// Connection is not safe for concurrent use; the caller serializes Start,
// Deliver and Close.
type Connection struct {
	ctx        Context
	send       func([]byte) error
	peerUserID string

	state   connState
	token   []byte
	hs      *noise.HandshakeState
	enc     *noise.CipherState
	dec     *noise.CipherState
	binding []byte

	sessionKey []byte

	onJoined       func(*Team, UserIdentity)
	onConnected    func()
	onUpdated      func()
	onLocalError   func(error)
	onRemoteError  func(error)
	onDisconnected func()
}

// NewConnection creates a Connection. send is called with every serialized
// connection message to transport to the peer. peerUserID, when known,
// pins the user id the peer must prove.
func NewConnection(ctx Context, send func([]byte) error, peerUserID string) (*Connection, error) {
	if err := ctx.Check(); nil != err {
		return nil, wrapError(err, "invalid connection context")
	}
	if nil == send {
		return nil, newError("nil send function")
	}
	return &Connection{ctx: ctx, send: send, peerUserID: peerUserID, state: stateCreated}, nil
}

// OnJoined registers the invitation admission callback.
func (self *Connection) OnJoined(fn func(*Team, UserIdentity)) { self.onJoined = fn }

// OnConnected registers the callback fired when the session key is available.
func (self *Connection) OnConnected(fn func()) { self.onConnected = fn }

// OnUpdated registers the callback fired when the local team graph changed.
func (self *Connection) OnUpdated(fn func()) { self.onUpdated = fn }

// OnLocalError registers the callback fired when this side fails the peer.
func (self *Connection) OnLocalError(fn func(error)) { self.onLocalError = fn }

// OnRemoteError registers the callback fired when the peer failed this side.
func (self *Connection) OnRemoteError(fn func(error)) { self.onRemoteError = fn }

// OnDisconnected registers the callback fired when the Connection closes.
func (self *Connection) OnDisconnected(fn func()) { self.onDisconnected = fn }

// SessionKey returns the shared session secret, nil until connected and
// after close.
func (self *Connection) SessionKey() []byte {
	if stateConnected != self.state {
		return nil
	}
	return self.sessionKey
}

// Start begins the protocol by sending the role draw token.
// It errors if the Connection was already started.
func (self *Connection) Start() error {
	if stateCreated != self.state {
		return newError("connection already started")
	}

	self.token = make([]byte, 32)
	_, err := rand.Read(self.token)
	if nil != err {
		return wrapError(err, "failed token generation")
	}
	self.state = stateHello

	return self.sendEnvelope(tagHello, self.token)
}

// Close tears the Connection down without firing callbacks.
func (self *Connection) Close() {
	self.shutdown(false)
}

// Deliver processes one serialized connection message received from the peer.
// Malformed input errors without touching the protocol state; protocol level
// failures are reported through the error callbacks instead.
func (self *Connection) Deliver(raw []byte) error {
	if stateClosed == self.state {
		return newError("connection is closed")
	}

	var env envelope
	err := cbor.Unmarshal(raw, &env)
	if nil != err {
		return wrapError(err, "failed unmarshaling connection message")
	}

	switch env.Tag {
	case tagHello:
		return self.handleHello(env.Body)
	case tagNoise:
		return self.handleNoise(env.Body)
	case tagProof, tagAccept, tagWelcome, tagReject:
		return self.handleSealed(env.Tag, env.Body)
	default:
		return newError("unknown connection message tag %d", env.Tag)
	}
}

// handleHello draws roles and starts the Noise handshake.
func (self *Connection) handleHello(peerToken []byte) error {
	if stateHello != self.state {
		// duplicate hello after the draw, ignore
		return nil
	}
	if 32 != len(peerToken) {
		return newError("invalid hello token, %d bytes", len(peerToken))
	}

	cmp := bytes.Compare(self.token, peerToken)
	if 0 == cmp {
		self.failLocal(newError("role draw tie"))
		return nil
	}
	initiator := cmp < 0

	suite := noise.NewCipherSuite(noise.DH25519, noise.CipherChaChaPoly, noise.HashBLAKE2s)
	hs, err := noise.NewHandshakeState(noise.Config{
		CipherSuite: suite,
		Random:      rand.Reader,
		Pattern:     noise.HandshakeXX,
		Initiator:   initiator,
		StaticKeypair: noise.DHKey{
			Private: self.ctx.Device.Keys.Sec,
			Public:  self.ctx.Device.Keys.Pub,
		},
	})
	if nil != err {
		self.failLocal(wrapError(err, "failed handshake creation"))
		return nil
	}
	self.hs = hs
	self.state = stateHandshaking

	if initiator {
		out, _, _, err := hs.WriteMessage(nil, nil)
		if nil != err {
			self.failLocal(wrapError(err, "failed handshake write"))
			return nil
		}
		return self.sendEnvelope(tagNoise, out)
	}

	return nil
}

// handleNoise advances the XX handshake. The same code serves both roles:
// whoever reads or writes the final pattern message obtains the transport
// ciphers.
func (self *Connection) handleNoise(body []byte) error {
	if stateHandshaking != self.state || nil == self.hs {
		self.failLocal(newError("handshake message out of order"))
		return nil
	}

	_, cs1, cs2, err := self.hs.ReadMessage(nil, body)
	if nil != err {
		self.failLocal(wrapError(err, "failed handshake read"))
		return nil
	}
	if nil != cs1 {
		// responder read the final message
		self.enc, self.dec = cs2, cs1
		return self.finishHandshake()
	}

	out, cs1, cs2, err := self.hs.WriteMessage(nil, nil)
	if nil != err {
		self.failLocal(wrapError(err, "failed handshake write"))
		return nil
	}
	serr := self.sendEnvelope(tagNoise, out)
	if nil != serr {
		return serr
	}
	if nil != cs1 {
		// initiator wrote the final message
		self.enc, self.dec = cs1, cs2
		return self.finishHandshake()
	}

	return nil
}

// finishHandshake records the transcript binding and sends our proof.
func (self *Connection) finishHandshake() error {
	self.binding = self.hs.ChannelBinding()
	self.state = stateProving

	proof, err := self.buildProof()
	if nil != err {
		self.failLocal(err)
		return nil
	}

	return self.sendSealed(tagProof, proof)
}

func (self *Connection) buildProof() (proofMsg, error) {
	var proof proofMsg
	proof.DeviceID = self.ctx.Device.DeviceID

	if nil != self.ctx.Team {
		mac, err := keyedMAC(self.ctx.Team.Keyring().AuthKey, self.binding)
		if nil != err {
			return proof, err
		}
		proof.UserID = self.ctx.User.UserID
		proof.UserPub = self.ctx.User.Keys.Pub
		proof.MemberMAC = mac
		return proof, nil
	}

	inv := self.ctx.Invitation
	mac, err := keyedMAC(SecretHash(inv.Secret), self.binding)
	if nil != err {
		return proof, err
	}
	proof.InvitationID = inv.ID
	proof.InviteMAC = mac
	proof.Kind = int(inv.Kind)
	if InviteMember == inv.Kind {
		proof.UserID = self.ctx.User.UserID
		proof.UserPub = self.ctx.User.Keys.Pub
	} else {
		proof.UserID = self.ctx.Device.UserID
	}

	return proof, nil
}

// handleSealed decrypts and dispatches a post-handshake message.
func (self *Connection) handleSealed(tag int, body []byte) error {
	if stateProving != self.state && stateConnected != self.state {
		self.failLocal(newError("sealed message before handshake completion"))
		return nil
	}

	plain, err := self.dec.Decrypt(nil, nil, body)
	if nil != err {
		self.failLocal(wrapError(err, "failed decrypting connection message"))
		return nil
	}

	switch tag {
	case tagProof:
		return self.handleProof(plain)
	case tagAccept:
		self.becomeConnected()
		return nil
	case tagWelcome:
		return self.handleWelcome(plain)
	case tagReject:
		var msg rejectMsg
		_ = cbor.Unmarshal(plain, &msg)
		self.failRemote(wrapError(ErrRejected, "peer rejected us: %s", msg.Reason))
		return nil
	default:
		return newError("unknown sealed tag %d", tag)
	}
}

// handleProof verifies the peer proof. Only the member side verifies;
// invitees wait for the accept or welcome that answers their own proof.
func (self *Connection) handleProof(plain []byte) error {
	var proof proofMsg
	err := cbor.Unmarshal(plain, &proof)
	if nil != err {
		self.failLocal(wrapError(err, "failed unmarshaling proof"))
		return nil
	}

	if nil == self.ctx.Team {
		if 0 == len(proof.MemberMAC) {
			// two invitees cannot admit each other
			self.rejectPeer("no team member between peers")
		}
		return nil
	}

	if "" != self.peerUserID && "" != proof.UserID && proof.UserID != self.peerUserID {
		self.rejectPeer("peer user mismatch")
		return nil
	}

	if 0 != len(proof.MemberMAC) {
		self.verifyMemberProof(proof)
		return nil
	}
	if "" != proof.InvitationID {
		self.verifyInviteProof(proof)
		return nil
	}

	self.rejectPeer("proof carries no credential")
	return nil
}

func (self *Connection) verifyMemberProof(proof proofMsg) {
	expect, err := keyedMAC(self.ctx.Team.Keyring().AuthKey, self.binding)
	if nil != err {
		self.failLocal(err)
		return
	}
	if !hmac.Equal(expect, proof.MemberMAC) {
		self.rejectPeer("invalid membership proof")
		return
	}

	if err := self.sendSealed(tagAccept, struct{}{}); nil != err {
		return
	}
	self.becomeConnected()
}

func (self *Connection) verifyInviteProof(proof proofMsg) {
	t := self.ctx.Team
	secretHash, present := t.invitationHash(proof.InvitationID)
	if !present {
		self.rejectPeer("unknown invitation")
		return
	}
	expect, err := keyedMAC(secretHash, self.binding)
	if nil != err {
		self.failLocal(err)
		return
	}
	if !hmac.Equal(expect, proof.InviteMAC) {
		self.rejectPeer("invalid invitation proof")
		return
	}

	var welcome welcomeMsg
	switch InviteKind(proof.Kind) {
	case InviteMember:
		err = t.AddMember(proof.UserID, proof.UserPub, proof.DeviceID)
	case InviteDevice:
		err = t.AddDevice(proof.UserID, proof.DeviceID)
		if nil == err && nil != self.ctx.User && self.ctx.User.UserID == proof.UserID {
			var keys []byte
			keys, err = cbor.Marshal(*self.ctx.User)
			if nil == err {
				welcome.UserKeys, err = Seal(keys, DeriveKey(secretHash, userKeysInfo))
			}
		}
	default:
		err = newError("invalid invitation kind %d", proof.Kind)
	}
	if nil != err {
		self.rejectPeer("invitation not admissible")
		return
	}

	t.consumeInvitation(proof.InvitationID)
	if nil != self.onUpdated {
		self.onUpdated()
	}

	welcome.Team, err = t.Save()
	if nil != err {
		self.failLocal(wrapError(err, "failed serializing team for welcome"))
		return
	}
	welcome.Keyring = t.Keyring()

	if err := self.sendSealed(tagWelcome, welcome); nil != err {
		return
	}
	self.becomeConnected()
}

// handleWelcome admits this invitee into the team.
func (self *Connection) handleWelcome(plain []byte) error {
	if nil == self.ctx.Invitation {
		self.failLocal(newError("welcome received by a member"))
		return nil
	}

	var welcome welcomeMsg
	err := cbor.Unmarshal(plain, &welcome)
	if nil != err {
		self.failLocal(wrapError(err, "failed unmarshaling welcome"))
		return nil
	}

	loadCtx := Context{Device: self.ctx.Device, User: self.ctx.User, Team: nil, Invitation: self.ctx.Invitation}
	joined, err := loadTeamForWelcome(welcome, loadCtx)
	if nil != err {
		self.failLocal(err)
		return nil
	}

	var user UserIdentity
	if nil != self.ctx.User {
		user = *self.ctx.User
	} else {
		if 0 == len(welcome.UserKeys) {
			self.failLocal(newError("device welcome carries no user keys"))
			return nil
		}
		keys, err := Open(welcome.UserKeys, DeriveKey(SecretHash(self.ctx.Invitation.Secret), userKeysInfo))
		if nil != err {
			self.failLocal(wrapError(err, "failed opening welcome user keys"))
			return nil
		}
		err = cbor.Unmarshal(keys, &user)
		if nil != err {
			self.failLocal(wrapError(err, "failed unmarshaling welcome user keys"))
			return nil
		}
	}

	if nil != self.onJoined {
		self.onJoined(joined, user)
	}
	self.becomeConnected()

	return nil
}

func loadTeamForWelcome(welcome welcomeMsg, ctx Context) (*Team, error) {
	if err := welcome.Keyring.Check(); nil != err {
		return nil, wrapError(err, "welcome carries an invalid keyring")
	}
	t, err := LoadTeam(welcome.Team, ctx, welcome.Keyring)
	return t, wrapError(err, "failed loading welcomed team") // nil if err is nil
}

func (self *Connection) becomeConnected() {
	if stateConnected == self.state || stateClosed == self.state {
		return
	}
	self.sessionKey = DeriveKey(self.binding, sessionKeyInfo)
	self.state = stateConnected
	if nil != self.onConnected {
		self.onConnected()
	}
}

// rejectPeer tells the peer it failed admission and closes.
func (self *Connection) rejectPeer(reason string) {
	_ = self.sendSealed(tagReject, rejectMsg{Reason: reason})
	self.failLocal(wrapError(ErrRejected, "rejected peer: %s", reason))
}

func (self *Connection) failLocal(err error) {
	if nil != self.onLocalError {
		self.onLocalError(err)
	}
	self.shutdown(true)
}

func (self *Connection) failRemote(err error) {
	if nil != self.onRemoteError {
		self.onRemoteError(err)
	}
	self.shutdown(true)
}

func (self *Connection) shutdown(emit bool) {
	if stateClosed == self.state {
		return
	}
	self.state = stateClosed
	self.hs = nil
	self.enc = nil
	self.dec = nil
	self.sessionKey = nil
	if emit && nil != self.onDisconnected {
		self.onDisconnected()
	}
}

func (self *Connection) sendEnvelope(tag int, body []byte) error {
	raw, err := cbor.Marshal(envelope{Tag: tag, Body: body})
	if nil != err {
		return wrapError(err, "failed marshalling envelope")
	}
	return wrapError(self.send(raw), "failed sending connection message") // nil if err is nil
}

func (self *Connection) sendSealed(tag int, msg any) error {
	plain, err := cbor.Marshal(msg)
	if nil != err {
		self.failLocal(wrapError(err, "failed marshalling sealed message"))
		return nil
	}
	ct, err := self.enc.Encrypt(nil, nil, plain)
	if nil != err {
		self.failLocal(wrapError(err, "failed encrypting connection message"))
		return nil
	}
	return self.sendEnvelope(tag, ct)
}
