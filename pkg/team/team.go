package team

import (
	"crypto/rand"
	"sync"

	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"
)

// Keyring holds the symmetric secrets shared by all members of a team.
// AuthKey authenticates membership proofs, EncKey encrypts the serialized
// team document.
type Keyring struct {
	Generation uint32 `cbor:"1,keyasint"`
	AuthKey    []byte `cbor:"2,keyasint"`
	EncKey     []byte `cbor:"3,keyasint"`
}

// Check validates the Keyring.
func (self Keyring) Check() error {
	if KeySize != len(self.AuthKey) || KeySize != len(self.EncKey) {
		return newError("invalid keyring, need %d bytes keys", KeySize)
	}
	return nil
}

// Member is one user known to a team, with the devices it enrolled.
type Member struct {
	UserID  string   `cbor:"1,keyasint"`
	UserPub []byte   `cbor:"2,keyasint"`
	Devices []string `cbor:"3,keyasint"`
}

// teamDoc is the serialized form of a Team. It is what Save seals under the
// keyring EncKey.
type teamDoc struct {
	ID          string            `cbor:"1,keyasint"`
	Name        string            `cbor:"2,keyasint"`
	Members     []Member          `cbor:"3,keyasint"`
	Invitations map[string][]byte `cbor:"4,keyasint,omitempty"` // invitation id -> SecretHash(secret)
}

// Team is the membership graph of one share, together with its keyring.
// Mutations happen through Connection admissions and the Add*/Invite methods.
type Team struct {
	mut     sync.Mutex
	doc     teamDoc
	keyring Keyring
}

// NewTeam creates a team founded by user on device.
// It errors if the identities are inconsistent.
func NewTeam(name string, device DeviceIdentity, user UserIdentity) (*Team, error) {
	if err := device.Check(); nil != err {
		return nil, wrapError(err, "invalid device identity")
	}
	if err := user.Check(); nil != err {
		return nil, wrapError(err, "invalid user identity")
	}
	if device.UserID != user.UserID {
		return nil, newError("device owner %s is not user %s", device.UserID, user.UserID)
	}

	keyring := Keyring{Generation: 1, AuthKey: make([]byte, KeySize), EncKey: make([]byte, KeySize)}
	_, err := rand.Read(keyring.AuthKey)
	if nil == err {
		_, err = rand.Read(keyring.EncKey)
	}
	if nil != err {
		return nil, wrapError(err, "failed keyring generation")
	}

	doc := teamDoc{
		ID:   uuid.New().String(),
		Name: name,
		Members: []Member{
			{UserID: user.UserID, UserPub: user.Keys.Pub, Devices: []string{device.DeviceID}},
		},
		Invitations: make(map[string][]byte),
	}

	return &Team{doc: doc, keyring: keyring}, nil
}

// ID returns the team id. Shares are identified by it.
func (self *Team) ID() string {
	return self.doc.ID
}

// Name returns the team display name.
func (self *Team) Name() string {
	return self.doc.Name
}

// Keyring returns the team keyring.
func (self *Team) Keyring() Keyring {
	self.mut.Lock()
	defer self.mut.Unlock()
	return self.keyring
}

// Members returns a copy of the team membership.
func (self *Team) Members() []Member {
	self.mut.Lock()
	defer self.mut.Unlock()

	rv := make([]Member, len(self.doc.Members))
	copy(rv, self.doc.Members)
	return rv
}

// Save serializes the team document and seals it under the keyring EncKey.
// The returned bytes are opaque; only LoadTeam with the matching Keyring can
// rebuild the Team.
func (self *Team) Save() ([]byte, error) {
	self.mut.Lock()
	defer self.mut.Unlock()

	plain, err := cbor.Marshal(self.doc)
	if nil != err {
		return nil, wrapError(err, "failed marshalling team document")
	}
	sealed, err := Seal(plain, self.keyring.EncKey)
	return sealed, wrapError(err, "failed sealing team document") // nil if err is nil
}

// LoadTeam rebuilds a Team from a Save output.
// It errors if keys do not open data or the document is malformed.
func LoadTeam(data []byte, ctx Context, keys Keyring) (*Team, error) {
	if err := keys.Check(); nil != err {
		return nil, wrapError(err, "invalid keyring")
	}
	if err := ctx.Device.Check(); nil != err {
		return nil, wrapError(err, "invalid load context")
	}

	plain, err := Open(data, keys.EncKey)
	if nil != err {
		return nil, wrapError(err, "failed opening team document")
	}
	var doc teamDoc
	err = cbor.Unmarshal(plain, &doc)
	if nil != err {
		return nil, wrapError(err, "failed unmarshaling team document")
	}
	if "" == doc.ID {
		return nil, newError("team document has no id")
	}
	if nil == doc.Invitations {
		doc.Invitations = make(map[string][]byte)
	}

	return &Team{doc: doc, keyring: keys}, nil
}

// Invite registers a new invitation on the team and returns the secret
// credential to hand to the invitee out of band.
func (self *Team) Invite(kind InviteKind) (Invitation, error) {
	if InviteMember != kind && InviteDevice != kind {
		return Invitation{}, newError("invalid invitation kind %d", kind)
	}

	secret := make([]byte, KeySize)
	_, err := rand.Read(secret)
	if nil != err {
		return Invitation{}, wrapError(err, "failed secret generation")
	}

	inv := Invitation{TeamID: self.doc.ID, ID: uuid.New().String(), Secret: secret, Kind: kind}

	self.mut.Lock()
	defer self.mut.Unlock()
	self.doc.Invitations[inv.ID] = SecretHash(secret)

	return inv, nil
}

// HasMemberDevice reports whether deviceID is enrolled for userID.
func (self *Team) HasMemberDevice(userID, deviceID string) bool {
	self.mut.Lock()
	defer self.mut.Unlock()

	for _, m := range self.doc.Members {
		if m.UserID != userID {
			continue
		}
		for _, d := range m.Devices {
			if d == deviceID {
				return true
			}
		}
	}
	return false
}

// AddMember enrolls a new user with its first device.
// It errors if the user is already a member.
func (self *Team) AddMember(userID string, userPub []byte, deviceID string) error {
	self.mut.Lock()
	defer self.mut.Unlock()

	for _, m := range self.doc.Members {
		if m.UserID == userID {
			return newError("user %s is already a member", userID)
		}
	}
	self.doc.Members = append(self.doc.Members, Member{UserID: userID, UserPub: userPub, Devices: []string{deviceID}})

	return nil
}

// AddDevice enrolls an additional device for an existing user.
// It errors if the user is not a member.
func (self *Team) AddDevice(userID, deviceID string) error {
	self.mut.Lock()
	defer self.mut.Unlock()

	for i, m := range self.doc.Members {
		if m.UserID != userID {
			continue
		}
		for _, d := range m.Devices {
			if d == deviceID {
				return nil
			}
		}
		self.doc.Members[i].Devices = append(m.Devices, deviceID)
		return nil
	}

	return newError("user %s is not a member", userID)
}

// invitationHash returns the registered hash for an invitation id.
func (self *Team) invitationHash(id string) ([]byte, bool) {
	self.mut.Lock()
	defer self.mut.Unlock()
	h, present := self.doc.Invitations[id]
	return h, present
}

// consumeInvitation removes the invitation record.
func (self *Team) consumeInvitation(id string) {
	self.mut.Lock()
	defer self.mut.Unlock()
	delete(self.doc.Invitations, id)
}
