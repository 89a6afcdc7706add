package auth

import (
	"code.teamsync.org/golang/internal/wire"
	"code.teamsync.org/golang/pkg/team"
)

// sharesKeyPath is the fixed store key holding the whole share set.
var sharesKeyPath = []string{"AuthProvider", "shares"}

const storageKeyInfo = "teamsync share storage"

// persistedShare is one share at rest: the sealed team document as produced
// by team.Save, and the keyring sealed under a key derived from the device
// secret. Nothing in the blob is plaintext key material.
type persistedShare struct {
	EncryptedTeam     []byte `cbor:"1,keyasint"`
	EncryptedTeamKeys []byte `cbor:"2,keyasint"`
}

// storageKey derives the at-rest wrapping key from the device secret key.
func (self *Provider) storageKey() []byte {
	return team.DeriveKey(self.cfg.Device.Keys.Sec, storageKeyInfo)
}

// encodeShares serializes the share registry to the persisted blob.
func (self *Provider) encodeShares() ([]byte, error) {
	key := self.storageKey()

	out := make(map[string]persistedShare, len(self.shares))
	for id, sh := range self.shares {
		sealedTeam, err := sh.team.Save()
		if nil != err {
			return nil, wrapError(err, "failed serializing team %s", id)
		}
		keyring, err := wire.Marshal(sh.team.Keyring())
		if nil != err {
			return nil, wrapError(err, "failed marshalling keyring of %s", id)
		}
		sealedKeys, err := team.Seal(keyring, key)
		if nil != err {
			return nil, wrapError(err, "failed sealing keyring of %s", id)
		}
		out[id] = persistedShare{EncryptedTeam: sealedTeam, EncryptedTeamKeys: sealedKeys}
	}

	blob, err := wire.Marshal(out)
	return blob, wrapError(err, "failed marshalling share set") // nil if err is nil
}

// decodeShares rebuilds the teams contained in a persisted blob. Entries
// that fail to open are skipped and logged so one damaged share cannot take
// the rest down.
func (self *Provider) decodeShares(blob []byte) ([]*team.Team, error) {
	var in map[string]persistedShare
	err := wire.Unmarshal(blob, &in)
	if nil != err {
		return nil, wrapError(err, "failed unmarshaling share set")
	}

	key := self.storageKey()
	loadCtx := team.Context{Device: self.cfg.Device, User: self.user}

	teams := make([]*team.Team, 0, len(in))
	for id, ps := range in {
		keyring, err := team.Open(ps.EncryptedTeamKeys, key)
		if nil != err {
			self.log.Error("failed opening persisted keyring", "share", id, "error", err)
			continue
		}
		var keys team.Keyring
		err = wire.Unmarshal(keyring, &keys)
		if nil != err {
			self.log.Error("failed unmarshaling persisted keyring", "share", id, "error", err)
			continue
		}
		t, err := team.LoadTeam(ps.EncryptedTeam, loadCtx, keys)
		if nil != err {
			self.log.Error("failed loading persisted team", "share", id, "error", err)
			continue
		}
		if t.ID() != id {
			self.log.Error("persisted team id mismatch", "share", id, "team", t.ID())
			continue
		}
		teams = append(teams, t)
	}

	return teams, nil
}
