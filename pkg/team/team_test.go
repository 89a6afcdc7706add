package team

import (
	"bytes"
	"testing"
)

func makeFounder(t *testing.T) (DeviceIdentity, UserIdentity) {
	t.Helper()
	user, err := NewUserIdentity("alice")
	if nil != err {
		t.Fatalf("failed user generation, got error %v", err)
	}
	device, err := NewDeviceIdentity(user.UserID)
	if nil != err {
		t.Fatalf("failed device generation, got error %v", err)
	}
	return device, user
}

func TestNewTeam(t *testing.T) {
	device, user := makeFounder(t)

	tm, err := NewTeam("engineering", device, user)
	if nil != err {
		t.Fatalf("failed team creation, got error %v", err)
	}
	if "" == tm.ID() {
		t.Fatal("team has no id")
	}
	if "engineering" != tm.Name() {
		t.Errorf("failed name control, %q != engineering", tm.Name())
	}
	if !tm.HasMemberDevice(user.UserID, device.DeviceID) {
		t.Error("founder device is not enrolled")
	}
	if err := tm.Keyring().Check(); nil != err {
		t.Errorf("invalid keyring, got error %v", err)
	}
}

func TestNewTeamRejectsForeignDevice(t *testing.T) {
	device, _ := makeFounder(t)
	other, err := NewUserIdentity("bob")
	if nil != err {
		t.Fatalf("failed user generation, got error %v", err)
	}

	_, err = NewTeam("engineering", device, other)
	if nil == err {
		t.Fatal("team created with a device of another user")
	}
}

func TestTeamSaveLoadRoundTrip(t *testing.T) {
	device, user := makeFounder(t)
	tm, err := NewTeam("engineering", device, user)
	if nil != err {
		t.Fatalf("failed team creation, got error %v", err)
	}

	data, err := tm.Save()
	if nil != err {
		t.Fatalf("failed team save, got error %v", err)
	}

	loaded, err := LoadTeam(data, Context{Device: device, User: &user}, tm.Keyring())
	if nil != err {
		t.Fatalf("failed team load, got error %v", err)
	}
	if loaded.ID() != tm.ID() {
		t.Errorf("failed id control, %s != %s", loaded.ID(), tm.ID())
	}
	if !loaded.HasMemberDevice(user.UserID, device.DeviceID) {
		t.Error("founder device lost through save/load")
	}
}

func TestLoadTeamRejectsWrongKeys(t *testing.T) {
	device, user := makeFounder(t)
	tm, err := NewTeam("engineering", device, user)
	if nil != err {
		t.Fatalf("failed team creation, got error %v", err)
	}
	data, err := tm.Save()
	if nil != err {
		t.Fatalf("failed team save, got error %v", err)
	}

	wrong := tm.Keyring()
	wrong.EncKey = make([]byte, KeySize)
	_, err = LoadTeam(data, Context{Device: device, User: &user}, wrong)
	if nil == err {
		t.Fatal("team loaded with the wrong keyring")
	}
}

func TestInvite(t *testing.T) {
	device, user := makeFounder(t)
	tm, err := NewTeam("engineering", device, user)
	if nil != err {
		t.Fatalf("failed team creation, got error %v", err)
	}

	inv, err := tm.Invite(InviteMember)
	if nil != err {
		t.Fatalf("failed invitation, got error %v", err)
	}
	if err := inv.Check(); nil != err {
		t.Fatalf("invalid invitation, got error %v", err)
	}
	if inv.TeamID != tm.ID() {
		t.Errorf("failed team id control, %s != %s", inv.TeamID, tm.ID())
	}

	h, present := tm.invitationHash(inv.ID)
	if !present {
		t.Fatal("invitation hash not registered")
	}
	if !bytes.Equal(h, SecretHash(inv.Secret)) {
		t.Error("registered hash does not match the secret")
	}

	tm.consumeInvitation(inv.ID)
	if _, present = tm.invitationHash(inv.ID); present {
		t.Error("invitation survived consumption")
	}
}

func TestAddMemberAndDevice(t *testing.T) {
	device, user := makeFounder(t)
	tm, err := NewTeam("engineering", device, user)
	if nil != err {
		t.Fatalf("failed team creation, got error %v", err)
	}

	bob, err := NewUserIdentity("bob")
	if nil != err {
		t.Fatalf("failed user generation, got error %v", err)
	}
	err = tm.AddMember(bob.UserID, bob.Keys.Pub, "bob-laptop")
	if nil != err {
		t.Fatalf("failed member admission, got error %v", err)
	}
	if err := tm.AddMember(bob.UserID, bob.Keys.Pub, "bob-laptop"); nil == err {
		t.Error("duplicate member admitted")
	}

	err = tm.AddDevice(bob.UserID, "bob-phone")
	if nil != err {
		t.Fatalf("failed device admission, got error %v", err)
	}
	if !tm.HasMemberDevice(bob.UserID, "bob-phone") {
		t.Error("admitted device not enrolled")
	}
	if err := tm.AddDevice("mallory", "m1"); nil == err {
		t.Error("device admitted for an unknown user")
	}
}
