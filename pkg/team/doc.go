// Package team implements the cryptographic side of share membership: team
// documents and their keyrings, invitations, symmetric sealing, and the
// per-peer Connection that runs a Noise XX handshake followed by a
// membership or invitation proof.
//
// The package is consumed by internal/auth through a narrow surface:
// NewConnection/Start/Deliver/SessionKey plus the Team Save/Keyring/LoadTeam
// trio and Seal/Open. Everything else supports those entry points.
package team
