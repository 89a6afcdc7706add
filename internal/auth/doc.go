// Package auth wraps base network adapters into authenticated, encrypted
// ones. A Provider multiplexes one handshake session per (share, peer) pair
// over each wrapped adapter, buffers handshake traffic that arrives early,
// routes sealed repository messages through the right session key, and
// persists the share set with the team keyrings wrapped under the device
// secret.
package auth
