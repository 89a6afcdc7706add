package auth

// pairKey identifies one session inside one wrapped adapter.
type pairKey struct {
	shareID string
	peerID  string
}

// pendingBuffer queues handshake payloads that arrived before their session
// exists. Entries drain in arrival order, at most once.
type pendingBuffer struct {
	entries map[pairKey][][]byte
}

func (self *pendingBuffer) add(k pairKey, payload []byte) {
	if nil == self.entries {
		self.entries = make(map[pairKey][][]byte)
	}
	cp := make([]byte, len(payload))
	copy(cp, payload)
	self.entries[k] = append(self.entries[k], cp)
}

// drain removes and returns the queued payloads for k, oldest first.
func (self *pendingBuffer) drain(k pairKey) [][]byte {
	queued := self.entries[k]
	delete(self.entries, k)
	return queued
}

// forget drops any queue for k without delivering it.
func (self *pendingBuffer) forget(k pairKey) {
	delete(self.entries, k)
}
