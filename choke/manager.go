package choke

// Manager pairs an upload Queue and a download Queue for one torrent and is
// the thing spec §4.7 calls the "choke engine": the periodic choke-cycle
// task calls Cycle on both, and per-peer interest/snub transitions are
// routed through SetInterested/SetSnubbed so callers never touch a Queue
// directly.
type Manager struct {
	Upload   *Queue
	Download *Queue

	states map[Peer]*State
}

// NewManager builds a Manager with independent upload/download Queues, each
// driven by the heuristic and rate/locally-unchoked callbacks appropriate
// to its direction.
func NewManager(uploadRate, downloadRate RateFunc, locallyUnchoked LocallyUnchokedFunc) *Manager {
	return &Manager{
		Upload:   NewQueue(UploadLeech, uploadRate, locallyUnchoked),
		Download: NewQueue(DownloadLeech, downloadRate, nil),
		states:   make(map[Peer]*State),
	}
}

func (m *Manager) stateFor(p Peer) *State {
	s, ok := m.states[p]
	if !ok {
		s = &State{}
		m.states[p] = s
	}
	return s
}

// SetInterested reflects a peer's interested state into the upload queue: it
// queues the peer for upload-side unchoke consideration (we choose whether
// to upload to it) the moment it expresses interest, and clears it the
// moment it doesn't. Download-side queuing is driven separately by
// SetRemoteInterested since the two directions track different peer flags.
func (m *Manager) SetInterested(p Peer, interested bool) {
	s := m.stateFor(p)
	if interested {
		m.Upload.SetQueued(p, s)
	} else {
		m.Upload.SetNotQueued(p, s)
	}
}

// SetRemoteInterested reflects our own interest in a peer into the download
// queue: we queue it for download-side unchoke consideration (whether it
// lets us request from it) while we're interested in its pieces, and clear
// it the moment we lose interest, matching peerconn.Handler's
// OnPeerChoked/OnPeerUnchoked contract (an UNCHOKE only re-queues us if
// we're still interested).
func (m *Manager) SetRemoteInterested(p Peer, interested bool) {
	s := m.stateFor(p)
	if interested {
		m.Download.SetQueued(p, s)
	} else {
		m.Download.SetNotQueued(p, s)
	}
}

// SetSnubbed marks a peer snubbed/not-snubbed on the upload side (a peer
// that has stopped requesting chunks from us for too long is demoted out of
// our unchoked set regardless of quota).
func (m *Manager) SetSnubbed(p Peer, snubbed bool) {
	s := m.stateFor(p)
	if snubbed {
		m.Upload.SetSnubbed(p, s)
	} else {
		m.Upload.SetNotSnubbed(p, s)
	}
}

// Disconnected removes a peer from both queues and drops its State.
func (m *Manager) Disconnected(p Peer) {
	s, ok := m.states[p]
	if !ok {
		return
	}
	m.Upload.Disconnected(p, s)
	m.Download.Disconnected(p, s)
	delete(m.states, p)
}

// Cycle runs the periodic rebalance for both directions given the quota the
// resourcemanager package has allotted this torrent, returning the net
// change in unchoked-peer count for each direction.
func (m *Manager) Cycle(uploadQuota, downloadQuota uint32) (uploadDelta, downloadDelta int) {
	return m.Upload.Cycle(uploadQuota), m.Download.Cycle(downloadQuota)
}
