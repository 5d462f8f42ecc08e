package torrent

import (
	"time"

	"github.com/anacrolix/log"

	"github.com/coriolis-labs/swarmcore/internal/metrics"
	"github.com/coriolis-labs/swarmcore/resourcemanager"
)

// torrentCycler adapts a *Torrent's CycleChoke method to
// resourcemanager.Cycler, since the two were named independently
// (CycleChoke describes what a Torrent does; Cycle is the name
// resourcemanager's Tick calls generically across every registered
// torrent).
type torrentCycler struct{ t *Torrent }

func (c torrentCycler) Cycle(uploadQuota, downloadQuota uint32) (uploadDelta, downloadDelta int) {
	return c.t.CycleChoke(uploadQuota, downloadQuota)
}

// Client is the top-level handle spec §5 calls "the single cooperative
// event loop": it owns every registered Torrent, the clientLock every
// handler runs under, the Scheduler driving the choke-cycle/throttle-tick
// periodic tasks, and the resourcemanager.Manager coordinating unchoke
// quota across all of them.
type Client struct {
	lock   clientLock
	wake   schedulerWake
	sched  *Scheduler
	res    *resourcemanager.Manager
	config *ClientConfig

	metrics *metrics.Registry

	torrents map[[20]byte]*Torrent

	logger log.Logger
}

// NewClient builds a Client against config, registering metrics under
// reg (pass a fresh prometheus.NewRegistry() in tests to avoid colliding
// with other Clients' metric names on the default registry).
func NewClient(config *ClientConfig, reg *metrics.Registry, logger log.Logger) *Client {
	return &Client{
		sched:    NewScheduler(),
		res:      resourcemanager.NewManager(config.MaxUnchoked),
		config:   config,
		metrics:  reg,
		torrents: make(map[[20]byte]*Torrent),
		logger:   logger,
	}
}

// chokeCycleKey is the Scheduler key for the single, client-wide
// choke-cycle task: resourcemanager.Manager.Tick already rebalances
// every registered torrent's unchoke slots in one weighted pass, so
// unlike the throttle tick (which is inherently per-torrent, each having
// its own throttle.Manager), this task runs once for the whole Client
// rather than once per torrent.
type chokeCycleKey struct{}

// AddTorrent registers a new Torrent under infoHash, wiring it into the
// resourcemanager's global unchoke accounting and scheduling its
// throttle-tick task. The client-wide choke-cycle task is started lazily
// on the first registered torrent.
func (cl *Client) AddTorrent(t *Torrent, priority uint32) {
	cl.lock.Lock()
	defer cl.lock.Unlock()

	if len(cl.torrents) == 0 {
		cl.scheduleChokeCycle()
	}
	cl.torrents[t.infoHash] = t
	cl.res.Register(t.infoHash, priority, torrentCycler{t})
	cl.scheduleThrottleTick(t)
}

// RemoveTorrent cancels a registered Torrent's throttle-tick task and
// drops it from resourcemanager's accounting, stopping the client-wide
// choke-cycle task once no torrents remain.
func (cl *Client) RemoveTorrent(infoHash [20]byte) {
	cl.lock.Lock()
	defer cl.lock.Unlock()

	if _, ok := cl.torrents[infoHash]; !ok {
		return
	}
	cl.sched.Cancel(taskThrottleTick, infoHash)
	cl.res.Unregister(infoHash)
	delete(cl.torrents, infoHash)
	if len(cl.torrents) == 0 {
		cl.sched.Cancel(taskChokeCycle, chokeCycleKey{})
	}
}

// Torrent looks up a registered torrent by info hash.
func (cl *Client) Torrent(infoHash [20]byte) (*Torrent, bool) {
	cl.lock.RLock()
	defer cl.lock.RUnlock()
	t, ok := cl.torrents[infoHash]
	return t, ok
}

// scheduleChokeCycle arranges for the resourcemanager-wide unchoke
// rebalance to run every ChokeCycleInterval, per spec §5's "every
// choke-interval seconds" choke-cycle task; rescheduling itself keeps the
// task alive as long as at least one torrent remains registered.
func (cl *Client) scheduleChokeCycle() {
	cl.sched.Schedule(taskChokeCycle, chokeCycleKey{}, time.Now().Add(cl.config.ChokeCycleInterval), func() {
		cl.res.Tick(uint32(cl.config.MaxUnchoked), uint32(cl.config.MaxUnchoked))
		if len(cl.torrents) > 0 {
			cl.scheduleChokeCycle()
		}
	})
}

// scheduleThrottleTick arranges for t's throttle quota to replenish every
// ThrottleTickInterval, per spec §5's "every ≈ 100 ms" throttle-tick
// task.
func (cl *Client) scheduleThrottleTick(t *Torrent) {
	cl.sched.Schedule(taskThrottleTick, t.infoHash, time.Now().Add(cl.config.ThrottleTickInterval), func() {
		t.TickThrottle()
		if _, ok := cl.torrents[t.infoHash]; ok {
			cl.scheduleThrottleTick(t)
		}
	})
}

// RunDue runs every scheduled task due at or before now under the
// client's lock, the cooperative event loop's single entry point for
// time-driven work (spec §5: "a single cooperative event loop ... wakes
// on ... the next scheduled task's due time").
func (cl *Client) RunDue(now time.Time) int {
	cl.lock.Lock()
	defer cl.lock.Unlock()
	ran := cl.sched.RunDue(now)
	if ran > 0 {
		cl.wake.Broadcast()
	}
	return ran
}

// WaitForWork blocks until RunDue has run at least one task since Wait
// was called, for a goroutine that wants to re-evaluate its own
// due-time/select loop after state changes rather than busy-polling
// NextDue.
func (cl *Client) WaitForWork() {
	cl.lock.Lock()
	defer cl.lock.Unlock()
	cl.wake.Wait(&cl.lock)
}

// NextDue reports when the next scheduled task fires, for a caller
// driving the event loop's own timer/select.
func (cl *Client) NextDue() (time.Time, bool) {
	cl.lock.RLock()
	defer cl.lock.RUnlock()
	return cl.sched.NextDue()
}
