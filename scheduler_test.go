package torrent

import (
	"testing"
	"time"

	qt "github.com/frankban/quicktest"
)

func TestSchedulerRunsDueTasksInOrder(t *testing.T) {
	c := qt.New(t)
	s := NewScheduler()
	base := time.Unix(1000, 0)

	var order []string
	s.Schedule(taskChokeCycle, "a", base.Add(2*time.Second), func() { order = append(order, "a") })
	s.Schedule(taskThrottleTick, "b", base.Add(1*time.Second), func() { order = append(order, "b") })

	ran := s.RunDue(base.Add(3 * time.Second))
	c.Assert(ran, qt.Equals, 2)
	c.Assert(order, qt.DeepEquals, []string{"b", "a"})
}

func TestRescheduleIsIdempotentEraseThenInsert(t *testing.T) {
	c := qt.New(t)
	s := NewScheduler()
	base := time.Unix(1000, 0)

	runs := 0
	s.Schedule(taskKeepAlive, "conn1", base.Add(time.Second), func() { runs++ })
	s.Schedule(taskKeepAlive, "conn1", base.Add(5*time.Second), func() { runs++ })

	c.Assert(s.RunDue(base.Add(2*time.Second)), qt.Equals, 0)
	c.Assert(s.RunDue(base.Add(6*time.Second)), qt.Equals, 1)
	c.Assert(runs, qt.Equals, 1)
}

func TestCancelRemovesPendingTask(t *testing.T) {
	c := qt.New(t)
	s := NewScheduler()
	base := time.Unix(1000, 0)

	s.Schedule(taskTrackerRequest, "t1", base.Add(time.Second), func() { t.Fatal("must not run") })
	c.Assert(s.IsScheduled(taskTrackerRequest, "t1"), qt.IsTrue)
	s.Cancel(taskTrackerRequest, "t1")
	c.Assert(s.IsScheduled(taskTrackerRequest, "t1"), qt.IsFalse)
	c.Assert(s.RunDue(base.Add(2*time.Second)), qt.Equals, 0)
}

func TestNextDueReportsEarliestPending(t *testing.T) {
	c := qt.New(t)
	s := NewScheduler()
	base := time.Unix(1000, 0)

	_, ok := s.NextDue()
	c.Assert(ok, qt.IsFalse)

	s.Schedule(taskChokeCycle, "a", base.Add(10*time.Second), func() {})
	s.Schedule(taskChokeCycle, "b", base.Add(3*time.Second), func() {})
	due, ok := s.NextDue()
	c.Assert(ok, qt.IsTrue)
	c.Assert(due.Equal(base.Add(3*time.Second)), qt.IsTrue)
}

func TestTaskReschedulingItselfDoesNotSelfCancel(t *testing.T) {
	c := qt.New(t)
	s := NewScheduler()
	base := time.Unix(1000, 0)

	count := 0
	var currentNow time.Time
	var tick func()
	tick = func() {
		count++
		if count < 3 {
			s.Schedule(taskThrottleTick, "global", currentNow.Add(time.Second), tick)
		}
	}
	s.Schedule(taskThrottleTick, "global", base.Add(time.Second), tick)

	for i := 1; i <= 3 && s.IsScheduled(taskThrottleTick, "global"); i++ {
		currentNow = base.Add(time.Duration(i) * time.Second)
		s.RunDue(currentNow)
	}
	c.Assert(count, qt.Equals, 3)
}
