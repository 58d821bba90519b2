package reaper

import (
	"context"
	"errors"
	"net"
	"os"
	"runtime"
	"slices"
	"syscall"
	"testing"
	"time"
)

type fakeFinder struct {
	pids []int
	err  error
}

func (f fakeFinder) Listeners(context.Context, int) ([]int, error) { return f.pids, f.err }

type recordingKiller struct {
	killed []int
	fail   map[int]error
}

func (k *recordingKiller) Kill(pid int, sig syscall.Signal) error {
	if sig != syscall.SIGKILL {
		return errors.New("unexpected signal")
	}
	if err := k.fail[pid]; err != nil {
		return err
	}
	k.killed = append(k.killed, pid)
	return nil
}

type sleepRecorder struct{ calls []time.Duration }

func (s *sleepRecorder) sleep(_ context.Context, d time.Duration) error {
	s.calls = append(s.calls, d)
	return nil
}

func TestReclaim_KillsListenersAndWaitsGrace(t *testing.T) {
	k := &recordingKiller{}
	s := &sleepRecorder{}
	r := New(time.Second, nil, WithFinder(fakeFinder{pids: []int{11, 22}}), WithKiller(k), WithSleep(s.sleep))

	got := r.Reclaim(context.Background(), 8000)
	if !slices.Equal(got, []int{11, 22}) || !slices.Equal(k.killed, []int{11, 22}) {
		t.Fatalf("killed %v (reported %v)", k.killed, got)
	}
	if !slices.Equal(s.calls, []time.Duration{time.Second}) {
		t.Fatalf("expected one grace wait, got %v", s.calls)
	}
}

func TestReclaim_NothingListening(t *testing.T) {
	k := &recordingKiller{}
	s := &sleepRecorder{}
	r := New(time.Second, nil, WithFinder(fakeFinder{}), WithKiller(k), WithSleep(s.sleep))
	if got := r.Reclaim(context.Background(), 8000); len(got) != 0 {
		t.Fatalf("nothing should be killed: %v", got)
	}
	if len(s.calls) != 0 {
		t.Fatalf("no grace wait expected when nothing was killed")
	}
}

func TestReclaim_SkipsSelfAndSwallowsErrors(t *testing.T) {
	self := os.Getpid()
	k := &recordingKiller{fail: map[int]error{33: syscall.EPERM}}
	s := &sleepRecorder{}
	r := New(time.Second, nil, WithFinder(fakeFinder{pids: []int{self, 33}}), WithKiller(k), WithSleep(s.sleep))
	if got := r.Reclaim(context.Background(), 8000); len(got) != 0 {
		t.Fatalf("got %v", got)
	}
	if len(k.killed) != 0 || len(s.calls) != 0 {
		t.Fatalf("self must never be signalled: %v", k.killed)
	}

	r = New(time.Second, nil, WithFinder(fakeFinder{err: errors.New("denied")}), WithKiller(k), WithSleep(s.sleep))
	if got := r.Reclaim(context.Background(), 8000); got != nil {
		t.Fatalf("discovery failure should reclaim nothing: %v", got)
	}
}

func TestSocketTable_FindsOwnListener(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("socket table owner lookup exercised on linux only")
	}
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = ln.Close() }()
	port := ln.Addr().(*net.TCPAddr).Port

	pids, err := SocketTable{}.Listeners(context.Background(), port)
	if err != nil {
		t.Skipf("socket table unavailable: %v", err)
	}
	if !slices.Contains(pids, os.Getpid()) {
		t.Fatalf("own pid %d not among listeners %v", os.Getpid(), pids)
	}

	// the real reaper must leave the controller alone
	r := New(0, nil)
	if got := r.Reclaim(context.Background(), port); len(got) != 0 {
		t.Fatalf("reaper signalled %v", got)
	}
}
