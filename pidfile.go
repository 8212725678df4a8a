package main

import (
	"fmt"
	"os"
	"syscall"
	"time"

	"github.com/leeineian/morphbot/sys"
)

// acquirePIDLock takes an exclusive lock on path, terminating a previous instance that
// still holds it, and writes our PID. The returned func unlocks and removes the file.
func acquirePIDLock(path string) (func(), error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, err
	}

	for attempt := 0; ; attempt++ {
		err = syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB)
		if err == nil {
			break
		}
		if err != syscall.EWOULDBLOCK || attempt >= 20 {
			_ = f.Close()
			return nil, err
		}

		var oldPid int
		_, _ = f.Seek(0, 0)
		if _, scanErr := fmt.Fscanf(f, "%d", &oldPid); scanErr != nil || oldPid == os.Getpid() {
			time.Sleep(100 * time.Millisecond)
			continue
		}
		terminate(oldPid)
	}

	_ = f.Truncate(0)
	_, _ = f.Seek(0, 0)
	_, _ = fmt.Fprintf(f, "%d", os.Getpid())
	_ = f.Sync()

	return func() {
		_ = syscall.Flock(int(f.Fd()), syscall.LOCK_UN)
		_ = f.Close()
		_ = os.Remove(path)
	}, nil
}

// terminate sends SIGTERM, then SIGKILL if the process outlives five seconds.
func terminate(pid int) {
	process, err := os.FindProcess(pid)
	if err != nil {
		return
	}
	sys.LogInfo(sys.MsgBotKillingOld, pid)
	_ = process.Signal(syscall.SIGTERM)

	for range 50 {
		if process.Signal(syscall.Signal(0)) != nil {
			sys.LogInfo(sys.MsgBotOldTerminated)
			return
		}
		time.Sleep(100 * time.Millisecond)
	}
	sys.LogWarn(sys.MsgBotOldStubborn, pid)
	_ = process.Signal(syscall.SIGKILL)
	time.Sleep(200 * time.Millisecond)
}
