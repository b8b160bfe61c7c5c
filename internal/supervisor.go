//go:build unix

// Watchdog supervision: two cooperating processes, each the watchdog of
// the other.
//
//  Principles Of Operation
//  =======================
//
// Start spawns the watchdog companion process and hands it, on its
// command line, everything it needs to reconstruct the protocol
// parameters on a re-exec: the pulse interval, the miss threshold and
// the monitored program's own argv. Both sides then run the same loop
// (RunWatchdog): a scheduler with one recurring pulse task that sends
// SIGUSR1 to the peer and counts outbound pulses; receipt of a peer
// pulse resets the count asynchronously. When the count exceeds the
// threshold the peer is presumed dead and the side that noticed
// resurrects it: the user side re-spawns the watchdog image, the
// watchdog side exec-replaces itself with the user program.
//
// A named rendezvous orders the handshakes so that neither side starts
// counting misses before the other side's scheduler is armed.
//
// The supervision state is process global: signal dispositions are
// process global too, and the handler path must reach the counters
// without any closure state. All fields are written during start-up or
// recovery and only read afterwards; the two counters shared with the
// signal dispatcher are atomics.

package wd_internal

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sethvargo/go-retry"
	"golang.org/x/sys/unix"
)

const (
	// The peer pid is exported into the environment under this name on
	// successful start and updated on every recovery:
	WD_ENV_VAR_NAME = "WD_PID"

	// wd_exec argv layout: wd_exec interval threshold <original argv...>:
	WD_ARGV_FIXED_ARGS = 3
)

// Signals of the supervision protocol:
const (
	PULSE_SIGNAL = unix.SIGUSR1
	STOP_SIGNAL  = unix.SIGUSR2
)

var supervisorLog = NewCompLogger("supervisor")

type WatchdogParams struct {
	// Pulse period, in whole seconds:
	Interval uint
	// Max tolerated outbound pulses since the last inbound one:
	Threshold uint
	// The monitored program's own argv, argv[0] included:
	Argv []string
	// Path of the watchdog companion image:
	WdExecPath string
	// Path of the rendezvous object:
	RendezvousPath string
	// How often to log a process health summary, 0 to disable:
	HealthReportInterval time.Duration
	// Which side of the protocol this process is on:
	IsUser bool
	// Pid of the peer being monitored from here:
	PeerPid int
}

// Process-wide supervision state:
type watchdogState struct {
	params WatchdogParams
	// Argument vector prepared for (re-)execution of the watchdog
	// image:
	argvWd []string
	sched  *HeapScheduler
	rdv    *Rendezvous
	// User side only, the spawned watchdog process:
	wdCmd *exec.Cmd
	// User side only, closed when the helper goroutine returns:
	helperDone chan struct{}

	// Outbound pulses since the last inbound one; reset by the pulse
	// handler:
	pulseMisses atomic.Uint64
	// Raised by the stop handler, read at the top of the pulse task:
	stopRequested atomic.Bool
}

var wdState = &watchdogState{}

var installSignalHandlersOnce sync.Once

// The dispatcher goroutine stands in for the async handlers; it only
// performs atomic stores, the moral equivalent of the async-signal-safe
// constraint.
func installSignalHandlers() {
	installSignalHandlersOnce.Do(func() {
		sigChan := make(chan os.Signal, 8)
		signal.Notify(sigChan, PULSE_SIGNAL, STOP_SIGNAL)
		go func() {
			for sig := range sigChan {
				switch sig {
				case PULSE_SIGNAL:
					wdState.pulseMisses.Store(0)
				case STOP_SIGNAL:
					wdState.stopRequested.Store(true)
				}
			}
		}()
	})
}

// The pulse task, the single task both sides run. Each tick: honor a
// pending stop request, pulse the peer, count the tick, declare the
// peer dead past the threshold.
func pulseTask(any) int {
	if wdState.stopRequested.Load() {
		supervisorLog.Debug("stop requested, winding down")
		wdState.sched.Destroy()
		return 1
	}

	if err := unix.Kill(wdState.params.PeerPid, PULSE_SIGNAL); err != nil {
		supervisorLog.Debugf("pulse pid %d: %v", wdState.params.PeerPid, err)
	}
	misses := wdState.pulseMisses.Add(1)
	supervisorLog.Debugf("pulse sent to pid %d, misses=%d", wdState.params.PeerPid, misses)

	if misses > uint64(wdState.params.Threshold) {
		supervisorLog.Warnf(
			"pid %d missed %d pulses (threshold %d), presumed dead",
			wdState.params.PeerPid, misses, wdState.params.Threshold,
		)
		wdState.sched.Stop()
	}

	return 0
}

// createWatchdog populates the supervision state and arms the
// scheduler. The user side already holds the full parameter set (and
// the watchdog argument vector) from Start, so only the peer identity
// is taken from the argument; the watchdog side copies everything and
// rebuilds the vector, which it needs should it ever re-spawn after a
// re-exec.
func createWatchdog(params *WatchdogParams) error {
	installSignalHandlers()

	if params.IsUser {
		wdState.params.PeerPid = params.PeerPid
		wdState.params.IsUser = true
	} else {
		wdState.params = *params
		wdState.argvWd = buildWdArgv(params.Threshold, params.Interval, params.Argv, params.WdExecPath)
	}

	wdState.sched = NewHeapScheduler()
	interval := time.Duration(wdState.params.Interval) * time.Second
	if id := wdState.sched.Add(pulseTask, nil, interval); id.Equal(BadTaskID) {
		return fmt.Errorf("cannot schedule the pulse task (interval %s)", interval)
	}
	if hri := wdState.params.HealthReportInterval; hri > 0 && !wdState.params.IsUser {
		if id := wdState.sched.Add(healthReportTask, nil, hri); id.Equal(BadTaskID) {
			supervisorLog.Warnf("cannot schedule the health report task (interval %s)", hri)
		}
	}
	return nil
}

// RunWatchdog is the supervision loop entry point, called on the helper
// goroutine on the user side and from main on the watchdog side. It
// arms the scheduler, posts the rendezvous to release the peer and
// re-enters recovery for as long as the scheduler reports Stopped (the
// pulse task's verdict that the peer died). On the watchdog side a
// successful recovery does not return: the process image is replaced
// with the user program.
func RunWatchdog(params *WatchdogParams) error {
	if err := createWatchdog(params); err != nil {
		return err
	}

	rdv, err := NewRendezvous(wdState.params.RendezvousPath)
	if err != nil {
		wdState.sched.Destroy()
		return err
	}
	wdState.rdv = rdv

	if err = rdv.Post(); err != nil {
		wdState.sched.Destroy()
		return err
	}

	for wdState.sched.Run() == SchedulerStopped {
		if err = recoverPeer(); err != nil {
			return err
		}
	}

	supervisorLog.Debug("supervision loop done")
	return nil
}

// recoverPeer resurrects the presumed-dead peer, per role.
func recoverPeer() error {
	wdState.pulseMisses.Store(0)
	if wdState.params.IsUser {
		return respawnWatchdog()
	}
	return execUser()
}

// User-side recovery: stop and reap the suspect watchdog (a no-op if it
// is genuinely dead), re-spawn the watchdog image and wait for the new
// instance to arm itself.
func respawnWatchdog() error {
	peerPid := wdState.params.PeerPid
	supervisorLog.Warnf("re-spawning watchdog (dead pid %d)", peerPid)

	unix.Kill(peerPid, STOP_SIGNAL)
	if wdState.wdCmd != nil {
		wdState.wdCmd.Wait()
	}

	cmd, err := spawnWatchdog()
	if err != nil {
		return err
	}
	wdState.wdCmd = cmd
	wdState.params.PeerPid = cmd.Process.Pid
	wdState.params.IsUser = true
	if err = os.Setenv(WD_ENV_VAR_NAME, strconv.Itoa(cmd.Process.Pid)); err != nil {
		return err
	}

	// Block until the new watchdog posts, i.e. its scheduler and
	// handlers are live:
	if err = wdState.rdv.Wait(); err != nil {
		return err
	}
	supervisorLog.Infof("watchdog re-spawned, pid %d", cmd.Process.Pid)
	return nil
}

// userRecoveryArgv is the command line the watchdog side re-executes
// when the user process dies: the user's own argv, carried through the
// watchdog's command line since start-up.
func userRecoveryArgv() ([]string, error) {
	argv := wdState.params.Argv
	if len(argv) == 0 {
		return nil, fmt.Errorf("no user argv on record")
	}
	return argv, nil
}

// Watchdog-side recovery: replace this process image with the user
// program. Control does not return on success.
func execUser() error {
	argv, err := userRecoveryArgv()
	if err != nil {
		return fmt.Errorf("re-execution of user program: %v", err)
	}
	supervisorLog.Warnf("re-executing user program %q (dead pid %d)", argv[0], wdState.params.PeerPid)

	path, err := exec.LookPath(argv[0])
	if err != nil {
		return fmt.Errorf("re-execution of user program: %v", err)
	}
	if err = unix.Exec(path, argv, os.Environ()); err != nil {
		return fmt.Errorf("re-execution of user program %q: %v", path, err)
	}
	return nil
}

// spawnWatchdog starts the watchdog image with the prepared argument
// vector. Process creation in Go is fork+exec in one step; the child
// comes up directly on the watchdog image.
func spawnWatchdog() (*exec.Cmd, error) {
	cmd := exec.Command(wdState.argvWd[0], wdState.argvWd[1:]...)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("spawn %q: %v", wdState.argvWd[0], err)
	}
	return cmd, nil
}

// buildWdArgv lays out the watchdog image's argument vector:
// wd_exec interval threshold <original argv...>.
func buildWdArgv(threshold, interval uint, argv []string, wdExecPath string) []string {
	argvWd := make([]string, 0, len(argv)+WD_ARGV_FIXED_ARGS)
	argvWd = append(
		argvWd,
		wdExecPath,
		strconv.FormatUint(uint64(interval), 10),
		strconv.FormatUint(uint64(threshold), 10),
	)
	return append(argvWd, argv...)
}

// initParams validates the start arguments and prepares both the
// supervision parameters and the watchdog argument vector.
func initParams(threshold, interval uint, argv []string, supCfg *SupervisorConfig) error {
	if interval == 0 {
		return fmt.Errorf("interval must be >= 1s")
	}
	if len(argv) == 0 {
		return fmt.Errorf("empty argv")
	}
	if supCfg == nil {
		supCfg = DefaultSupervisorConfig()
	}

	wdState.params = WatchdogParams{
		Interval:             interval,
		Threshold:            threshold,
		Argv:                 argv,
		WdExecPath:           supCfg.WdExecPath,
		RendezvousPath:       supCfg.RendezvousPath,
		HealthReportInterval: supCfg.HealthReportInterval,
	}

	wdState.argvWd = buildWdArgv(threshold, interval, argv, supCfg.WdExecPath)

	return nil
}

// Start launches the watchdog companion process and begins mutual
// monitoring. threshold is the number of tolerated missed pulses,
// interval the pulse period in whole seconds, argv the calling
// program's own command line (argv[0] included), used to resurrect it
// should it die. On return the peer pid is exported under WD_PID.
func Start(threshold, interval uint, argv []string) error {
	if err := initParams(threshold, interval, argv, supervisorConfig()); err != nil {
		return err
	}

	rdv, err := NewRendezvous(wdState.params.RendezvousPath)
	if err != nil {
		return err
	}
	wdState.rdv = rdv

	cmd, err := spawnWatchdog()
	if err != nil {
		return err
	}
	wdState.wdCmd = cmd
	wdState.params.PeerPid = cmd.Process.Pid
	wdState.params.IsUser = true
	supervisorLog.Infof("watchdog spawned, pid %d", cmd.Process.Pid)

	// First rendezvous: the watchdog's scheduler and handlers are live
	// before this side proceeds.
	if err = rdv.Wait(); err != nil {
		return err
	}

	// The helper goroutine hosts this side's half of the protocol:
	wdState.helperDone = make(chan struct{})
	go func() {
		defer close(wdState.helperDone)
		err := RunWatchdog(&WatchdogParams{IsUser: true, PeerPid: cmd.Process.Pid})
		if err != nil {
			supervisorLog.Errorf("supervision loop: %v", err)
		}
	}()

	// Second rendezvous: this side's scheduler is armed too.
	if err = rdv.Wait(); err != nil {
		return err
	}

	return os.Setenv(WD_ENV_VAR_NAME, strconv.Itoa(cmd.Process.Pid))
}

// Stop ends monitoring on both sides: the peer is told to stop, the
// local pulse task is tripped the same way, the rendezvous name is
// unlinked and the helper goroutine is joined. Best effort, no status.
func Stop() {
	if pid, err := strconv.Atoi(os.Getenv(WD_ENV_VAR_NAME)); err == nil {
		unix.Kill(pid, STOP_SIGNAL)
	} else {
		supervisorLog.Warnf("%s: %v", WD_ENV_VAR_NAME, err)
	}

	// Trip the local pulse task identically:
	unix.Kill(os.Getpid(), STOP_SIGNAL)

	if wdState.rdv != nil {
		wdState.rdv.Unlink()
	}
	if wdState.helperDone != nil {
		<-wdState.helperDone
	}
	if wdState.wdCmd != nil {
		// Reap the watchdog once it acts on the stop:
		go wdState.wdCmd.Wait()
	}
}

// AwaitPeer blocks until the process recorded under WD_PID accepts
// signals, retrying with capped exponential backoff. Consumers reading
// WD_PID during a recovery window may momentarily see a dead pid; this
// helper spares them hand-rolled retries.
func AwaitPeer(ctx context.Context) error {
	backoff := retry.WithCappedDuration(time.Second, retry.NewExponential(50*time.Millisecond))
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		pid, err := strconv.Atoi(os.Getenv(WD_ENV_VAR_NAME))
		if err != nil {
			return retry.RetryableError(fmt.Errorf("%s: %v", WD_ENV_VAR_NAME, err))
		}
		if err = unix.Kill(pid, 0); err != nil {
			return retry.RetryableError(fmt.Errorf("pid %d not signalable: %v", pid, err))
		}
		return nil
	})
}
