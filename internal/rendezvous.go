//go:build unix

// Named cross-process rendezvous.
//
// The start-up and recovery handshakes need a single guarantee: "the
// peer's scheduler is armed before this side proceeds". A named FIFO
// provides it without any shared state beyond the well known path: a
// Wait opens the read end and blocks until a Post opens the write end
// and sends one byte. Note that, unlike a counting semaphore, a Post
// with no waiter blocks until one arrives; the supervision protocol
// pairs every Post with exactly one Wait, so this never deadlocks.

package wd_internal

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

var rendezvousLog = NewCompLogger("rendezvous")

type Rendezvous struct {
	path string
}

// NewRendezvous creates the FIFO at path if it does not exist yet and
// returns a handle on it. Both sides of the handshake call this; the
// first one in wins the creation race, the other reuses the object.
func NewRendezvous(path string) (*Rendezvous, error) {
	err := unix.Mkfifo(path, 0600)
	if err != nil && err != unix.EEXIST {
		return nil, fmt.Errorf("rendezvous %q: mkfifo: %v", path, err)
	}
	return &Rendezvous{path: path}, nil
}

// Wait blocks until a peer posts.
func (rdv *Rendezvous) Wait() error {
	f, err := os.OpenFile(rdv.path, os.O_RDONLY, 0)
	if err != nil {
		return fmt.Errorf("rendezvous %q: %v", rdv.path, err)
	}
	defer f.Close()
	buf := make([]byte, 1)
	if _, err = f.Read(buf); err != nil {
		return fmt.Errorf("rendezvous %q: %v", rdv.path, err)
	}
	return nil
}

// Post releases exactly one waiter, blocking until it shows up.
func (rdv *Rendezvous) Post() error {
	f, err := os.OpenFile(rdv.path, os.O_WRONLY, 0)
	if err != nil {
		return fmt.Errorf("rendezvous %q: %v", rdv.path, err)
	}
	defer f.Close()
	if _, err = f.Write([]byte{1}); err != nil {
		return fmt.Errorf("rendezvous %q: %v", rdv.path, err)
	}
	return nil
}

// Unlink removes the well known name. Safe to call when the FIFO is
// already gone (e.g. the peer unlinked first during shutdown).
func (rdv *Rendezvous) Unlink() error {
	err := os.Remove(rdv.path)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("rendezvous %q: %v", rdv.path, err)
	}
	if err == nil {
		rendezvousLog.Debugf("unlinked %q", rdv.path)
	}
	return nil
}

func (rdv *Rendezvous) Path() string {
	return rdv.path
}
