//go:build unix

// Tests for rendezvous.go

package wd_internal

import (
	"path"
	"testing"
	"time"
)

func testRendezvousPath(t *testing.T) string {
	return path.Join(t.TempDir(), "wd.rdv")
}

func TestRendezvousPostThenWait(t *testing.T) {
	rdvPath := testRendezvousPath(t)
	rdv, err := NewRendezvous(rdvPath)
	if err != nil {
		t.Fatal(err)
	}
	// Second open of the same name reuses the object:
	if _, err = NewRendezvous(rdvPath); err != nil {
		t.Fatal(err)
	}

	postErr := make(chan error, 1)
	go func() { postErr <- rdv.Post() }()

	if err = rdv.Wait(); err != nil {
		t.Fatal(err)
	}
	select {
	case err = <-postErr:
		if err != nil {
			t.Fatal(err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("post did not pair w/ the wait")
	}
}

func TestRendezvousWaitThenPost(t *testing.T) {
	rdv, err := NewRendezvous(testRendezvousPath(t))
	if err != nil {
		t.Fatal(err)
	}

	waitErr := make(chan error, 1)
	go func() { waitErr <- rdv.Wait() }()

	// Give the waiter a head start, then release it:
	time.Sleep(50 * time.Millisecond)
	if err = rdv.Post(); err != nil {
		t.Fatal(err)
	}
	select {
	case err = <-waitErr:
		if err != nil {
			t.Fatal(err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("wait did not pair w/ the post")
	}
}

func TestRendezvousUnlink(t *testing.T) {
	rdv, err := NewRendezvous(testRendezvousPath(t))
	if err != nil {
		t.Fatal(err)
	}
	if err = rdv.Unlink(); err != nil {
		t.Fatal(err)
	}
	// Unlinking an already removed name is not an error:
	if err = rdv.Unlink(); err != nil {
		t.Fatal(err)
	}
}
