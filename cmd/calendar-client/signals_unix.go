//go:build unix

package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/calsync/project/internal/client/session"
)

// watchVisibility treats resuming a stopped process (SIGCONT) as the view becoming
// visible again, which reconnects a session that gave up while suspended.
func watchVisibility(s *session.Session) func() {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGCONT)
	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-done:
				return
			case <-ch:
				s.SetVisible(false)
				s.SetVisible(true)
			}
		}
	}()
	return func() {
		signal.Stop(ch)
		close(done)
	}
}
