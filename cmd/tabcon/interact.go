package main

import (
	"io"
	"os"

	"golang.org/x/term"

	"github.com/standardbeagle/tabcon/internal/remote"
	"github.com/standardbeagle/tabcon/internal/value"
)

const ctrlC = 0x03

const keyHelp = "keys: s=state c=clone a=activate r=resize d=detach all q=quit"

// interact serves single-key commands until the user quits, a signal
// arrives, or every console has closed.
func (s *session) interact() error {
	idle := make(chan struct{})
	go func() {
		if s.manager.Wait(s.ctx) == nil {
			close(idle)
		}
	}()

	var keys chan byte
	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		if old, err := term.MakeRaw(fd); err == nil {
			defer func() { _ = term.Restore(fd, old) }()
			s.host.setRaw(true)
			defer s.host.setRaw(false)
		}
		keys = make(chan byte)
		go readKeys(os.Stdin, keys)
		s.host.printf(keyHelp)
	}

	for {
		select {
		case <-s.ctx.Done():
			return nil
		case <-idle:
			return nil
		case k, ok := <-keys:
			if !ok {
				keys = nil
				continue
			}
			if quit := s.key(k); quit {
				return nil
			}
		}
	}
}

func readKeys(r io.Reader, keys chan<- byte) {
	defer close(keys)
	buf := make([]byte, 1)
	for {
		if _, err := r.Read(buf); err != nil {
			return
		}
		keys <- buf[0]
	}
}

// key handles one key press and reports whether to quit.
func (s *session) key(k byte) bool {
	var live []*remote.Process
	for _, p := range s.host.list() {
		if p.PID() != 0 {
			live = append(live, p)
		}
	}

	switch k {
	case 'q', ctrlC:
		return true
	case 's':
		for _, p := range live {
			state, err := p.GetState(s.ctx)
			if err != nil {
				s.host.printf("%s: %v", s.host.name(p), err)
				continue
			}
			s.host.printf("%s: %s", s.host.name(p), value.WriteObject(state))
		}
	case 'c':
		if len(live) > 0 {
			if _, err := s.cloneTab(live[0]); err != nil {
				s.host.printf("clone failed: %v", err)
			}
		}
	case 'a':
		for _, p := range live {
			p.Activate()
		}
	case 'r':
		for _, p := range live {
			p.CheckWindowSize()
			p.SendDpiChanged()
		}
	case 'd':
		for _, p := range live {
			if err := s.onMain(p.Detach); err != nil {
				s.host.printf("%s: %v", s.host.name(p), err)
			}
		}
	default:
		s.host.printf(keyHelp)
	}
	return false
}
