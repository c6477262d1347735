//go:build windows

package osproc

import (
	"context"

	"golang.org/x/sys/windows"
)

// CancelEvent returns a manual-reset event that is set when ctx ends, for
// use in WaitForMultipleObjects alongside I/O and process handles. The
// release function must be called once the event is no longer waited
// on; it closes the event.
func CancelEvent(ctx context.Context) (windows.Handle, func(), error) {
	ev, err := windows.CreateEvent(nil, 1, 0, nil)
	if err != nil {
		return 0, nil, err
	}
	fired := make(chan struct{})
	stop := context.AfterFunc(ctx, func() {
		windows.SetEvent(ev)
		close(fired)
	})
	return ev, func() {
		if !stop() {
			<-fired
		}
		windows.CloseHandle(ev)
	}, nil
}
