package main

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/srg/imulink/internal/groutine"
)

const (
	progressUpdateInterval = 100 * time.Millisecond
	clearLineSequence      = "\r\033[K"
)

// progressPrinter redraws a single status line until stopped:
//
//	Scanning (3 found, 7s left)
//
// With a zero duration it shows elapsed time instead of remaining time.
type progressPrinter struct {
	w        io.Writer
	prefix   string
	duration time.Duration
	status   func() string

	start    time.Time
	stopOnce sync.Once
	stopCh   chan struct{}
	done     chan struct{}
}

// startProgress draws the first line and keeps it current in the background.
// The caller must call Stop.
func startProgress(w io.Writer, prefix string, duration time.Duration, status func() string) *progressPrinter {
	p := &progressPrinter{
		w:        w,
		prefix:   prefix,
		duration: duration,
		status:   status,
		start:    time.Now(),
		stopCh:   make(chan struct{}),
		done:     make(chan struct{}),
	}
	fmt.Fprint(p.w, p.line(p.start))

	groutine.Go(context.Background(), "progress-"+prefix, func(context.Context) {
		defer close(p.done)
		ticker := time.NewTicker(progressUpdateInterval)
		defer ticker.Stop()
		for {
			select {
			case <-p.stopCh:
				return
			case now := <-ticker.C:
				fmt.Fprint(p.w, p.line(now))
			}
		}
	})
	return p
}

func (p *progressPrinter) line(now time.Time) string {
	elapsed := now.Sub(p.start)

	var clock string
	if p.duration > 0 {
		remaining := p.duration - elapsed
		if remaining < 0 {
			remaining = 0
		}
		// Round to the nearest second, 3.7s -> 4s
		clock = fmt.Sprintf("%ds left", int(remaining.Seconds()+0.5))
	} else {
		clock = fmt.Sprintf("%ds", int(elapsed.Seconds()))
	}

	if p.status != nil {
		if s := p.status(); s != "" {
			clock = s + ", " + clock
		}
	}
	return fmt.Sprintf("\r%s (%s)   ", p.prefix, clock)
}

// Stop ends the redraw loop and clears the line. It is safe to call more than once.
func (p *progressPrinter) Stop() {
	p.stopOnce.Do(func() {
		close(p.stopCh)
		<-p.done
		fmt.Fprint(p.w, clearLineSequence)
	})
}
