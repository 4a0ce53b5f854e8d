package main

import (
	"context"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
)

func echoHandler(_ context.Context, input string) string {
	return input
}

func shoutHandler(_ context.Context, input string) string {
	return strings.ToUpper(input) + "!"
}

// slowDemon answers after a fixed delay, honouring the killswitch. Spawn one
// and vanquish it mid-call to watch the timeout machinery work.
type slowDemon struct {
	delay time.Duration
}

func (d *slowDemon) Handle(ctx context.Context, input string) string {
	select {
	case <-time.After(d.delay):
		return input
	case <-ctx.Done():
		return "aborted"
	}
}

func (d *slowDemon) Vanquished(_ context.Context) {
	log.Info("slow demon vanquished politely")
}
