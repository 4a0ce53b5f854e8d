package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/Malanche/apocalypse"
	"github.com/sethvargo/go-limiter"
	log "github.com/sirupsen/logrus"
)

// connDemon serves one client connection. Frames come in through the wire
// and answers go straight back down it; the census demon hears about
// arrivals and departures through the gate.
type connDemon struct {
	src    *apocalypse.ConnFrameSource
	store  limiter.Store
	gate   *apocalypse.Gate
	census apocalypse.Location[int, int]
	remote string
	frames uint64
}

func (d *connDemon) DemonID() string {
	return "wire:" + d.remote
}

func (d *connDemon) Handle(_ context.Context, _ struct{}) string {
	return fmt.Sprintf("%v after %d frames", d.remote, d.frames)
}

func (d *connDemon) Spawned(_ context.Context, _ apocalypse.Location[struct{}, string]) {
	if err := apocalypse.SendAndIgnore(d.gate, d.census, 1); err != nil {
		log.Debugf("census increment failed: %v", err)
	}
}

// Vanquished closes the connection. It runs on client disconnect and on
// extinguish alike; only a killswitch skips it, and then the process is
// about to exit anyway.
func (d *connDemon) Vanquished(_ context.Context) {
	_ = d.src.Close()
	if err := apocalypse.SendAndIgnore(d.gate, d.census, -1); err != nil {
		log.Debugf("census decrement failed: %v", err)
	}
}

func (d *connDemon) OnFrame(ctx context.Context, frame apocalypse.Frame) {
	d.frames++
	switch frame.Kind {
	case apocalypse.FramePing:
		d.reply(apocalypse.Frame{Kind: apocalypse.FramePong, Payload: frame.Payload})
	case apocalypse.FrameText:
		if _, _, _, ok, _ := d.store.Take(ctx, d.remote); !ok {
			log.WithField("remote", d.remote).Debug("frame rate limited")
			return
		}
		d.reply(apocalypse.TextFrame(strings.ToUpper(string(frame.Payload)) + "!"))
	case apocalypse.FrameBinary:
		if _, _, _, ok, _ := d.store.Take(ctx, d.remote); !ok {
			log.WithField("remote", d.remote).Debug("frame rate limited")
			return
		}
		d.reply(frame)
	}
}

func (d *connDemon) reply(frame apocalypse.Frame) {
	if err := d.src.Write(frame); err != nil {
		log.WithField("remote", d.remote).Debugf("write failed: %v", err)
	}
}
