package main

import (
	"context"
	"flag"
	"net"
	"os/signal"
	"syscall"
	"time"

	"github.com/Malanche/apocalypse"
	"github.com/sethvargo/go-limiter"
	"github.com/sethvargo/go-limiter/memorystore"
	log "github.com/sirupsen/logrus"
)

var (
	addr     = flag.String("a", ":7666", "tcp listen address, in form \":port\" or \"ip:port\"")
	limit    = flag.Uint64("limit", 32, "frames allowed per connection per interval")
	interval = flag.Duration("interval", 10*time.Second, "interval until rate limit tokens reset")
	debug    = flag.Bool("debug", false, "log at debug level")
)

func main() {
	flag.Parse()

	if *debug {
		log.SetLevel(log.DebugLevel)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, err := memorystore.New(&memorystore.Config{
		// Number of tokens allowed per interval.
		Tokens: *limit,

		// Interval until tokens reset.
		Interval: *interval,

		SweepInterval: 1 * time.Minute,
		SweepMinTTL:   1 * time.Minute,
	})
	if err != nil {
		log.Fatalf("could not build the rate limit store: %v", err)
	}

	bus := apocalypse.NewEventBus()
	events := make(chan apocalypse.BusEvent, 128)
	if err := bus.Subscribe("", events); err != nil {
		log.Fatalf("could not subscribe to the bus: %v", err)
	}
	go func() {
		for ev := range events {
			log.WithFields(log.Fields{
				"topic":   ev.Topic,
				"address": ev.Address,
				"detail":  ev.Detail,
			}).Debug("bus event")
		}
	}()

	gate := apocalypse.BuildHell().
		WithName("wiregate").
		WithVanquishTimeout(5 * time.Second).
		WithBus(bus).
		Ignite()

	census, err := apocalypse.SpawnFunc(ctx, gate, censusHandler())
	if err != nil {
		log.Fatalf("could not spawn the census demon: %v", err)
	}

	ln, err := net.Listen("tcp", *addr)
	if err != nil {
		log.Fatalf("could not listen on %v: %v", *addr, err)
	}
	log.Infof("wiregate listening on %v", ln.Addr())

	go serve(ctx, ln, gate, store, census)

	<-ctx.Done()
	log.Info("shutting down")

	_ = ln.Close()

	shutdownCtx, stop := context.WithTimeout(context.Background(), 30*time.Second)
	defer stop()
	if err := gate.Extinguish(shutdownCtx, true); err != nil {
		log.Warnf("extinguish failed: %v", err)
	}
}

// serve hands every accepted connection its own wire demon. Reading,
// rate limiting and answering all happen inside the demon, so this loop
// only ever blocks on Accept.
func serve(ctx context.Context, ln net.Listener, gate *apocalypse.Gate, store limiter.Store, census apocalypse.Location[int, int]) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Warnf("accept failed: %v", err)
			return
		}

		src := apocalypse.NewConnFrameSource(conn)
		demon := &connDemon{
			src:    src,
			store:  store,
			gate:   gate,
			census: census,
			remote: conn.RemoteAddr().String(),
		}

		loc, err := apocalypse.SpawnWire[struct{}, string](ctx, gate, demon, src)
		if err != nil {
			log.Warnf("could not spawn a demon for %v: %v", conn.RemoteAddr(), err)
			_ = src.Close()
			continue
		}
		log.Infof("%v connected as %v", conn.RemoteAddr(), loc)
	}
}

// censusHandler counts live connections. One demon owns the counter, so no
// lock is needed around it.
func censusHandler() func(context.Context, int) int {
	count := 0
	return func(_ context.Context, delta int) int {
		count += delta
		log.Infof("%d connections", count)
		return count
	}
}
