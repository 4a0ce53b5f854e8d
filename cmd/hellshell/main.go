package main

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/Malanche/apocalypse"
	"github.com/abiosoft/ishell/v2"
	log "github.com/sirupsen/logrus"
	"golang.org/x/exp/maps"
)

var (
	gate *apocalypse.Gate
	bus  *apocalypse.EventBus

	// every shell demon speaks string to string, so one registry can hold
	// any location the user spawns
	demons = make(map[string]apocalypse.Location[string, string])

	watchCh chan apocalypse.BusEvent
)

var errNoHell = errors.New("no hell is burning, ignite first")

func main() {
	log.SetLevel(log.InfoLevel)

	shell := ishell.New()

	shell.SetHomeHistoryPath(".hellshell_history")

	shell.Println("Apocalypse Interactive Shell")

	shell.AddCmd(&ishell.Cmd{
		Name: "debug",
		Help: "set log level to debug",
		Func: func(c *ishell.Context) {
			log.SetLevel(log.DebugLevel)
		},
	})

	shell.AddCmd(&ishell.Cmd{
		Name: "info",
		Help: "set log level to info",
		Func: func(c *ishell.Context) {
			log.SetLevel(log.InfoLevel)
		},
	})

	shell.AddCmd(&ishell.Cmd{
		Name: "quiet",
		Help: "set log level to warning",
		Func: func(c *ishell.Context) {
			log.SetLevel(log.WarnLevel)
		},
	})

	shell.AddCmd(igniteCmd())
	shell.AddCmd(spawnCmd())
	shell.AddCmd(sendCmd())
	shell.AddCmd(castCmd())
	shell.AddCmd(vanquishCmd())
	shell.AddCmd(statsCmd())
	shell.AddCmd(demonsCmd())
	shell.AddCmd(watchCmd())
	shell.AddCmd(extinguishCmd())

	shell.Run()
}

// Hell lifecycle commands
func igniteCmd() *ishell.Cmd {
	return &ishell.Cmd{
		Name: "ignite",
		Help: "ignite a hell: ignite [name] [vanquish-timeout]",
		Func: func(c *ishell.Context) {
			if gate != nil {
				c.Err(errors.New("hell is already burning, extinguish it first"))
				return
			}

			bus = apocalypse.NewEventBus()
			builder := apocalypse.BuildHell().WithBus(bus)

			if len(c.Args) > 0 {
				builder = builder.WithName(c.Args[0])
			}
			if len(c.Args) > 1 {
				timeout, err := time.ParseDuration(c.Args[1])
				if err != nil {
					c.Err(err)
					return
				}
				builder = builder.WithVanquishTimeout(timeout)
			}

			gate = builder.Ignite()
			c.Println("hell is burning")
		},
	}
}

func extinguishCmd() *ishell.Cmd {
	return &ishell.Cmd{
		Name: "extinguish",
		Help: "shut the whole hell down, waiting for every vanquish hook",
		Func: func(c *ishell.Context) {
			if gate == nil {
				c.Err(errNoHell)
				return
			}

			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			if err := gate.Extinguish(ctx, true); err != nil {
				c.Err(err)
				return
			}

			if watchCh != nil {
				bus.Unsubscribe(watchCh)
				close(watchCh)
				watchCh = nil
			}
			bus.Close()

			gate, bus = nil, nil
			demons = make(map[string]apocalypse.Location[string, string])
			c.Println("hell is cold")
		},
	}
}

// Spawn commands
func spawnCmd() *ishell.Cmd {
	c := &ishell.Cmd{
		Name: "spawn",
		Help: "spawn a demon, see sub commands",
		Func: func(c *ishell.Context) {
			c.Println("spawn echo|shout|slow|pool <name> [...]")
		},
	}

	c.AddCmd(&ishell.Cmd{
		Name: "echo",
		Help: "spawn a demon that answers with its input: spawn echo <name>",
		Func: func(c *ishell.Context) {
			if gate == nil {
				c.Err(errNoHell)
				return
			}
			name, ok := demonName(c)
			if !ok {
				return
			}

			loc, err := apocalypse.SpawnFunc(context.Background(), gate, echoHandler)
			if err != nil {
				c.Err(err)
				return
			}

			demons[name] = loc
			c.Println("spawned", name, "at", loc)
		},
	})

	c.AddCmd(&ishell.Cmd{
		Name: "shout",
		Help: "spawn a demon that answers in uppercase: spawn shout <name>",
		Func: func(c *ishell.Context) {
			if gate == nil {
				c.Err(errNoHell)
				return
			}
			name, ok := demonName(c)
			if !ok {
				return
			}

			loc, err := apocalypse.SpawnFunc(context.Background(), gate, shoutHandler)
			if err != nil {
				c.Err(err)
				return
			}

			demons[name] = loc
			c.Println("spawned", name, "at", loc)
		},
	})

	c.AddCmd(&ishell.Cmd{
		Name: "slow",
		Help: "spawn a demon that answers after a delay: spawn slow <name> <delay>",
		Func: func(c *ishell.Context) {
			if gate == nil {
				c.Err(errNoHell)
				return
			}
			name, ok := demonName(c)
			if !ok {
				return
			}

			delay := time.Second
			if len(c.Args) > 1 {
				d, err := time.ParseDuration(c.Args[1])
				if err != nil {
					c.Err(err)
					return
				}
				delay = d
			}

			loc, err := apocalypse.Spawn[string, string](context.Background(), gate, &slowDemon{delay: delay})
			if err != nil {
				c.Err(err)
				return
			}

			demons[name] = loc
			c.Println("spawned", name, "at", loc, "with delay", delay)
		},
	})

	c.AddCmd(&ishell.Cmd{
		Name: "pool",
		Help: "spawn a pool of shouting replicas: spawn pool <name> <replicas>",
		Func: func(c *ishell.Context) {
			if gate == nil {
				c.Err(errNoHell)
				return
			}
			name, ok := demonName(c)
			if !ok {
				return
			}

			replicas := 2
			if len(c.Args) > 1 {
				n, err := strconv.Atoi(c.Args[1])
				if err != nil {
					c.Err(err)
					return
				}
				replicas = n
			}

			loc, err := apocalypse.SpawnMultiple(context.Background(), gate, func() apocalypse.Demon[string, string] {
				return apocalypse.DemonFunc[string, string](shoutHandler)
			}, replicas)
			if err != nil {
				c.Err(err)
				return
			}

			demons[name] = loc
			c.Println("spawned", name, "at", loc, "with", replicas, "replicas")
		},
	})

	return c
}

// Messaging commands
func sendCmd() *ishell.Cmd {
	return &ishell.Cmd{
		Name: "send",
		Help: "send a message and wait for the answer: send <name> <text...>",
		Func: func(c *ishell.Context) {
			if gate == nil {
				c.Err(errNoHell)
				return
			}
			name, loc, ok := lookupDemon(c)
			if !ok {
				return
			}
			input := messageText(c)

			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()

			reply, err := apocalypse.Send(ctx, gate, loc, input)
			if err != nil {
				c.Err(err)
				return
			}
			c.Println(name, "answered:", reply)
		},
	}
}

func castCmd() *ishell.Cmd {
	return &ishell.Cmd{
		Name: "cast",
		Help: "send a message without waiting: cast <name> <text...>",
		Func: func(c *ishell.Context) {
			if gate == nil {
				c.Err(errNoHell)
				return
			}
			_, loc, ok := lookupDemon(c)
			if !ok {
				return
			}
			input := messageText(c)

			if err := apocalypse.SendAndIgnore(gate, loc, input); err != nil {
				c.Err(err)
				return
			}
			c.Println("cast away")
		},
	}
}

// Vanquish commands
func vanquishCmd() *ishell.Cmd {
	c := &ishell.Cmd{
		Name: "vanquish",
		Help: "remove a demon gracefully: vanquish <name> [timeout]",
		Func: func(c *ishell.Context) {
			if gate == nil {
				c.Err(errNoHell)
				return
			}
			name, loc, ok := lookupDemon(c)
			if !ok {
				return
			}

			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			var err error
			if len(c.Args) > 1 {
				var timeout time.Duration
				if timeout, err = time.ParseDuration(c.Args[1]); err != nil {
					c.Err(err)
					return
				}
				err = apocalypse.VanquishWithTimeout(ctx, gate, loc, timeout)
			} else {
				err = apocalypse.Vanquish(ctx, gate, loc)
			}
			if err != nil {
				c.Err(err)
				return
			}

			delete(demons, name)
			c.Println(name, "is gone")
		},
	}

	c.AddCmd(&ishell.Cmd{
		Name: "ignore",
		Help: "remove a demon without waiting: vanquish ignore <name>",
		Func: func(c *ishell.Context) {
			if gate == nil {
				c.Err(errNoHell)
				return
			}
			name, loc, ok := lookupDemon(c)
			if !ok {
				return
			}

			if err := apocalypse.VanquishAndIgnore(gate, loc); err != nil {
				c.Err(err)
				return
			}

			delete(demons, name)
			c.Println(name, "is going, check stats for zombies")
		},
	})

	return c
}

// Inspection commands
func statsCmd() *ishell.Cmd {
	return &ishell.Cmd{
		Name: "stats",
		Help: "print hell's counters",
		Func: func(c *ishell.Context) {
			if gate == nil {
				c.Err(errNoHell)
				return
			}

			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			stats, err := gate.Stats(ctx)
			if err != nil {
				c.Err(err)
				return
			}
			c.Println(stats)
		},
	}
}

func demonsCmd() *ishell.Cmd {
	return &ishell.Cmd{
		Name: "demons",
		Help: "list the demons spawned from this shell",
		Func: func(c *ishell.Context) {
			names := maps.Keys(demons)
			sort.Strings(names)
			for _, name := range names {
				c.Println(name, "->", demons[name])
			}
			c.Println(len(names), "demons")
		},
	}
}

func watchCmd() *ishell.Cmd {
	c := &ishell.Cmd{
		Name: "watch",
		Help: "print bus events as they happen: watch [topic-regexp]",
		Func: func(c *ishell.Context) {
			if bus == nil {
				c.Err(errNoHell)
				return
			}
			if watchCh != nil {
				c.Err(errors.New("already watching, watch off first"))
				return
			}

			pattern := ""
			if len(c.Args) > 0 {
				pattern = c.Args[0]
			}

			ch := make(chan apocalypse.BusEvent, 64)
			if err := bus.Subscribe(pattern, ch); err != nil {
				c.Err(err)
				return
			}
			watchCh = ch

			go func() {
				for ev := range ch {
					fmt.Printf("[bus] %s address=%d %s\n", ev.Topic, ev.Address, ev.Detail)
				}
			}()

			if pattern == "" {
				c.Println("watching every topic")
			} else {
				c.Println("watching", pattern)
			}
		},
	}

	c.AddCmd(&ishell.Cmd{
		Name: "off",
		Help: "stop watching bus events",
		Func: func(c *ishell.Context) {
			if watchCh == nil {
				return
			}
			bus.Unsubscribe(watchCh)
			close(watchCh)
			watchCh = nil
			c.Println("watch is off")
		},
	})

	return c
}

// demonName takes the name from the args, or prompts for one.
func demonName(c *ishell.Context) (string, bool) {
	var name string
	if len(c.Args) == 0 {
		c.Println("enter the demon name")
		name = strings.TrimSpace(c.ReadLine())
	} else {
		name = c.Args[0]
	}
	if name == "" {
		c.Err(errors.New("a demon needs a name"))
		return "", false
	}
	if _, taken := demons[name]; taken {
		c.Err(fmt.Errorf("%v already names a demon", name))
		return "", false
	}
	return name, true
}

// lookupDemon resolves the first arg against the registry.
func lookupDemon(c *ishell.Context) (string, apocalypse.Location[string, string], bool) {
	var none apocalypse.Location[string, string]
	var name string
	if len(c.Args) == 0 {
		c.Println("enter the demon name")
		name = strings.TrimSpace(c.ReadLine())
	} else {
		name = c.Args[0]
	}
	loc, known := demons[name]
	if !known {
		c.Err(fmt.Errorf("no demon named %v", name))
		return "", none, false
	}
	return name, loc, true
}

// messageText joins the remaining args, or prompts for a line.
func messageText(c *ishell.Context) string {
	if len(c.Args) > 1 {
		return strings.Join(c.Args[1:], " ")
	}
	c.Println("enter the message")
	return c.ReadLine()
}
