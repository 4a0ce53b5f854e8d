// apocalypse project doc.go

/*
The apocalypse package provides a simple typed actor runtime for go.
Its naming is infernal: the broker is a Hell, workers are Demons, and
shutting one down is a vanquish. It is an in-process runtime - demons on
different machines need a transport of their own on top.

Demons deal with one message at a time, so developers do not need to handle
locking and synchronization. Parallelism is achieved by spawning several
demons, or by spawning replicas of one demon behind a shared address with
SpawnMultiple.

A demon encapsulates functionality and state behind a Handle method typed by
its input and output. Callers reach it through a Location, a typed address,
so sending the wrong payload is a compile error rather than a runtime
surprise. Send waits for the answer; SendAndIgnore does not.

All bookkeeping lives in one loop. Gates turn every operation into an
instruction on hell's unbounded queue, the loop applies them in arrival
order, and nothing else ever touches the registry or the counters. Stats
travels the same queue, which is what makes its snapshot consistent.

Removal is polite first and brutal second. A vanquish lets the demon finish
its current call and run its hook; with a timeout attached, hell fires the
killswitch on expiry and aborts whatever the demon was doing. Extinguish
drains every demon the same way and shuts the loop down.

Demons can also be tied to a connection: a WireDemon receives the frames of
a FrameSource alongside its regular messages and vanquishes itself when the
wire goes quiet.

An optional event bus broadcasts lifecycle events - spawns, vanquishes,
killswitch firings, dead letters - to regexp-subscribed channels.
*/
package apocalypse
