package hub

import "github.com/mcphub/hub/pkg/supervisor"

// Mount/unmount lifecycle events are a hub-level extension of the
// supervisor's typed event families (spec §4.7: "emit server:mounted" /
// "emit server:unmounted"). They reuse supervisor.Bus/EventKind rather than
// standing up a second bus, so one subscriber sees a server's whole life
// (mounted, started, crashed, unmounted) in a single ordered stream.
const (
	EventServerMounted   supervisor.EventKind = "server:mounted"
	EventServerUnmounted supervisor.EventKind = "server:unmounted"
)
