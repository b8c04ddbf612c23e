package health

import (
	"context"

	"github.com/mcphub/hub/pkg/errs"
	"github.com/mcphub/hub/pkg/supervisor"
)

// RegisterUpstreamProbes registers one critical probe per currently mounted
// upstream, each passing iff the supervisor is in StateRunning. Mirrors
// pkg/generation's defaultHealthProbe, generalized from "every mounted
// upstream of one generation's hub" to "every mounted upstream of the
// process", for the top-level /health surface.
func RegisterUpstreamProbes(r *Registry, dir *supervisor.Directory) {
	for _, id := range dir.ServerIDs() {
		serverID := id
		r.Register(Probe{
			Component: "upstream",
			Name:      serverID,
			Critical:  true,
			Check: func(ctx context.Context) error {
				sup, ok := dir.Get(serverID)
				if !ok {
					return errs.New(errs.KindServerNotConnected, "upstream "+serverID+" is no longer mounted")
				}
				if sup.State() != supervisor.StateRunning {
					return errs.New(errs.KindServerNotConnected, "upstream "+serverID+" is "+string(sup.State()))
				}
				return nil
			},
		})
	}
}
