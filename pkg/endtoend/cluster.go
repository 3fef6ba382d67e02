// Package endtoend assembles three in-process helpers over the
// in-memory transport into the Cluster harness the end-to-end
// scenario tests drive queries against, the way an in-process test
// harness assembles a full multi-node cluster in-process for its own
// end-to-end suite — scaled down here to three query.Processors
// sharing one inmemory.Network instead of a multi-node container
// runtime.
package endtoend

import (
	"context"
	"time"

	"github.com/ipaproto/helper/pkg/field"
	"github.com/ipaproto/helper/pkg/gateway"
	"github.com/ipaproto/helper/pkg/query"
	"github.com/ipaproto/helper/pkg/share"
	"github.com/ipaproto/helper/pkg/transport/inmemory"
	"github.com/ipaproto/helper/pkg/types"
)

// Identities is the fixed three-helper roster every Cluster uses.
var Identities = [3]types.HelperIdentity{"H1", "H2", "H3"}

// Cluster boots three in-process helpers, wired with one shared
// inmemory.Network, and drives queries across all three the way a
// collector would drive them across three real HTTPS listeners.
type Cluster struct {
	Net   *inmemory.Network
	Procs map[types.HelperIdentity]*query.Processor

	sup map[types.HelperIdentity]*query.TimeoutSupervisor
}

// NewCluster starts a fresh three-helper cluster. queryTimeout is
// applied to every helper's processor; pass 0 for query.DefaultQueryTimeout.
func NewCluster(queryTimeout time.Duration) *Cluster {
	net := inmemory.NewNetwork()
	c := &Cluster{
		Net:   net,
		Procs: make(map[types.HelperIdentity]*query.Processor, 3),
		sup:   make(map[types.HelperIdentity]*query.TimeoutSupervisor, 3),
	}
	for _, id := range Identities {
		tr := net.NewTransport(id)
		proc := query.New(query.Config{
			Self:          id,
			Transport:     tr,
			GatewayConfig: gateway.DefaultConfig(),
			QueryTimeout:  queryTimeout,
		})
		c.Procs[id] = proc
	}
	return c
}

// StartTimeoutSupervisors arms a query.TimeoutSupervisor on every
// helper, swept at interval, for scenarios that exercise the
// wall-clock query deadline. Stop must be called to release the
// tickers.
func (c *Cluster) StartTimeoutSupervisors(interval time.Duration) {
	for id, proc := range c.Procs {
		sup := query.NewTimeoutSupervisor(proc).WithInterval(interval)
		sup.Start()
		c.sup[id] = sup
	}
}

// Stop releases any running timeout supervisors.
func (c *Cluster) Stop() {
	for _, sup := range c.sup {
		sup.Stop()
	}
}

// Kill severs id from the network, simulating a peer-unavailable fault.
func (c *Cluster) Kill(id types.HelperIdentity) {
	c.Net.Kill(id)
}

// CreateQuery fans prepare out from H1, the fixed leader of every
// Cluster query.
func (c *Cluster) CreateQuery(ctx context.Context, cfg types.QueryConfig) (types.QueryID, error) {
	return c.Procs["H1"].CreateQuery(ctx, cfg, []types.HelperIdentity{"H2", "H3"})
}

// SubmitSecret splits secret into a fresh replicated sharing and
// submits each helper's half as one input record, in role order, so
// tests can hand a Cluster a plaintext value rather than pre-split
// shares.
func (c *Cluster) SubmitSecret(ctx context.Context, qid types.QueryID, f field.Field, width int, secret []byte) error {
	shares, err := share.Split(f, width, secret, nil)
	if err != nil {
		return err
	}
	for i, role := range types.AllRoles() {
		id := Identities[i]
		s := shares[role]
		rec := append(append([]byte(nil), s.Left...), s.Right...)
		if err := c.Procs[id].SubmitInput(ctx, qid, rec); err != nil {
			return err
		}
	}
	return nil
}

// SubmitShares submits a pre-split [3]share.Share (role order H1, H2,
// H3) as one input record per helper, for scenarios (like IPA) that
// build shares directly rather than via SubmitSecret.
func (c *Cluster) SubmitShares(ctx context.Context, qid types.QueryID, shares [3]share.Share) error {
	for i := range Identities {
		s := shares[i]
		rec := append(append([]byte(nil), s.Left...), s.Right...)
		if err := c.Procs[Identities[i]].SubmitInput(ctx, qid, rec); err != nil {
			return err
		}
	}
	return nil
}

// AwaitTerminal polls every helper's status until each has reached a
// terminal state (Completed or Failed) or the timeout elapses. It
// returns the final per-helper states.
func AwaitTerminal(c *Cluster, qid types.QueryID, timeout time.Duration) map[types.HelperIdentity]types.QueryState {
	deadline := time.Now().Add(timeout)
	states := make(map[types.HelperIdentity]types.QueryState, 3)
	for {
		done := true
		for _, id := range Identities {
			st, err := c.Procs[id].Status(qid)
			if err != nil {
				done = false
				continue
			}
			states[id] = st
			if st.Tag != types.StateCompleted && st.Tag != types.StateFailed {
				done = false
			}
		}
		if done || time.Now().After(deadline) {
			return states
		}
		time.Sleep(5 * time.Millisecond)
	}
}
