// Package reconcile decides whether an incoming remote entity replaces the
// local copy and which cascaded writes keep the single-default invariant.
package reconcile

import (
	"fmt"

	"github.com/hyperengineering/peersync/internal/domain"
	"github.com/hyperengineering/peersync/internal/types"
)

// Decision is the outcome of merging one remote entity.
type Decision int

const (
	Reject Decision = iota
	Accept
	AcceptAndCascade
)

// String returns the decision name.
func (d Decision) String() string {
	switch d {
	case Accept:
		return "accept"
	case AcceptAndCascade:
		return "accept_and_cascade"
	default:
		return "reject"
	}
}

// Rejection reasons reported back to the pushing peer.
const (
	ReasonStale     = "stale"
	ReasonDuplicate = "duplicate"
)

// Merge compares a remote entity against the local copy. local is nil when
// the id has never been seen.
func Merge(local *types.Entity, remote types.Entity) Decision {
	if local == nil {
		return Accept
	}
	if remote.Supersedes(*local) {
		return Accept
	}
	return Reject
}

// Result is what the caller must persist for one remote entity. Writes is
// empty on Reject.
type Result struct {
	Decision Decision
	Reason   string
	Writes   []types.Entity
}

// Reconciler applies Merge plus the domain's single-default cascade.
type Reconciler struct {
	policy domain.Policy
}

// New creates a reconciler for one domain.
func New(policy domain.Policy) *Reconciler {
	return &Reconciler{policy: policy}
}

// Reconcile merges remote into the local state. defaults holds every live
// local record currently flagged default in the domain; it is only consulted
// for single-default domains.
//
// When an accepted remote default meets a different local default, the
// record with the newer claim stays default and the loser is demoted with
// version+1. The demoted row inherits LastModified and SourceApp from the
// winner so every peer computes the identical row.
func (r *Reconciler) Reconcile(local *types.Entity, remote types.Entity, defaults []types.Entity) (Result, error) {
	if Merge(local, remote) == Reject {
		reason := ReasonStale
		if local != nil && local.SameRevision(remote) {
			reason = ReasonDuplicate
		}
		return Result{Decision: Reject, Reason: reason}, nil
	}

	if !r.policy.SingleDefault() || !r.policy.IsDefault(remote) {
		return Result{Decision: Accept, Writes: []types.Entity{remote}}, nil
	}

	group := r.policy.DefaultGroup(remote)
	var rivals []types.Entity
	for _, d := range defaults {
		if d.ID == remote.ID || d.Deleted || !r.policy.IsDefault(d) {
			continue
		}
		if r.policy.DefaultGroup(d) != group {
			continue
		}
		rivals = append(rivals, d)
	}
	if len(rivals) == 0 {
		return Result{Decision: Accept, Writes: []types.Entity{remote}}, nil
	}

	winner := remote
	for _, rival := range rivals {
		if claimNewer(rival, winner) {
			winner = rival
		}
	}

	writes := make([]types.Entity, 0, len(rivals)+1)
	if winner.ID == remote.ID {
		writes = append(writes, remote)
	} else {
		demoted, err := r.demote(remote, remote.Version, winner)
		if err != nil {
			return Result{}, err
		}
		writes = append(writes, demoted)
	}
	for _, rival := range rivals {
		if rival.ID == winner.ID {
			continue
		}
		demoted, err := r.demote(rival, rival.Version, winner)
		if err != nil {
			return Result{}, err
		}
		writes = append(writes, demoted)
	}

	return Result{Decision: AcceptAndCascade, Writes: writes}, nil
}

// demote clears the default flag of e and stamps it as version base+1
// authored by the winning default.
func (r *Reconciler) demote(e types.Entity, base int64, winner types.Entity) (types.Entity, error) {
	demoted, err := r.policy.Demote(e)
	if err != nil {
		return types.Entity{}, fmt.Errorf("demote %s: %w", e.ID, err)
	}
	demoted.Version = base + 1
	demoted.LastModified = winner.LastModified
	demoted.SourceApp = winner.SourceApp
	return demoted, nil
}

// claimNewer orders two default claims for different ids: later
// LastModified, then greater SourceApp, then greater ID.
func claimNewer(a, b types.Entity) bool {
	if !a.LastModified.Equal(b.LastModified) {
		return a.LastModified.After(b.LastModified)
	}
	if a.SourceApp != b.SourceApp {
		return a.SourceApp > b.SourceApp
	}
	return a.ID > b.ID
}
