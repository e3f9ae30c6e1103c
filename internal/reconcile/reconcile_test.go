package reconcile

import (
	"testing"
	"time"

	"github.com/hyperengineering/peersync/internal/domain"
	"github.com/hyperengineering/peersync/internal/types"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func theme(t *testing.T, id string, version int64, at time.Time, src string, isDefault bool) types.Entity {
	t.Helper()
	th := domain.BuiltinThemes()[domain.BuiltinLightThemeID]
	th.Name = id
	th.IsDefault = isDefault
	payload, err := domain.Encode(th)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	return types.Entity{
		ID:           id,
		Domain:       types.DomainTheme,
		Version:      version,
		LastModified: at,
		SourceApp:    src,
		Payload:      payload,
	}
}

func TestMerge_Rules(t *testing.T) {
	local := types.Entity{ID: "x", Version: 2, LastModified: t0, SourceApp: "a"}

	tests := []struct {
		name   string
		local  *types.Entity
		remote types.Entity
		want   Decision
	}{
		{"absent local accepts", nil, types.Entity{ID: "x", Version: 1}, Accept},
		{"higher version accepts", &local, types.Entity{ID: "x", Version: 3, LastModified: t0.Add(-time.Hour)}, Accept},
		{"equal version later time accepts", &local, types.Entity{ID: "x", Version: 2, LastModified: t0.Add(time.Millisecond)}, Accept},
		{"equal version earlier time rejects", &local, types.Entity{ID: "x", Version: 2, LastModified: t0.Add(-time.Millisecond)}, Reject},
		{"lower version rejects", &local, types.Entity{ID: "x", Version: 1, LastModified: t0.Add(time.Hour)}, Reject},
		{"replay rejects", &local, local, Reject},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Merge(tt.local, tt.remote); got != tt.want {
				t.Errorf("Merge() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestReconcile_RejectReasons(t *testing.T) {
	r := New(domain.ThemePolicy())
	local := theme(t, "t1", 3, t0, "a", false)

	// Replay of the identical revision
	res, err := r.Reconcile(&local, local, nil)
	if err != nil {
		t.Fatal(err)
	}
	if res.Decision != Reject || res.Reason != ReasonDuplicate {
		t.Errorf("replay: got %v/%q, want reject/duplicate", res.Decision, res.Reason)
	}
	if len(res.Writes) != 0 {
		t.Errorf("reject must not write, got %d writes", len(res.Writes))
	}

	// Older revision
	old := theme(t, "t1", 2, t0, "b", false)
	res, _ = r.Reconcile(&local, old, nil)
	if res.Decision != Reject || res.Reason != ReasonStale {
		t.Errorf("stale: got %v/%q, want reject/stale", res.Decision, res.Reason)
	}
}

func TestReconcile_NonDefaultAccept(t *testing.T) {
	r := New(domain.ThemePolicy())
	remote := theme(t, "t1", 1, t0, "a", false)
	res, err := r.Reconcile(nil, remote, nil)
	if err != nil {
		t.Fatal(err)
	}
	if res.Decision != Accept || len(res.Writes) != 1 || res.Writes[0].ID != "t1" {
		t.Errorf("got %+v, want single accept write", res)
	}
}

func TestReconcile_NewerDefaultDemotesLocal(t *testing.T) {
	r := New(domain.ThemePolicy())
	p := domain.ThemePolicy()

	// Given: Local default t1 and a newer remote default t2
	localDefault := theme(t, "t1", 1, t0, "a", true)
	remote := theme(t, "t2", 2, t0.Add(time.Minute), "b", true)

	// When: Reconciling
	res, err := r.Reconcile(nil, remote, []types.Entity{localDefault})
	if err != nil {
		t.Fatal(err)
	}

	// Then: The remote is stored as default and t1 is demoted with version+1
	if res.Decision != AcceptAndCascade {
		t.Fatalf("decision = %v, want cascade", res.Decision)
	}
	if len(res.Writes) != 2 {
		t.Fatalf("writes = %d, want 2", len(res.Writes))
	}
	if res.Writes[0].ID != "t2" || !p.IsDefault(res.Writes[0]) {
		t.Errorf("first write should be the remote default, got %+v", res.Writes[0])
	}
	demoted := res.Writes[1]
	if demoted.ID != "t1" || p.IsDefault(demoted) {
		t.Errorf("second write should be demoted t1, got %+v", demoted)
	}
	if demoted.Version != 2 {
		t.Errorf("demoted version = %d, want 2", demoted.Version)
	}
	if !demoted.LastModified.Equal(remote.LastModified) || demoted.SourceApp != "b" {
		t.Errorf("demotion must inherit the winner's stamp, got %v/%s", demoted.LastModified, demoted.SourceApp)
	}
}

func TestReconcile_OlderDefaultIsStoredDemoted(t *testing.T) {
	r := New(domain.ThemePolicy())
	p := domain.ThemePolicy()

	// Given: A newer local default and an older incoming default
	localDefault := theme(t, "t3", 2, t0.Add(time.Hour), "b", true)
	remote := theme(t, "t2", 2, t0, "a", true)

	res, err := r.Reconcile(nil, remote, []types.Entity{localDefault})
	if err != nil {
		t.Fatal(err)
	}

	// Then: Only the incoming record is written, already demoted
	if res.Decision != AcceptAndCascade || len(res.Writes) != 1 {
		t.Fatalf("got %+v, want one cascade write", res)
	}
	w := res.Writes[0]
	if w.ID != "t2" || p.IsDefault(w) || w.Version != 3 {
		t.Errorf("incoming should be stored demoted at v3, got id=%s default=%v v=%d", w.ID, p.IsDefault(w), w.Version)
	}
	if !w.LastModified.Equal(localDefault.LastModified) || w.SourceApp != "b" {
		t.Errorf("demotion must inherit the local winner's stamp")
	}
}

func TestReconcile_GroupsAreIndependent(t *testing.T) {
	r := New(domain.ProfilePolicy())
	mk := func(id, service string) types.Entity {
		payload, _ := domain.Encode(domain.Profile{Name: id, Host: "h", Port: 1, ServiceType: service, IsDefault: true})
		return types.Entity{ID: id, Version: 1, LastModified: t0, SourceApp: "a", Payload: payload}
	}
	localTorrent := mk("p1", domain.ServiceTorrent)
	remoteUsenet := mk("p2", domain.ServiceUsenet)

	res, err := r.Reconcile(nil, remoteUsenet, []types.Entity{localTorrent})
	if err != nil {
		t.Fatal(err)
	}
	if res.Decision != Accept || len(res.Writes) != 1 {
		t.Errorf("different groups must not cascade, got %+v", res)
	}
}

// apply simulates a peer's table: reconcile remote and persist writes.
func apply(t *testing.T, r *Reconciler, p domain.Policy, table map[string]types.Entity, remote types.Entity) {
	t.Helper()
	var local *types.Entity
	if cur, ok := table[remote.ID]; ok {
		local = &cur
	}
	var defaults []types.Entity
	for _, e := range table {
		if p.IsDefault(e) {
			defaults = append(defaults, e)
		}
	}
	res, err := r.Reconcile(local, remote, defaults)
	if err != nil {
		t.Fatal(err)
	}
	for _, w := range res.Writes {
		if cur, ok := table[w.ID]; ok && !w.Supersedes(cur) {
			t.Fatalf("write for %s does not supersede current row", w.ID)
		}
		table[w.ID] = w
	}
}

func TestReconcile_PartitionedDefaultsConverge(t *testing.T) {
	p := domain.ThemePolicy()
	r := New(p)
	tA := t0.Add(time.Minute)
	tB := t0.Add(2 * time.Minute)

	// Given: Both peers started from T1 default, then diverged while partitioned
	peerA := map[string]types.Entity{
		"T1": theme(t, "T1", 2, tA, "a", false),
		"T2": theme(t, "T2", 2, tA, "a", true),
		"T3": theme(t, "T3", 1, t0, "seed", false),
	}
	peerB := map[string]types.Entity{
		"T1": theme(t, "T1", 2, tB, "b", false),
		"T2": theme(t, "T2", 1, t0, "seed", false),
		"T3": theme(t, "T3", 2, tB, "b", true),
	}

	snapshotA := []types.Entity{peerA["T1"], peerA["T2"], peerA["T3"]}
	snapshotB := []types.Entity{peerB["T3"], peerB["T2"], peerB["T1"]}

	// When: Each applies the other's snapshot
	for _, e := range snapshotB {
		apply(t, r, p, peerA, e)
	}
	for _, e := range snapshotA {
		apply(t, r, p, peerB, e)
	}

	// Then: Both tables are identical with exactly one default (T3, the newer claim)
	for id := range peerA {
		a, b := peerA[id], peerB[id]
		if !a.SameRevision(b) || string(a.Payload) != string(b.Payload) {
			t.Errorf("%s diverged: A=%d/%v/%s B=%d/%v/%s", id, a.Version, a.LastModified, a.SourceApp, b.Version, b.LastModified, b.SourceApp)
		}
	}
	for name, table := range map[string]map[string]types.Entity{"A": peerA, "B": peerB} {
		var defaults []string
		for id, e := range table {
			if p.IsDefault(e) {
				defaults = append(defaults, id)
			}
		}
		if len(defaults) != 1 || defaults[0] != "T3" {
			t.Errorf("peer %s defaults = %v, want [T3]", name, defaults)
		}
	}
}

func TestDecision_String(t *testing.T) {
	if Accept.String() != "accept" || Reject.String() != "reject" || AcceptAndCascade.String() != "accept_and_cascade" {
		t.Error("unexpected decision names")
	}
}
