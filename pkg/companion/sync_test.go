package companion

import (
	"context"
	"sort"
	"testing"

	"github.com/hyperengineering/peersync/internal/domain"
	peersync "github.com/hyperengineering/peersync/internal/sync"
	"github.com/hyperengineering/peersync/internal/types"
	"github.com/oklog/ulid/v2"
)

// snapshot returns every stored entity of d on h, tombstones included.
func snapshot(t *testing.T, h *Host, d Domain) []types.Entity {
	t.Helper()
	snap, err := h.Engine(d).Snapshot(context.Background())
	if err != nil {
		t.Fatalf("Snapshot(%s): %v", d, err)
	}
	sort.Slice(snap.Entities, func(i, j int) bool { return snap.Entities[i].ID < snap.Entities[j].ID })
	return snap.Entities
}

// converged reports whether every host stores identical revisions of d.
func converged(t *testing.T, d Domain, hosts ...*Host) bool {
	t.Helper()
	first := snapshot(t, hosts[0], d)
	for _, h := range hosts[1:] {
		other := snapshot(t, h, d)
		if len(other) != len(first) {
			return false
		}
		for i := range first {
			if !first[i].SameRevision(other[i]) || first[i].Deleted != other[i].Deleted {
				return false
			}
		}
	}
	return true
}

// pushOf builds a push of one revision as if sent by from.
func pushOf[P any](t *testing.T, from *Host, d Domain, meta Meta, data P) *peersync.PushRequest {
	t.Helper()
	payload, err := domain.Encode(data)
	if err != nil {
		t.Fatal(err)
	}
	return &peersync.PushRequest{
		PushID: ulid.Make().String(),
		Source: types.Identity{AppID: from.AppID(), Domain: d},
		Entities: []types.Entity{{
			ID:           meta.ID,
			Domain:       d,
			Version:      meta.Version,
			LastModified: meta.LastModified,
			SourceApp:    meta.SourceApp,
			Payload:      payload,
		}},
	}
}

func defaultThemes(t *testing.T, h *Host) []string {
	t.Helper()
	themes, err := h.Themes().List(context.Background())
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	var ids []string
	for _, th := range themes {
		if th.Data.IsDefault {
			ids = append(ids, th.ID)
		}
	}
	return ids
}

func TestSync_Scenario1_JoinPullsSnapshot(t *testing.T) {
	ctx := context.Background()
	a := newHost(t, 0, "app-a", "")
	b := newHost(t, 0, "app-b", "")

	// Given: A theme that exists only on A
	dark, err := a.Themes().CreateTheme(ctx, customTheme("Dark"))
	if err != nil {
		t.Fatalf("CreateTheme: %v", err)
	}
	startHost(t, a)

	// When: B comes online
	startHost(t, b)

	// Then: B holds the same revision
	got, err := b.Themes().Get(ctx, dark.ID)
	if err != nil {
		t.Fatalf("B.Get: %v", err)
	}
	if got.Version != 1 || got.Data.Name != "Dark" || got.SourceApp != "app-a" {
		t.Errorf("B has v%d %q from %s", got.Version, got.Data.Name, got.SourceApp)
	}
}

func TestSync_Scenario2_RemoteDefaultCascades(t *testing.T) {
	ctx := context.Background()
	a := newHost(t, 0, "app-a", "")
	b := newHost(t, 0, "app-b", "")
	startHost(t, a)
	startHost(t, b)

	// Given: A custom theme both apps know
	custom, err := a.Themes().CreateTheme(ctx, customTheme("Ocean"))
	if err != nil {
		t.Fatal(err)
	}
	waitFor(t, "theme on B", func() bool {
		_, err := b.Themes().Get(ctx, custom.ID)
		return err == nil
	})

	// When: B makes it the default
	if _, err := b.Themes().SetDefaultTheme(ctx, custom.ID); err != nil {
		t.Fatalf("SetDefaultTheme: %v", err)
	}

	// Then: A shows it as default and the built-in light theme demoted
	waitFor(t, "default on A", func() bool {
		def, err := a.Themes().DefaultTheme(ctx)
		return err == nil && def.ID == custom.ID && def.Version == 2
	})
	light, _ := a.Themes().Get(ctx, BuiltinLightThemeID)
	if light.Data.IsDefault || light.Version != 2 {
		t.Errorf("light on A = v%d default=%v", light.Version, light.Data.IsDefault)
	}
	waitFor(t, "theme convergence", func() bool { return converged(t, types.DomainTheme, a, b) })
}

func TestSync_Scenario3_PartitionedDefaultsConverge(t *testing.T) {
	ctx := context.Background()
	a := newHost(t, 0, "app-a", "")
	b := newHost(t, 0, "app-b", "")

	// Given: A and B pick different defaults while apart
	startHost(t, a)
	if _, err := a.Themes().SetDefaultTheme(ctx, BuiltinDarkThemeID); err != nil {
		t.Fatal(err)
	}
	mine := customTheme("Forest")
	mine.IsDefault = true
	if _, err := b.Themes().CreateTheme(ctx, mine); err != nil {
		t.Fatal(err)
	}

	// When: B reconnects
	startHost(t, b)

	// Then: Both converge to one and the same default
	waitFor(t, "theme convergence", func() bool { return converged(t, types.DomainTheme, a, b) })
	da, db := defaultThemes(t, a), defaultThemes(t, b)
	if len(da) != 1 || len(db) != 1 || da[0] != db[0] {
		t.Errorf("defaults A=%v B=%v, want one shared default", da, db)
	}
}

func TestSync_Scenario4_LanguageChangeReachesPeer(t *testing.T) {
	ctx := context.Background()
	a := newHost(t, 0, "app-a", "")
	b := newHost(t, 0, "app-b", "")
	startHost(t, a)
	startHost(t, b)

	w, err := b.Language().LanguageChanges(ctx)
	if err != nil {
		t.Fatal(err)
	}
	defer w.Close()

	set, err := a.Language().SetLanguagePreference(ctx, "es", "Español")
	if err != nil {
		t.Fatal(err)
	}

	got := receive(t, w)
	if got.Data.LanguageCode != "es" || got.Version != set.Version || !got.LastModified.Equal(set.LastModified) {
		t.Errorf("B received %+v, want %+v", got, set)
	}
}

func TestSync_AllDomainsConverge(t *testing.T) {
	ctx := context.Background()
	a := newHost(t, 0, "app-a", "")
	b := newHost(t, 0, "app-b", "")
	startHost(t, a)
	startHost(t, b)

	if _, err := a.Profiles().AddProfile(ctx, torrentProfile("NAS", true)); err != nil {
		t.Fatal(err)
	}
	if _, err := b.Bookmarks().AddBookmark(ctx, BookmarkData{URL: "https://example.org", Title: "Example"}); err != nil {
		t.Fatal(err)
	}
	if _, err := a.History().AddHistoryItem(ctx, HistoryItemData{URL: "magnet:?xt=1", ServiceType: domain.ServiceTorrent}); err != nil {
		t.Fatal(err)
	}
	if _, err := b.RSS().AddFeed(ctx, RSSFeedData{URL: "https://example.org/rss", Name: "Feed"}); err != nil {
		t.Fatal(err)
	}
	if err := a.Preferences().Set(ctx, "wifi_only", true); err != nil {
		t.Fatal(err)
	}
	if _, err := b.TorrentSharing().GetOrCreateDefault(ctx); err != nil {
		t.Fatal(err)
	}
	if _, err := a.Language().SetLanguagePreference(ctx, "it", ""); err != nil {
		t.Fatal(err)
	}

	for _, d := range types.AllDomains() {
		waitFor(t, string(d)+" convergence", func() bool { return converged(t, d, a, b) })
	}
	if n := len(snapshot(t, b, types.DomainProfile)); n != 1 {
		t.Errorf("B profiles = %d", n)
	}
}

func TestSync_DeleteDoesNotResurrect(t *testing.T) {
	ctx := context.Background()
	a := newHost(t, 0, "app-a", "")
	b := newHost(t, 0, "app-b", "")
	startHost(t, a)
	startHost(t, b)

	bm, err := a.Bookmarks().AddBookmark(ctx, BookmarkData{URL: "https://example.org", Title: "Example"})
	if err != nil {
		t.Fatal(err)
	}
	waitFor(t, "bookmark on B", func() bool {
		_, err := b.Bookmarks().Get(ctx, bm.ID)
		return err == nil
	})

	if err := a.Bookmarks().DeleteBookmark(ctx, bm.ID); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "delete on B", func() bool {
		list, _ := b.Bookmarks().List(ctx)
		return len(list) == 0
	})

	// A stale replay of the original revision is rejected.
	resp, err := a.Engine(types.DomainBookmark).ApplyRemote(ctx, pushOf(t, b, types.DomainBookmark, bm.Meta, bm.Data))
	if err != nil {
		t.Fatalf("ApplyRemote: %v", err)
	}
	if resp.Accepted != 0 {
		t.Errorf("stale revision accepted: %+v", resp)
	}
	if _, err := a.Bookmarks().Get(ctx, bm.ID); err == nil {
		t.Error("deleted bookmark resurrected")
	}
}

func TestSync_ClientTypeFilterScreensRemote(t *testing.T) {
	ctx := context.Background()
	a := newHost(t, 0, "app-a", "")
	u := newHost(t, 0, "usenet-app", domain.ServiceUsenet)
	startHost(t, a)
	startHost(t, u)

	if _, err := a.Profiles().AddProfile(ctx, torrentProfile("NAS", false)); err != nil {
		t.Fatal(err)
	}
	sab, err := a.Profiles().AddProfile(ctx, ProfileData{Name: "SAB", Host: "nas", Port: 8085, ServiceType: domain.ServiceUsenet})
	if err != nil {
		t.Fatal(err)
	}

	waitFor(t, "usenet profile on filtered app", func() bool {
		_, err := u.Profiles().Get(ctx, sab.ID)
		return err == nil
	})
	list, _ := u.Profiles().List(ctx)
	if len(list) != 1 {
		t.Errorf("filtered app holds %d profiles, want 1", len(list))
	}
}

func TestSync_ThreePeerCascadeBackstop(t *testing.T) {
	ctx := context.Background()
	a := newHost(t, 0, "app-a", "")
	b := newHost(t, 0, "app-b", "")
	c := newHost(t, 0, "app-c", "")
	startHost(t, a)
	startHost(t, b)
	startHost(t, c)

	custom, err := a.Themes().CreateTheme(ctx, customTheme("Sunset"))
	if err != nil {
		t.Fatal(err)
	}
	waitFor(t, "theme on every peer", func() bool { return converged(t, types.DomainTheme, a, b, c) })

	// Two peers pick different defaults at the same time; the third only
	// learns the resulting cascades through reconciliation.
	errs := make(chan error, 2)
	go func() {
		_, err := b.Themes().SetDefaultTheme(ctx, custom.ID)
		errs <- err
	}()
	go func() {
		_, err := c.Themes().SetDefaultTheme(ctx, BuiltinDarkThemeID)
		errs <- err
	}()
	for range 2 {
		if err := <-errs; err != nil {
			t.Fatalf("SetDefaultTheme: %v", err)
		}
	}

	waitFor(t, "three-way convergence", func() bool { return converged(t, types.DomainTheme, a, b, c) })
	want := defaultThemes(t, a)
	if len(want) != 1 {
		t.Fatalf("A defaults = %v, want exactly one", want)
	}
	for _, h := range []*Host{b, c} {
		if got := defaultThemes(t, h); len(got) != 1 || got[0] != want[0] {
			t.Errorf("%s defaults = %v, want %v", h.AppID(), got, want)
		}
	}
}

func TestSync_OfflineFirst(t *testing.T) {
	ctx := context.Background()
	a := newHost(t, 0, "app-a", "")

	// Writes and watches work without ever starting the host.
	w, err := a.Bookmarks().Bookmarks(ctx)
	if err != nil {
		t.Fatal(err)
	}
	defer w.Close()
	receive(t, w)

	if _, err := a.Bookmarks().AddBookmark(ctx, BookmarkData{URL: "https://example.org", Title: "Offline"}); err != nil {
		t.Fatalf("AddBookmark: %v", err)
	}
	if got := receive(t, w); len(got) != 1 || got[0].Data.Title != "Offline" {
		t.Errorf("watch = %+v", got)
	}

	// A peer that starts later picks the write up.
	b := newHost(t, 0, "app-b", "")
	startHost(t, b)
	startHost(t, a)
	waitFor(t, "bookmark on B", func() bool {
		list, _ := b.Bookmarks().List(ctx)
		return len(list) == 1
	})
}
