package companion

import (
	"context"
	"sort"
	"strings"
)

// ProfileManager manages server connection profiles. Each service type
// has at most one default profile.
type ProfileManager struct {
	c collection[ProfileData]
}

// Profiles watches every profile, ordered by name.
func (m *ProfileManager) Profiles(ctx context.Context) (*Watch[[]Profile], error) {
	return watchState(ctx, m.c.eng, m.List)
}

// List returns every profile ordered by name.
func (m *ProfileManager) List(ctx context.Context) ([]Profile, error) {
	profiles, err := m.c.list(ctx)
	if err != nil {
		return nil, err
	}
	sortProfiles(profiles)
	return profiles, nil
}

func sortProfiles(profiles []Profile) {
	sort.SliceStable(profiles, func(i, j int) bool { return profiles[i].Data.Name < profiles[j].Data.Name })
}

// Get returns the profile with the given id.
func (m *ProfileManager) Get(ctx context.Context, id string) (Profile, error) {
	return m.c.get(ctx, id)
}

// ByServiceType returns the profiles of serviceType ordered by name.
func (m *ProfileManager) ByServiceType(ctx context.Context, serviceType string) ([]Profile, error) {
	profiles, err := m.c.filter(ctx, func(p Profile) bool {
		return strings.EqualFold(p.Data.ServiceType, serviceType)
	})
	if err != nil {
		return nil, err
	}
	sortProfiles(profiles)
	return profiles, nil
}

// DefaultProfile returns the default profile of serviceType.
func (m *ProfileManager) DefaultProfile(ctx context.Context, serviceType string) (Profile, error) {
	profiles, err := m.ByServiceType(ctx, serviceType)
	if err != nil {
		return Profile{}, err
	}
	for _, p := range profiles {
		if p.Data.IsDefault {
			return p, nil
		}
	}
	return Profile{}, ErrNotFound
}

// AddProfile stores a new profile. A default profile demotes the previous
// default of its service type.
func (m *ProfileManager) AddProfile(ctx context.Context, data ProfileData) (Profile, error) {
	return m.c.create(ctx, data)
}

// UpdateProfile replaces the profile with the given id.
func (m *ProfileManager) UpdateProfile(ctx context.Context, id string, data ProfileData) (Profile, error) {
	return m.c.modify(ctx, id, func(p *ProfileData) error {
		*p = data
		return nil
	})
}

// SetDefaultProfile makes id the default of its service type.
func (m *ProfileManager) SetDefaultProfile(ctx context.Context, id string) (Profile, error) {
	return m.c.modify(ctx, id, func(p *ProfileData) error {
		p.IsDefault = true
		return nil
	})
}

// DeleteProfile deletes the profile with the given id.
func (m *ProfileManager) DeleteProfile(ctx context.Context, id string) error {
	return m.c.remove(ctx, id)
}
