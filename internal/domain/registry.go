// Package domain provides core domain implementations.
package domain

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// Validate checks the profile invariants the engine relies on.
func (p SiteProfile) Validate() error {
	if p.ID == "" {
		return errors.New("site profile: empty id")
	}
	if p.CapacityKWp <= 0 {
		return fmt.Errorf("site profile %s: capacity must be positive", p.ID)
	}
	if p.Latitude < -90 || p.Latitude > 90 {
		return fmt.Errorf("site profile %s: latitude out of range", p.ID)
	}
	if p.Longitude < -180 || p.Longitude > 180 {
		return fmt.Errorf("site profile %s: longitude out of range", p.ID)
	}
	return nil
}

// SiteRegistry implements the Registry interface.
type SiteRegistry struct {
	sites map[string]*SiteInfo
	mutex sync.RWMutex
}

// NewSiteRegistry creates a new site registry.
func NewSiteRegistry() *SiteRegistry {
	return &SiteRegistry{
		sites: make(map[string]*SiteInfo),
	}
}

// RegisterSite adds or updates a site in the registry.
func (r *SiteRegistry) RegisterSite(profile SiteProfile) error {
	if err := profile.Validate(); err != nil {
		return err
	}

	r.mutex.Lock()
	defer r.mutex.Unlock()

	site, exists := r.sites[profile.ID]
	if !exists {
		r.sites[profile.ID] = &SiteInfo{
			Profile:      profile,
			RegisteredAt: time.Now(),
		}
		return nil
	}

	site.Profile = profile
	return nil
}

// GetSite retrieves a copy of the site information.
func (r *SiteRegistry) GetSite(id string) (*SiteInfo, bool) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	site, exists := r.sites[id]
	if !exists {
		return nil, false
	}

	info := *site
	return &info, true
}

// GetAllSites returns copies of all sites ordered by id.
func (r *SiteRegistry) GetAllSites() []*SiteInfo {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	sites := make([]*SiteInfo, 0, len(r.sites))
	for _, site := range r.sites {
		info := *site
		sites = append(sites, &info)
	}

	sort.Slice(sites, func(i, j int) bool { return sites[i].Profile.ID < sites[j].Profile.ID })
	return sites
}

// RemoveSite deletes a site. It reports whether the site existed.
func (r *SiteRegistry) RemoveSite(id string) bool {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if _, exists := r.sites[id]; !exists {
		return false
	}
	delete(r.sites, id)
	return true
}

// MarkRefreshed records the time of the latest committed refresh for a site.
func (r *SiteRegistry) MarkRefreshed(id string, at time.Time) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if site, exists := r.sites[id]; exists {
		site.LastRefresh = at
	}
}

type sitesFile struct {
	Sites []SiteProfile `yaml:"sites"`
}

// LoadProfiles reads site profiles from a YAML file of the form `sites: [...]`.
func LoadProfiles(path string) ([]SiteProfile, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading sites file: %w", err)
	}

	var file sitesFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("unable to decode sites file: %w", err)
	}

	for _, profile := range file.Sites {
		if err := profile.Validate(); err != nil {
			return nil, err
		}
	}

	return file.Sites, nil
}
