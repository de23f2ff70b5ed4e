package repository

import (
	"sort"

	"github.com/dawsync/dawsync/internal/dawsync"
	"github.com/dawsync/dawsync/internal/debug"
	"github.com/dawsync/dawsync/internal/meta"
)

// Projects stores project records.
type Projects struct {
	db    *meta.DB
	clock dawsync.Clock
}

// NewProjects returns a project store on db.
func NewProjects(db *meta.DB, clock dawsync.Clock) *Projects {
	if clock == nil {
		clock = dawsync.SystemClock()
	}
	return &Projects{db: db, clock: clock}
}

// Create registers a new project and returns it.
func (p *Projects) Create(owner, name, description string, requireApproval bool, ignorePatterns []string) (*dawsync.Project, error) {
	now := p.clock.Now()
	proj := &dawsync.Project{
		UID:                 dawsync.NewID(),
		Owner:               owner,
		Name:                dawsync.SanitizeText(name),
		Description:         dawsync.SanitizeText(description),
		RequirePushApproval: requireApproval,
		IgnorePatterns:      ignorePatterns,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	if err := p.db.Set(projectKey(proj.UID), proj); err != nil {
		return nil, err
	}
	debug.Log("created project %v (%v)", proj.UID.Str(), proj.Name)
	return proj, nil
}

// Get loads a project.
func (p *Projects) Get(uid dawsync.ID) (*dawsync.Project, error) {
	var proj dawsync.Project
	if err := p.db.Get(projectKey(uid), &proj); err != nil {
		return nil, notFound(err, "project", uid)
	}
	return &proj, nil
}

// Save writes back a modified project and bumps UpdatedAt.
func (p *Projects) Save(proj *dawsync.Project) error {
	proj.UpdatedAt = p.clock.Now()
	return p.db.Set(projectKey(proj.UID), proj)
}

// List returns all projects ordered by name.
func (p *Projects) List() ([]*dawsync.Project, error) {
	var projects []*dawsync.Project
	err := p.db.Scan("project/", func(_ string, value []byte) error {
		var proj dawsync.Project
		if err := decode(value, &proj); err != nil {
			return err
		}
		projects = append(projects, &proj)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(projects, func(i, j int) bool {
		return projects[i].Name < projects[j].Name
	})
	return projects, nil
}
