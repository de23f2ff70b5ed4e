package main

import (
	"encoding/json"
	"os"

	"github.com/dawsync/dawsync/internal/dawsync"
	"github.com/dawsync/dawsync/internal/errors"
)

// filePolicy is an OwnerPolicy persisted as JSON in the workspace, so that
// collaborator grants survive between invocations.
type filePolicy struct {
	dawsync.OwnerPolicy
}

func loadPolicy(path string) (*filePolicy, error) {
	p := &filePolicy{
		OwnerPolicy: dawsync.OwnerPolicy{
			Editors: make(map[dawsync.ID][]string),
			Viewers: make(map[dawsync.ID][]string),
		},
	}

	buf, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return p, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "ReadFile")
	}
	if err := json.Unmarshal(buf, &p.OwnerPolicy); err != nil {
		return nil, errors.Wrapf(err, "parse %v", path)
	}
	if p.Editors == nil {
		p.Editors = make(map[dawsync.ID][]string)
	}
	if p.Viewers == nil {
		p.Viewers = make(map[dawsync.ID][]string)
	}
	return p, nil
}

func (p *filePolicy) save(path string) error {
	buf, err := json.MarshalIndent(p.OwnerPolicy, "", "  ")
	if err != nil {
		return errors.Wrap(err, "Marshal")
	}
	return errors.Wrap(os.WriteFile(path, buf, 0600), "WriteFile")
}

func (p *filePolicy) grant(project dawsync.ID, user, role string) error {
	p.revoke(project, user)
	switch role {
	case "editor":
		p.Editors[project] = append(p.Editors[project], user)
	case "viewer":
		p.Viewers[project] = append(p.Viewers[project], user)
	default:
		return errors.Fatalf("unknown role %q, expected editor or viewer", role)
	}
	return nil
}

func (p *filePolicy) revoke(project dawsync.ID, user string) {
	p.Editors[project] = remove(p.Editors[project], user)
	p.Viewers[project] = remove(p.Viewers[project], user)
}

func remove(users []string, user string) []string {
	kept := users[:0]
	for _, u := range users {
		if u != user {
			kept = append(kept, u)
		}
	}
	return kept
}
