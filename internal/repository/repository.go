// Package repository persists the engine's entities on top of the metadata
// store and the FileStore. Indexes are ordered key prefixes:
//
//	project/<uid>                     project record
//	version/<uid>                     version record
//	vproj/<project>/<uid>             all versions of a project
//	vcomp/<project>/<uid>             completed versions of a project
//	vhash/<project>/<hash>            dedupe lookup, value is the version uid
//	push/<uid>                        push record
//	pushproj/<project>/<uid>          pushes of a project
//	download/<uid>                    download request record
//	dlver/<version>/<uid>             download requests per version
package repository

import (
	"encoding/json"

	"github.com/dawsync/dawsync/internal/dawsync"
	"github.com/dawsync/dawsync/internal/errors"
	"github.com/dawsync/dawsync/internal/meta"
)

func projectKey(uid dawsync.ID) string { return "project/" + string(uid) }
func versionKey(uid dawsync.ID) string { return "version/" + string(uid) }
func pushKey(uid dawsync.ID) string    { return "push/" + string(uid) }
func dlKey(uid dawsync.ID) string      { return "download/" + string(uid) }

func vprojKey(project, uid dawsync.ID) string {
	return "vproj/" + string(project) + "/" + string(uid)
}

func vcompKey(project, uid dawsync.ID) string {
	return "vcomp/" + string(project) + "/" + string(uid)
}

func vhashKey(project dawsync.ID, hash string) string {
	return "vhash/" + string(project) + "/" + hash
}

func pushprojKey(project, uid dawsync.ID) string {
	return "pushproj/" + string(project) + "/" + string(uid)
}

func dlverKey(version, uid dawsync.ID) string {
	return "dlver/" + string(version) + "/" + string(uid)
}

func decode(buf []byte, v interface{}) error {
	return errors.Wrap(json.Unmarshal(buf, v), "decode record")
}

// notFound maps a missing record onto a typed NotFound error.
func notFound(err error, what string, uid dawsync.ID) error {
	if meta.IsNotFound(err) {
		return errors.Kindf(errors.KindNotFound, "%s %v not found", what, uid.Str())
	}
	return err
}
