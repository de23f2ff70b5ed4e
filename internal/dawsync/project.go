package dawsync

import "time"

// Project is the owning scope for versions and pushes. Project management
// itself lives outside the engine; the engine only reads these fields.
type Project struct {
	UID         ID        `json:"uid"`
	Owner       string    `json:"owner"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`

	// RequirePushApproval gates pushes from non-owners behind an explicit
	// approval by the owner.
	RequirePushApproval bool `json:"require_push_approval"`

	// IgnorePatterns are shell glob patterns pruned from every push.
	IgnorePatterns []string `json:"ignore_patterns,omitempty"`
}
