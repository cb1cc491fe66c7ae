package review

import (
	"context"
	"strings"
)

// Criteria narrows a repository listing. Zero-valued fields do not filter.
type Criteria struct {
	Author      string
	Participant string
	Change      int
	States      []State
	Project     string
	Group       string
	Keywords    string
}

// Matches reports whether a review satisfies the criteria. Repository
// implementations that filter in the database use it as the reference
// semantics.
func (c Criteria) Matches(r *Review) bool {
	if c.Author != "" && r.Author != c.Author {
		return false
	}
	if c.Participant != "" {
		if _, ok := r.Participants[c.Participant]; !ok {
			return false
		}
	}
	if c.Change != 0 && !r.HasChange(c.Change) {
		return false
	}
	if len(c.States) > 0 {
		found := false
		for _, s := range c.States {
			if r.State == s {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if c.Project != "" && !containsString(r.Projects, c.Project) {
		return false
	}
	if c.Group != "" && !containsString(r.Groups, c.Group) {
		return false
	}
	if c.Keywords != "" {
		haystack := strings.ToLower(r.Description)
		for _, word := range strings.Fields(strings.ToLower(c.Keywords)) {
			if !strings.Contains(haystack, word) {
				return false
			}
		}
	}
	return true
}

// Repository encapsulates storage and retrieval of review records. Loading
// applies schema upgrades; saving persists the canonical, current-level form.
type Repository interface {
	// Load returns the review with the given id.
	// Returns NotFoundError or InternalError.
	Load(ctx context.Context, id int) (*Review, error)
	// Save persists the review, creating it if needed, and returns the stored
	// form.
	Save(ctx context.Context, r *Review) (*Review, error)
	// Delete removes the review record.
	// Returns NotFoundError or InternalError.
	Delete(ctx context.Context, id int) error
	// List returns the reviews matching the criteria, newest first.
	List(ctx context.Context, criteria Criteria) ([]*Review, error)
}

func containsString(s []string, v string) bool {
	for _, entry := range s {
		if entry == v {
			return true
		}
	}
	return false
}
