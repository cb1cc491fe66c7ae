package review

import (
	"context"
	"sort"
	"sync"

	"github.com/stewartlord/swarm-sub002/errors"
)

// InMemoryRepository implements Repository with process-local storage. It
// serves tests and single-process embedding and sits next to the database
// implementation the same way in-memory storage does in comparable services.
type InMemoryRepository struct {
	mu      sync.RWMutex
	records map[int][]byte
}

// NewInMemoryRepository creates an empty in-memory review repository.
func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{records: map[int][]byte{}}
}

var _ Repository = (*InMemoryRepository)(nil)

// Load returns the review with the given id.
func (repo *InMemoryRepository) Load(ctx context.Context, id int) (*Review, error) {
	repo.mu.RLock()
	payload, ok := repo.records[id]
	repo.mu.RUnlock()
	if !ok {
		return nil, errors.NewNotFoundError("review", itoa(id))
	}
	r, err := DecodeRecord(payload)
	if err != nil {
		return nil, errors.NewInternalError(err.Error())
	}
	return r, nil
}

// Save persists the review in canonical form.
func (repo *InMemoryRepository) Save(ctx context.Context, r *Review) (*Review, error) {
	if r.ID == 0 {
		return nil, errors.NewBadParameterError("review.id", r.ID)
	}
	payload, err := EncodeRecord(r)
	if err != nil {
		return nil, errors.NewInternalError(err.Error())
	}
	repo.mu.Lock()
	repo.records[r.ID] = payload
	repo.mu.Unlock()
	return DecodeRecord(payload)
}

// Delete removes the review record.
func (repo *InMemoryRepository) Delete(ctx context.Context, id int) error {
	repo.mu.Lock()
	defer repo.mu.Unlock()
	if _, ok := repo.records[id]; !ok {
		return errors.NewNotFoundError("review", itoa(id))
	}
	delete(repo.records, id)
	return nil
}

// List returns the reviews matching the criteria, newest first.
func (repo *InMemoryRepository) List(ctx context.Context, criteria Criteria) ([]*Review, error) {
	repo.mu.RLock()
	payloads := make([][]byte, 0, len(repo.records))
	for _, payload := range repo.records {
		payloads = append(payloads, payload)
	}
	repo.mu.RUnlock()

	reviews := []*Review{}
	for _, payload := range payloads {
		r, err := DecodeRecord(payload)
		if err != nil {
			return nil, errors.NewInternalError(err.Error())
		}
		if criteria.Matches(r) {
			reviews = append(reviews, r)
		}
	}
	sort.Slice(reviews, func(i, j int) bool { return reviews[i].ID > reviews[j].ID })
	return reviews, nil
}

// RawRecord returns the stored payload of a review, for tests that seed or
// inspect legacy record forms.
func (repo *InMemoryRepository) RawRecord(id int) ([]byte, bool) {
	repo.mu.RLock()
	defer repo.mu.RUnlock()
	payload, ok := repo.records[id]
	return payload, ok
}

// SeedRawRecord stores a raw payload under the given id, bypassing encoding.
// Tests use it to plant legacy-schema records.
func (repo *InMemoryRepository) SeedRawRecord(id int, payload []byte) {
	repo.mu.Lock()
	defer repo.mu.Unlock()
	repo.records[id] = append([]byte(nil), payload...)
}
