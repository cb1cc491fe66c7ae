package review

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"sort"

	"github.com/jinzhu/gorm"
	"github.com/lib/pq"
	errs "github.com/pkg/errors"

	"github.com/stewartlord/swarm-sub002/errors"
	"github.com/stewartlord/swarm-sub002/gormsupport"
	"github.com/stewartlord/swarm-sub002/log"
)

// payload stores the canonical serialized review as a JSONB column.
type payload json.RawMessage

// Ensure payload implements the sql.Scanner and driver.Valuer interfaces
var _ sql.Scanner = (*payload)(nil)
var _ driver.Valuer = (*payload)(nil)

// Value implements the driver.Valuer interface
func (p payload) Value() (driver.Value, error) {
	if p == nil {
		return nil, nil
	}
	return []byte(p), nil
}

// Scan implements the https://golang.org/pkg/database/sql/#Scanner interface
func (p *payload) Scan(src interface{}) error {
	if src == nil {
		*p = nil
		return nil
	}
	s, ok := src.([]byte)
	if !ok {
		return errs.New("scan source was not a byte slice")
	}
	*p = append((*p)[0:0], s...)
	return nil
}

// reviewRecord is the gorm model of a persisted review: the full aggregate as
// a JSONB payload plus the columns the fetch-by-criteria queries filter on.
type reviewRecord struct {
	gormsupport.Lifecycle
	gormsupport.Versioning
	ID           int            `gorm:"primary_key"`
	Key          string         `sql:"unique_index"`
	Author       string         `sql:"index"`
	State        string         `sql:"index"`
	Pending      bool
	Upgrade      int
	Description  string
	Changes      pq.Int64Array  `sql:"type:integer[]"`
	Participants pq.StringArray `sql:"type:text[]"`
	Projects     pq.StringArray `sql:"type:text[]"`
	Groups       pq.StringArray `sql:"type:text[]"`
	Payload      payload        `sql:"type:jsonb"`
}

// TableName overrides the table name settings in Gorm to force a specific
// table name in the database.
func (m reviewRecord) TableName() string {
	return "reviews"
}

// GormRepository implements Repository using gorm
type GormRepository struct {
	db *gorm.DB
}

// NewGormRepository creates a review repository based on gorm
func NewGormRepository(db *gorm.DB) *GormRepository {
	return &GormRepository{db: db}
}

var _ Repository = (*GormRepository)(nil)

// EnsureSchema creates or updates the reviews table.
func (repo *GormRepository) EnsureSchema() error {
	return repo.db.AutoMigrate(&reviewRecord{}).Error
}

// Load returns the review with the given id.
// Returns NotFoundError or InternalError.
func (repo *GormRepository) Load(ctx context.Context, id int) (*Review, error) {
	rec := reviewRecord{}
	tx := repo.db.Where("id = ?", id).First(&rec)
	if tx.RecordNotFound() {
		return nil, errors.NewNotFoundError("review", itoa(id))
	}
	if tx.Error != nil {
		return nil, errors.NewInternalError(tx.Error.Error())
	}
	r, err := DecodeRecord([]byte(rec.Payload))
	if err != nil {
		return nil, errors.NewInternalError(err.Error())
	}
	return r, nil
}

// Save persists the review, creating the record if needed.
func (repo *GormRepository) Save(ctx context.Context, r *Review) (*Review, error) {
	if r.ID == 0 {
		return nil, errors.NewBadParameterError("review.id", r.ID)
	}
	buf, err := EncodeRecord(r)
	if err != nil {
		return nil, errors.NewInternalError(err.Error())
	}

	rec := reviewRecord{}
	tx := repo.db.Where("id = ?", r.ID).First(&rec)
	create := tx.RecordNotFound()
	if !create && tx.Error != nil {
		return nil, errors.NewInternalError(tx.Error.Error())
	}

	rec.ID = r.ID
	repo.index(&rec, r, buf)
	if create {
		if err := repo.db.Create(&rec).Error; err != nil {
			return nil, errors.NewInternalError(err.Error())
		}
	} else {
		if err := repo.db.Save(&rec).Error; err != nil {
			return nil, errors.NewInternalError(err.Error())
		}
	}
	log.Debug(ctx, map[string]interface{}{"review_id": r.ID}, "review record saved")
	return DecodeRecord(buf)
}

// Delete removes the review record.
// Returns NotFoundError or InternalError.
func (repo *GormRepository) Delete(ctx context.Context, id int) error {
	tx := repo.db.Delete(&reviewRecord{ID: id})
	if tx.Error != nil {
		return errors.NewInternalError(tx.Error.Error())
	}
	if tx.RowsAffected == 0 {
		return errors.NewNotFoundError("review", itoa(id))
	}
	return nil
}

// List returns the reviews matching the criteria, newest first. The indexed
// columns narrow the query in the database; Criteria.Matches is the reference
// semantics and re-checks the decoded aggregates.
func (repo *GormRepository) List(ctx context.Context, criteria Criteria) ([]*Review, error) {
	query := repo.db.Model(&reviewRecord{})
	if criteria.Author != "" {
		query = query.Where("author = ?", criteria.Author)
	}
	if criteria.Participant != "" {
		query = query.Where("? = ANY(participants)", criteria.Participant)
	}
	if criteria.Change != 0 {
		query = query.Where("? = ANY(changes)", criteria.Change)
	}
	if len(criteria.States) > 0 {
		states := make([]string, len(criteria.States))
		for i, s := range criteria.States {
			states[i] = string(s)
		}
		query = query.Where("state IN (?)", states)
	}
	if criteria.Project != "" {
		query = query.Where("? = ANY(projects)", criteria.Project)
	}
	if criteria.Group != "" {
		query = query.Where("? = ANY(groups)", criteria.Group)
	}
	if criteria.Keywords != "" {
		query = query.Where("description ILIKE ?", "%"+criteria.Keywords+"%")
	}

	records := []reviewRecord{}
	if err := query.Order("id desc").Find(&records).Error; err != nil {
		return nil, errors.NewInternalError(err.Error())
	}

	reviews := []*Review{}
	for _, rec := range records {
		r, err := DecodeRecord([]byte(rec.Payload))
		if err != nil {
			return nil, errors.NewInternalError(err.Error())
		}
		if criteria.Matches(r) {
			reviews = append(reviews, r)
		}
	}
	return reviews, nil
}

// index refreshes the filterable columns from the aggregate.
func (repo *GormRepository) index(rec *reviewRecord, r *Review, buf []byte) {
	rec.Key = EncodeKey(r.ID)
	rec.Author = r.Author
	rec.State = string(r.State)
	rec.Pending = r.Pending
	rec.Upgrade = CurrentUpgradeLevel
	rec.Description = r.Description
	rec.Changes = make(pq.Int64Array, len(r.Changes))
	for i, c := range r.Changes {
		rec.Changes[i] = int64(c)
	}
	rec.Participants = rec.Participants[:0]
	for user := range r.Participants {
		rec.Participants = append(rec.Participants, user)
	}
	sort.Strings(rec.Participants)
	rec.Projects = pq.StringArray(r.Projects)
	rec.Groups = pq.StringArray(r.Groups)
	rec.Payload = payload(buf)
}
