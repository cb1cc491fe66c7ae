// Package gormtestsupport provides a testify suite base for tests that need a
// real postgres database. Suites are skipped unless the database test resource
// is enabled in the environment.
package gormtestsupport

import (
	"github.com/jinzhu/gorm"
	_ "github.com/lib/pq" // need to import postgres driver
	"github.com/stretchr/testify/suite"

	"github.com/stewartlord/swarm-sub002/configuration"
	"github.com/stewartlord/swarm-sub002/log"
	"github.com/stewartlord/swarm-sub002/resource"
)

var _ suite.SetupAllSuite = &DBTestSuite{}
var _ suite.TearDownAllSuite = &DBTestSuite{}

// NewDBTestSuite instantiates a new DBTestSuite
func NewDBTestSuite(configFilePath string) DBTestSuite {
	return DBTestSuite{configFile: configFilePath}
}

// DBTestSuite is a base for tests using a gorm db
type DBTestSuite struct {
	suite.Suite
	configFile string
	DB         *gorm.DB
}

// SetupSuite implements suite.SetupAllSuite
func (s *DBTestSuite) SetupSuite() {
	resource.Require(s.T(), resource.Database)
	if err := configuration.Setup(s.configFile); err != nil {
		log.Panic(nil, map[string]interface{}{
			"err": err,
		}, "failed to setup the configuration")
	}
	db, err := gorm.Open("postgres", configuration.GetPostgresConfigString())
	if err != nil {
		log.Panic(nil, map[string]interface{}{
			"err":             err,
			"postgres_config": configuration.GetPostgresConfigString(),
		}, "failed to connect to the database")
	}
	s.DB = db
}

// TearDownSuite implements suite.TearDownAllSuite
func (s *DBTestSuite) TearDownSuite() {
	if s.DB != nil {
		s.DB.Close()
	}
}
