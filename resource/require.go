package resource

import (
	"os"
	"testing"
)

const (
	// UnitTest refers to the unit tests that don't need any external resource
	UnitTest = "SWARM_RESOURCE_UNIT_TEST"
	// Database refers to tests that need a running PostgreSQL instance
	Database = "SWARM_RESOURCE_DATABASE"
	// Redis refers to tests that need a running redis (or miniredis) instance
	Redis = "SWARM_RESOURCE_REDIS"

	stSkipReason = "Skipping test because environment variable %s is not set."
)

// Require checks if all the given environment variables ("envVars") are set
// and if one is not set it will skip the test ("t").
func Require(t *testing.T, envVars ...string) {
	for _, envVar := range envVars {
		if _, c := os.LookupEnv(envVar); !c {
			t.Skipf(stSkipReason, envVar)
			return
		}
	}
}
