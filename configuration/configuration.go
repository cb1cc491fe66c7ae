package configuration

import (
	"fmt"
	"strings"
	"time"

	yaml "gopkg.in/yaml.v2"

	"github.com/spf13/viper"
)

// String returns the current configuration as a string
func String() string {
	allSettings := viper.AllSettings()
	y, err := yaml.Marshal(&allSettings)
	if err != nil {
		panic(fmt.Errorf("failed to marshal config to string: %s", err.Error()))
	}
	return fmt.Sprintf("%s\n", y)
}

// Setup sets up defaults for viper configuration options and overrides these
// values with the values from the given configuration file if it is not empty.
// Those values again are overwritten by environment variables.
func Setup(configFilePath string) error {
	viper.Reset()

	// Expect environment variables to be prefixed with "SWARM_".
	viper.SetEnvPrefix("SWARM")

	// Automatically map environment variables to viper values
	viper.AutomaticEnv()

	// To override nested variables through environment variables, we
	// need to make sure that we don't have to use dots (".") inside the
	// environment variable names.
	// To override lock.key.prefix you need to set SWARM_LOCK_KEY_PREFIX
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	viper.SetTypeByDefaultValue(true)
	setConfigDefaults()

	// Explicitly specify which file to load config from
	if configFilePath != "" {
		viper.SetConfigFile(configFilePath)
		viper.SetConfigType("yaml")
		err := viper.ReadInConfig()
		if err != nil {
			return fmt.Errorf("fatal error config file: %s", err)
		}
	}

	return nil
}

// Constants for viper variable names. Will be used to set
// default values as well as to get each value.
const (
	varPostgresHost                 = "postgres.host"
	varPostgresPort                 = "postgres.port"
	varPostgresUser                 = "postgres.user"
	varPostgresPassword             = "postgres.password"
	varPostgresDatabase             = "postgres.database"
	varPostgresSSLMode              = "postgres.sslmode"
	varPostgresConnectionMaxRetries = "postgres.connection.maxretries"
	varPostgresConnectionRetrySleep = "postgres.connection.retrysleep"
	varRedisAddress                 = "redis.address"
	varLockRetryInterval            = "lock.retry.interval"
	varLockExpiry                   = "lock.expiry"
	varLockKeyPrefix                = "lock.key.prefix"
	varReviewUnapproveModified      = "review.unapprove.modified"
	varReviewCommitCreditAuthor     = "review.commit.credit.author"
	varReviewIgnoredDiffFields      = "review.diff.ignored.fields"
	varLogLevel                     = "log.level"
	varDeveloperModeEnabled         = "developer.mode.enabled"
)

func setConfigDefaults() {
	//---------
	// Postgres
	//---------
	viper.SetTypeByDefaultValue(true)
	viper.SetDefault(varPostgresHost, "localhost")
	viper.SetDefault(varPostgresPort, 5432)
	viper.SetDefault(varPostgresUser, "postgres")
	viper.SetDefault(varPostgresPassword, "mysecretpassword")
	viper.SetDefault(varPostgresDatabase, "postgres")
	viper.SetDefault(varPostgresSSLMode, "disable")
	// The number of times the engine will attempt to open a connection to the
	// database before it gives up
	viper.SetDefault(varPostgresConnectionMaxRetries, 50)
	// Time to wait before trying to connect again
	viper.SetDefault(varPostgresConnectionRetrySleep, time.Duration(time.Second))

	//------
	// Redis
	//------
	viper.SetDefault(varRedisAddress, "localhost:6379")

	//-----------------------
	// Advisory lock service
	//-----------------------
	viper.SetDefault(varLockRetryInterval, 50*time.Millisecond)
	viper.SetDefault(varLockExpiry, 5*time.Minute)
	viper.SetDefault(varLockKeyPrefix, "swarm-")

	//--------
	// Reviews
	//--------
	// Revert approved reviews back to "needs review" when their content changes
	viper.SetDefault(varReviewUnapproveModified, true)
	// Re-own committed changelists to the review author after a commit on
	// behalf of someone else
	viper.SetDefault(varReviewCommitCreditAuthor, true)
	// Per-file metadata fields whose changes alone are considered insignificant
	viper.SetDefault(varReviewIgnoredDiffFields, []string{"action", "rev", "resolved", "unresolved"})

	viper.SetDefault(varLogLevel, "info")
	viper.SetDefault(varDeveloperModeEnabled, false)
}

// GetPostgresHost returns the postgres host as set via config file or environment variable
func GetPostgresHost() string {
	return viper.GetString(varPostgresHost)
}

// GetPostgresPort returns the postgres port as set via config file or environment variable
func GetPostgresPort() int64 {
	return viper.GetInt64(varPostgresPort)
}

// GetPostgresUser returns the postgres user as set via config file or environment variable
func GetPostgresUser() string {
	return viper.GetString(varPostgresUser)
}

// GetPostgresPassword returns the postgres password as set via config file or environment variable
func GetPostgresPassword() string {
	return viper.GetString(varPostgresPassword)
}

// GetPostgresDatabase returns the postgres database as set via config file or environment variable
func GetPostgresDatabase() string {
	return viper.GetString(varPostgresDatabase)
}

// GetPostgresSSLMode returns the postgres sslmode as set via config file or environment variable
func GetPostgresSSLMode() string {
	return viper.GetString(varPostgresSSLMode)
}

// GetPostgresConnectionMaxRetries returns the number of times (as set via
// config file or environment variable) the engine will attempt to open a
// connection to the database before it gives up
func GetPostgresConnectionMaxRetries() int {
	return viper.GetInt(varPostgresConnectionMaxRetries)
}

// GetPostgresConnectionRetrySleep returns the duration (as set via config file
// or environment variable) to wait before trying to connect again
func GetPostgresConnectionRetrySleep() time.Duration {
	return viper.GetDuration(varPostgresConnectionRetrySleep)
}

// GetPostgresConfigString returns a ready to use string for usage in sql.Open()
func GetPostgresConfigString() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		GetPostgresHost(),
		GetPostgresPort(),
		GetPostgresUser(),
		GetPostgresPassword(),
		GetPostgresDatabase(),
		GetPostgresSSLMode(),
	)
}

// GetRedisAddress returns the address of the redis instance backing the
// advisory lock service
func GetRedisAddress() string {
	return viper.GetString(varRedisAddress)
}

// GetLockRetryInterval returns how long to sleep between acquisition attempts
// of a contended advisory lock
func GetLockRetryInterval() time.Duration {
	return viper.GetDuration(varLockRetryInterval)
}

// GetLockExpiry returns the time after which a held advisory lock expires on
// its own, guarding against lost holders
func GetLockExpiry() time.Duration {
	return viper.GetDuration(varLockExpiry)
}

// GetLockKeyPrefix returns the prefix prepended to advisory lock names to form
// redis keys
func GetLockKeyPrefix() string {
	return viper.GetString(varLockKeyPrefix)
}

// IsUnapproveModifiedEnabled returns whether approved reviews revert to "needs
// review" when a significant content change arrives
func IsUnapproveModifiedEnabled() bool {
	return viper.GetBool(varReviewUnapproveModified)
}

// IsCommitCreditAuthorEnabled returns whether a committed changelist gets
// re-owned to the review author when somebody else pressed commit
func IsCommitCreditAuthorEnabled() bool {
	return viper.GetBool(varReviewCommitCreditAuthor)
}

// GetIgnoredDiffFields returns the per-file metadata fields whose changes alone
// are classified as insignificant by the diff classifier
func GetIgnoredDiffFields() []string {
	return viper.GetStringSlice(varReviewIgnoredDiffFields)
}

// GetLogLevel returns the log level as set via config file or environment variable
func GetLogLevel() string {
	return viper.GetString(varLogLevel)
}

// IsDeveloperModeEnabled returns if development related features are enabled
func IsDeveloperModeEnabled() bool {
	return viper.GetBool(varDeveloperModeEnabled)
}
