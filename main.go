package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/jinzhu/gorm"
	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"

	"github.com/stewartlord/swarm-sub002/configuration"
	"github.com/stewartlord/swarm-sub002/lock"
	"github.com/stewartlord/swarm-sub002/log"
	"github.com/stewartlord/swarm-sub002/review"
	"github.com/stewartlord/swarm-sub002/vcs"
)

var (
	// Commit current build commit set by build script
	Commit = "0"
	// BuildTime set by build script
	BuildTime = "0"
)

func main() {
	var configFile string
	var printConfig bool
	var migrate bool

	flag.StringVar(&configFile, "config", "", "Path to the config file to read")
	flag.BoolVar(&printConfig, "printConfig", false, "Prints the effective configuration and exits")
	flag.BoolVar(&migrate, "migrateDatabase", false, "Ensures the schema and upgrades all stored review records, then exits")
	flag.Parse()

	// Override default -config switch with environment variable only if -config
	// switch was not explicitly given via the command line.
	configSwitchIsSet := false
	flag.Visit(func(f *flag.Flag) {
		if f.Name == "config" {
			configSwitchIsSet = true
		}
	})
	if !configSwitchIsSet {
		if envConfigPath, ok := os.LookupEnv("SWARM_CONFIG_FILE_PATH"); ok {
			configFile = envConfigPath
		}
	}

	if err := configuration.Setup(configFile); err != nil {
		log.Panic(nil, map[string]interface{}{
			"config_file": configFile,
			"err":         err,
		}, "failed to setup the configuration")
	}

	if printConfig {
		os.Stdout.WriteString(configuration.String())
		os.Exit(0)
	}

	log.InitializeLogger(configuration.IsDeveloperModeEnabled(), configuration.GetLogLevel())

	db := connectDatabase()
	defer db.Close()

	repo := review.NewGormRepository(db)
	if err := repo.EnsureSchema(); err != nil {
		log.Panic(nil, map[string]interface{}{
			"err": err,
		}, "failed to migrate the database schema")
	}

	rdb := redis.NewClient(&redis.Options{Addr: configuration.GetRedisAddress()})
	defer rdb.Close()
	locker := lock.NewRedisLocker(rdb, configuration.GetLockKeyPrefix(),
		configuration.GetLockRetryInterval(), configuration.GetLockExpiry())

	if migrate {
		svc := review.NewService(repo, locker, vcs.NewExclusiveWorkspace(), review.DefaultOptions())
		upgraded, err := svc.UpgradeAll(context.Background())
		if err != nil {
			log.Panic(nil, map[string]interface{}{
				"err": err,
			}, "failed to upgrade the stored review records")
		}
		log.Info(nil, map[string]interface{}{
			"upgraded": upgraded,
		}, "review records upgraded to the current schema level")
		os.Exit(0)
	}

	log.Info(nil, map[string]interface{}{
		"commit":     Commit,
		"build_time": BuildTime,
		"redis":      configuration.GetRedisAddress(),
	}, "review engine bootstrapped; wire a backend connection and feed triggers through review.Service")
}

// connectDatabase opens the postgres connection, retrying for a while so the
// engine survives the database coming up after it in orchestrated deployments.
func connectDatabase() *gorm.DB {
	var db *gorm.DB
	var err error
	for i := 0; i < configuration.GetPostgresConnectionMaxRetries(); i++ {
		db, err = gorm.Open("postgres", configuration.GetPostgresConfigString())
		if err == nil {
			return db
		}
		log.Warn(nil, map[string]interface{}{
			"err": err,
		}, fmt.Sprintf("unable to connect to the database, retrying in %v...", configuration.GetPostgresConnectionRetrySleep()))
		time.Sleep(configuration.GetPostgresConnectionRetrySleep())
	}
	log.Panic(nil, map[string]interface{}{
		"err":     err,
		"retries": configuration.GetPostgresConnectionMaxRetries(),
	}, "could not open connection to the database")
	return nil
}
