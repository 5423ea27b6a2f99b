package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/generousbank/bankd/internal/core/application"
	"github.com/generousbank/bankd/internal/core/ports"
	"github.com/generousbank/bankd/internal/infrastructure/db"
	kafkapublisher "github.com/generousbank/bankd/internal/infrastructure/publisher/kafka"
	nooppublisher "github.com/generousbank/bankd/internal/infrastructure/publisher/noop"
	timescheduler "github.com/generousbank/bankd/internal/infrastructure/scheduler/gocron"
	"github.com/urfave/cli/v2"
)

type supportedType map[string]struct{}

var supportedDbs = supportedType{
	"badger":   {},
	"postgres": {},
}

type Config struct {
	Datadir  string
	LogLevel int

	DbType string
	DbDir  string
	DbUrl  string

	SnapshotInterval     time.Duration
	AllowNegativeBalance bool

	KafkaBrokers []string
	KafkaTopic   string

	repo      ports.RepoManager
	publisher ports.EventPublisher
	scheduler ports.SchedulerService
	svc       application.Service
}

func (c *Config) String() string {
	clone := *c
	json, err := json.MarshalIndent(clone, "", "  ")
	if err != nil {
		return fmt.Sprintf("error while marshalling config JSON: %s", err)
	}
	return string(json)
}

var (
	defaultDatadir              = "./data"
	defaultLogLevel             = 4
	defaultDbType               = "badger"
	defaultSnapshotInterval     = 300 // seconds, 0 disables periodic snapshots
	defaultAllowNegativeBalance = true
	defaultKafkaTopic           = "ledger_events"
)

// env returns a list of strings prefixed with `BANKD_`.
// This is used as a syntax sugar for defining env vars.
func env(values ...string) []string {
	envs := make([]string, len(values))

	for i, value := range values {
		envs[i] = fmt.Sprintf("BANKD_%s", value)
	}

	return envs
}

var (
	Datadir = &cli.StringFlag{
		Usage: "Directory to store data",
		Name:  "datadir", EnvVars: env("DATADIR"),
		Value: defaultDatadir,
	}

	LogLevel = &cli.IntFlag{
		Usage: "Logging level (0-6, where 6 is trace)",
		Name:  "log-level", EnvVars: env("LOG_LEVEL"),
		Value: defaultLogLevel,
	}

	DbType = &cli.StringFlag{
		Usage: "Database type (badger, postgres)",
		Name:  "db-type", EnvVars: env("DB_TYPE"),
		Value: defaultDbType,
	}

	DbUrl = &cli.StringFlag{
		Usage: "Postgres connection url if BANKD_DB_TYPE is set to postgres",
		Name:  "pg-db-url", EnvVars: env("PG_DB_URL"),
	}

	SnapshotInterval = &cli.IntFlag{
		Usage: "How often (in seconds) live accounts are snapshotted, 0 to disable",
		Name:  "snapshot-interval", EnvVars: env("SNAPSHOT_INTERVAL"),
		Value: defaultSnapshotInterval,
	}

	AllowNegativeBalance = &cli.BoolFlag{
		Usage: "Whether withdrawals may drive an account balance below zero",
		Name:  "allow-negative-balance", EnvVars: env("ALLOW_NEGATIVE_BALANCE"),
		Value: defaultAllowNegativeBalance,
	}

	KafkaBrokers = &cli.StringSliceFlag{
		Usage: "Kafka brokers to publish ledger events to (comma-separated), empty to disable",
		Name:  "kafka-brokers", EnvVars: env("KAFKA_BROKERS"),
	}

	KafkaTopic = &cli.StringFlag{
		Usage: "Kafka topic for published ledger events",
		Name:  "kafka-topic", EnvVars: env("KAFKA_TOPIC"),
		Value: defaultKafkaTopic,
	}
)

var Flags = []cli.Flag{
	Datadir,
	LogLevel,
	DbType,
	DbUrl,
	SnapshotInterval,
	AllowNegativeBalance,
	KafkaBrokers,
	KafkaTopic,
}

func LoadConfig(c *cli.Context) (*Config, error) {
	if err := initDatadir(c); err != nil {
		return nil, fmt.Errorf("failed to create datadir: %s", err)
	}

	dbPath := filepath.Join(c.String(Datadir.Name), "db")

	var dbUrl string
	if c.String(DbType.Name) == "postgres" {
		dbUrl = c.String(DbUrl.Name)
		if dbUrl == "" {
			return nil, fmt.Errorf("db type set to 'postgres' but db url is missing")
		}
	}

	return &Config{
		Datadir:              c.String(Datadir.Name),
		LogLevel:             c.Int(LogLevel.Name),
		DbType:               c.String(DbType.Name),
		DbDir:                dbPath,
		DbUrl:                dbUrl,
		SnapshotInterval:     time.Duration(c.Int(SnapshotInterval.Name)) * time.Second,
		AllowNegativeBalance: c.Bool(AllowNegativeBalance.Name),
		KafkaBrokers:         c.StringSlice(KafkaBrokers.Name),
		KafkaTopic:           c.String(KafkaTopic.Name),
	}, nil
}

func initDatadir(c *cli.Context) error {
	datadir := c.String(Datadir.Name)
	return makeDirectoryIfNotExists(datadir)
}

func makeDirectoryIfNotExists(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return os.MkdirAll(path, os.ModeDir|0755)
	}
	return nil
}

func (c *Config) Validate() error {
	if _, ok := supportedDbs[c.DbType]; !ok {
		return fmt.Errorf("db type not supported, please select one of: %s", supportedDbs)
	}
	if c.SnapshotInterval < 0 {
		return fmt.Errorf("snapshot interval must not be negative")
	}
	if err := c.repoManager(); err != nil {
		return err
	}
	if err := c.publisherService(); err != nil {
		return err
	}
	if err := c.schedulerService(); err != nil {
		return err
	}
	return nil
}

func (c *Config) AppService() (application.Service, error) {
	if c.svc == nil {
		if err := c.appService(); err != nil {
			return nil, err
		}
	}
	return c.svc, nil
}

func (c *Config) RepoManager() ports.RepoManager {
	return c.repo
}

func (c *Config) repoManager() error {
	var dataStoreConfig []interface{}

	switch c.DbType {
	case "badger":
		dataStoreConfig = []interface{}{c.DbDir, nil}
	case "postgres":
		dataStoreConfig = []interface{}{c.DbUrl}
	default:
		return fmt.Errorf("unknown db type")
	}

	svc, err := db.NewService(db.ServiceConfig{
		DataStoreType:   c.DbType,
		DataStoreConfig: dataStoreConfig,
	})
	if err != nil {
		return err
	}

	c.repo = svc
	return nil
}

func (c *Config) publisherService() error {
	if len(c.KafkaBrokers) == 0 {
		c.publisher = nooppublisher.NewPublisher()
		return nil
	}

	svc, err := kafkapublisher.NewPublisher(c.KafkaBrokers, c.KafkaTopic)
	if err != nil {
		return err
	}

	c.publisher = svc
	return nil
}

func (c *Config) schedulerService() error {
	if c.SnapshotInterval > 0 {
		c.scheduler = timescheduler.NewScheduler()
	}
	return nil
}

func (c *Config) appService() error {
	svc, err := application.NewService(
		c.repo, c.publisher, c.scheduler, c.SnapshotInterval, c.AllowNegativeBalance,
	)
	if err != nil {
		return err
	}

	c.svc = svc
	return nil
}

func (t supportedType) String() string {
	types := make([]string, 0, len(t))
	for tt := range t {
		types = append(types, tt)
	}
	return fmt.Sprintf("%v", types)
}
