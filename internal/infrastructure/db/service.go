package db

import (
	"embed"
	"errors"
	"fmt"

	"github.com/generousbank/bankd/internal/core/domain"
	"github.com/generousbank/bankd/internal/core/ports"
	badgerdb "github.com/generousbank/bankd/internal/infrastructure/db/badger"
	pgdb "github.com/generousbank/bankd/internal/infrastructure/db/postgres"
	"github.com/golang-migrate/migrate/v4"
	migratepg "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed postgres/migration/*
var pgMigration embed.FS

var ledgerStoreTypes = map[string]func(...interface{}) (domain.LedgerRepository, error){
	"badger":   badgerdb.NewLedgerRepository,
	"postgres": pgdb.NewLedgerRepository,
}

type ServiceConfig struct {
	DataStoreType   string
	DataStoreConfig []interface{}
}

type service struct {
	ledgerStore domain.LedgerRepository
}

func NewService(config ServiceConfig) (ports.RepoManager, error) {
	ledgerStoreFactory, ok := ledgerStoreTypes[config.DataStoreType]
	if !ok {
		return nil, fmt.Errorf("invalid data store type: %s", config.DataStoreType)
	}

	var ledgerStore domain.LedgerRepository
	var err error

	switch config.DataStoreType {
	case "badger":
		ledgerStore, err = ledgerStoreFactory(config.DataStoreConfig...)
		if err != nil {
			return nil, fmt.Errorf("failed to open ledger store: %s", err)
		}
	case "postgres":
		if len(config.DataStoreConfig) != 1 {
			return nil, fmt.Errorf("invalid data store config for postgres")
		}

		dsn, ok := config.DataStoreConfig[0].(string)
		if !ok {
			return nil, fmt.Errorf("invalid DSN for postgres")
		}

		db, err := pgdb.OpenDb(dsn)
		if err != nil {
			return nil, fmt.Errorf("failed to open postgres db: %s", err)
		}

		pgDriver, err := migratepg.WithInstance(db, &migratepg.Config{})
		if err != nil {
			return nil, fmt.Errorf("failed to init postgres migration driver: %s", err)
		}

		source, err := iofs.New(pgMigration, "postgres/migration")
		if err != nil {
			return nil, fmt.Errorf("failed to embed postgres migrations: %s", err)
		}

		m, err := migrate.NewWithInstance("iofs", source, "postgres", pgDriver)
		if err != nil {
			return nil, fmt.Errorf("failed to create postgres migration instance: %s", err)
		}

		if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
			return nil, fmt.Errorf("failed to run postgres migrations: %s", err)
		}

		ledgerStore, err = ledgerStoreFactory(db)
		if err != nil {
			return nil, fmt.Errorf("failed to open ledger store: %s", err)
		}
	default:
		return nil, fmt.Errorf("unknown data store db type")
	}

	return &service{ledgerStore: ledgerStore}, nil
}

func (s *service) Ledger() domain.LedgerRepository {
	return s.ledgerStore
}

func (s *service) Close() {
	s.ledgerStore.Close()
}
