package db

import (
	"fmt"
	"log"

	"github.com/techagentng/qwik/config"
	"github.com/techagentng/qwik/models"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type GormDB struct {
	DB *gorm.DB
}

func GetDB(c *config.Config) *GormDB {
	gormDB, err := Open(c)
	if err != nil {
		log.Fatalf("unable to open database: %v", err)
	}
	return gormDB
}

// Open connects to the configured database and runs the migrations.
func Open(c *config.Config) (*GormDB, error) {
	gormDB := &GormDB{}
	if err := gormDB.Init(c); err != nil {
		return nil, err
	}
	return gormDB, nil
}

func (g *GormDB) Init(c *config.Config) error {
	var err error
	switch c.DBDriver {
	case "sqlite":
		g.DB, err = getSQLiteDB(c)
	default:
		g.DB, err = getPostgresDB(c)
	}
	if err != nil {
		return err
	}

	if err := Migrate(g.DB); err != nil {
		return fmt.Errorf("unable to run migrations: %v", err)
	}
	return nil
}

func gormConfig(c *config.Config) *gorm.Config {
	gormConfig := &gorm.Config{}
	if c.Env != "prod" && c.Debug {
		gormConfig.Logger = logger.Default.LogMode(logger.Info)
	} else {
		gormConfig.Logger = logger.Default.LogMode(logger.Warn)
	}
	return gormConfig
}

func getPostgresDB(c *config.Config) (*gorm.DB, error) {
	log.Printf("Connecting to postgres: host=%s db=%s port=%d", c.PostgresHost, c.PostgresDB, c.PostgresPort)
	postgresDSN := fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%d TimeZone=%s",
		c.PostgresHost, c.PostgresUser, c.PostgresPassword, c.PostgresDB, c.PostgresPort, c.PostgresTimeZone)

	return gorm.Open(postgres.New(postgres.Config{
		DSN: postgresDSN,
	}), gormConfig(c))
}

// getSQLiteDB is for local development and tests. SQLite has a single
// writer, so the pool is pinned to one connection; this also keeps an
// in-memory database alive and shared for the life of the pool.
func getSQLiteDB(c *config.Config) (*gorm.DB, error) {
	gormDB, err := gorm.Open(sqlite.Open(c.SQLitePath), gormConfig(c))
	if err != nil {
		return nil, err
	}
	sqlDB, err := gormDB.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)
	return gormDB, nil
}

func Migrate(db *gorm.DB) error {
	err := db.AutoMigrate(
		&models.User{},
		&models.Follow{},
		&models.Thread{},
		&models.Message{},
	)
	if err != nil {
		return fmt.Errorf("migrations error: %v", err)
	}
	return nil
}
