package database

import (
	"database/sql"

	"github.com/google/uuid"
	sqliteGo "github.com/mattn/go-sqlite3"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const CustomDriverName = "sqlite3_extended"

const DefaultFile = "vault-service.db"

func init() {
	sql.Register(CustomDriverName,
		&sqliteGo.SQLiteDriver{
			ConnectHook: func(conn *sqliteGo.SQLiteConn) error {
				err := conn.RegisterFunc(
					"gen_random_uuid",
					func(arguments ...interface{}) (string, error) {
						u, err := uuid.NewRandom()
						if err != nil {
							return "", err
						}
						return u.String(), nil
					},
					true,
				)
				return err
			},
		},
	)
}

func NewDb(file string) (*gorm.DB, error) {

	conn, err := sql.Open(CustomDriverName, file)
	if err != nil {
		return nil, err
	}
	// sqlite allows one writer; a single pooled connection keeps concurrent
	// conditional inserts and counter updates queued instead of SQLITE_BUSY.
	conn.SetMaxOpenConns(1)

	db, err := gorm.Open(sqlite.Dialector{
		DriverName: CustomDriverName,
		DSN:        file,
		Conn:       conn,
	}, &gorm.Config{
		Logger:                   logger.Default.LogMode(logger.Warn),
		SkipDefaultTransaction:   true,
		DisableNestedTransaction: true,
	})
	if err != nil {
		return nil, err
	}
	err = db.AutoMigrate(&Blob{}, &File{}, &ShareToken{}, &DirectShare{})
	return db, err
}
