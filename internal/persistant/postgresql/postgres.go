package postgresql

import (
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

const connectAttempts = 5

// Initialize opens the db session, retrying while the database comes up,
// and auto migrates the given models.
func Initialize(connStr string, models []any) (db *gorm.DB, err error) {
	retryTicker := time.NewTicker(time.Second * 2)
	defer retryTicker.Stop()

	for range connectAttempts {
		db, err = gorm.Open(postgres.Open(connStr), &gorm.Config{
			NowFunc: func() time.Time { return time.Now().UTC() },
		})
		if err == nil {
			break
		}
		<-retryTicker.C
	}
	if err != nil {
		return
	}

	err = db.AutoMigrate(models...)

	return
}

func Close(db *gorm.DB) error {
	sqlDb, err := db.DB()
	if err != nil {
		return err
	}

	return sqlDb.Close()
}
