package db

import (
	"log"
	"time"

	"gorm.io/gorm"
)

// runExpiryOnce deletes sessions and MFA challenges whose expiry has passed.
func runExpiryOnce(db *gorm.DB, now time.Time) error {
	if err := db.Where("expires_at <= ?", now).Delete(&Session{}).Error; err != nil {
		return err
	}
	if err := db.Where("expires_at <= ?", now).Delete(&MFAChallenge{}).Error; err != nil {
		return err
	}
	return nil
}

// StartExpiryWorker launches a background goroutine that removes expired
// sessions and challenges once at startup and then every 15 minutes. Lookups
// already ignore expired rows; this only keeps the tables small and the
// active-user count honest.
func StartExpiryWorker(db *gorm.DB) {
	go func() {
		if err := runExpiryOnce(db, time.Now().UTC()); err != nil {
			log.Printf("session expiry error (startup): %v", err)
		}

		ticker := time.NewTicker(15 * time.Minute)
		defer ticker.Stop()

		for t := range ticker.C {
			if err := runExpiryOnce(db, t.UTC()); err != nil {
				log.Printf("session expiry error: %v", err)
			}
		}
	}()
}
