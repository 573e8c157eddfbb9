// Package store keeps the durable peer registry. Messages are deliberately
// never persisted; only peers survive a restart so a node can rejoin the
// mesh it last saw.
package store

import (
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// Peer is a mesh neighbor row. IsActive flips off once the reaper has not
// seen the peer within the staleness bound.
type Peer struct {
	ID             string `gorm:"primaryKey"`
	Nick           string
	Addr           string
	SignalStrength int
	LastSeen       time.Time
	IsActive       bool
}

func Init(path string) (*gorm.DB, error) {
	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(&Peer{}); err != nil {
		return nil, err
	}
	return db, nil
}

func UpsertPeer(db *gorm.DB, peer Peer) error {
	return db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		UpdateAll: true,
	}).Create(&peer).Error
}

func ActivePeers(db *gorm.DB) ([]Peer, error) {
	var peers []Peer
	result := db.Where("is_active = ?", true).Find(&peers)
	return peers, result.Error
}

// SeedAddrs returns addresses of recently seen peers, newest first, for use
// as beacon targets when the node restarts.
func SeedAddrs(db *gorm.DB, limit int) ([]string, error) {
	var peers []Peer
	if err := db.Order("last_seen desc").Limit(limit).Find(&peers).Error; err != nil {
		return nil, err
	}
	addrs := make([]string, 0, len(peers))
	for _, p := range peers {
		if p.Addr != "" {
			addrs = append(addrs, p.Addr)
		}
	}
	return addrs, nil
}

// ReapStale marks peers unseen past the threshold as inactive.
func ReapStale(db *gorm.DB, staleAfter time.Duration) error {
	threshold := time.Now().Add(-staleAfter)
	return db.Model(&Peer{}).
		Where("is_active = ? AND last_seen < ?", true, threshold).
		Update("is_active", false).Error
}
