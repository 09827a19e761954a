package models

import "time"

// WatchLog is an append-only record of seconds watched on one episode,
// written by the playback service. The billing core only aggregates it to
// evaluate refund eligibility (episodes 1-3 are always free, so only
// episode >= 4 consumption counts against a refund).
type WatchLog struct {
	ID            uint      `gorm:"primaryKey" json:"id"`
	UserID        uint      `gorm:"not null;index:idx_watch_logs_user_created,priority:1" json:"user_id"`
	EpisodeNumber int       `gorm:"not null" json:"episode_number"`
	Seconds       int64     `gorm:"not null" json:"seconds"`
	CreatedAt     time.Time `gorm:"autoCreateTime;index:idx_watch_logs_user_created,priority:2" json:"created_at"`
}
