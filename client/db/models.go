package db

import (
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/velichkin/wavefm/client"
)

// PlayEventModel mirrors the play_events journal schema. Every listen
// that passed the dedup window lands here before the remote submission.
type PlayEventModel struct {
	gorm.Model
	EventID  string    `gorm:"uniqueIndex;not null"`
	UserID   string    `gorm:"not null;index:idx_user_track"`
	TrackID  string    `gorm:"not null;index:idx_user_track"`
	PlayedAt time.Time `gorm:"not null;index"`
}

func (PlayEventModel) TableName() string {
	return "play_events"
}

// PlayerSnapshotModel stores the single restorable player state row.
type PlayerSnapshotModel struct {
	gorm.Model
	Key            string `gorm:"uniqueIndex;not null"`
	QueueIDs       string
	CurrentTrackID string
	Position       float64
	Volume         float64
	Repeat         bool
	Shuffle        bool
	SavedAt        time.Time `gorm:"not null"`
}

func (PlayerSnapshotModel) TableName() string {
	return "player_snapshots"
}

// snapshotKey is the fixed key of the single snapshot row.
const snapshotKey = "default"

// queueSeparator joins queue ids in one column. Track ids are uuids and
// never contain it.
const queueSeparator = ","

func eventToModel(event client.PlayEvent) *PlayEventModel {
	return &PlayEventModel{
		EventID:  event.ID,
		UserID:   event.UserID,
		TrackID:  event.TrackID,
		PlayedAt: event.PlayedAt.UTC(),
	}
}

func snapshotToModel(snapshot client.PlayerSnapshot) *PlayerSnapshotModel {
	return &PlayerSnapshotModel{
		Key:            snapshotKey,
		QueueIDs:       strings.Join(snapshot.QueueIDs, queueSeparator),
		CurrentTrackID: snapshot.CurrentTrackID,
		Position:       snapshot.Position,
		Volume:         snapshot.Volume,
		Repeat:         snapshot.Repeat,
		Shuffle:        snapshot.Shuffle,
		SavedAt:        snapshot.UpdatedAt.UTC(),
	}
}

func snapshotToInternal(model PlayerSnapshotModel) *client.PlayerSnapshot {
	var ids []string
	if model.QueueIDs != "" {
		ids = strings.Split(model.QueueIDs, queueSeparator)
	}
	return &client.PlayerSnapshot{
		QueueIDs:       ids,
		CurrentTrackID: model.CurrentTrackID,
		Position:       model.Position,
		Volume:         model.Volume,
		Repeat:         model.Repeat,
		Shuffle:        model.Shuffle,
		UpdatedAt:      model.SavedAt,
	}
}
