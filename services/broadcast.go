package services

import "github.com/Fecu3799/app-fuchibol-sub000/models"

// SnapshotBroadcaster pushes fresh match snapshots to connected clients after
// a mutation commits. The websocket hub implements it; tests pass nil.
type SnapshotBroadcaster interface {
	MatchUpdated(matchID int, snapshot *models.MatchSnapshot)
}
