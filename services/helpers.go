package services

import (
	"github.com/Fecu3799/app-fuchibol-sub000/models"
)

func isCreator(m *models.Match, userID int) bool {
	return m.CreatedByID == userID
}

// isMatchAdmin checks the admin flag on the caller's participant row. A row
// that withdrew or declined carries no authority even if the flag is still set.
func isMatchAdmin(p *models.Participant) bool {
	return p != nil && p.IsMatchAdmin && p.IsActive()
}

func isCreatorOrAdmin(m *models.Match, userID int, p *models.Participant) bool {
	return isCreator(m, userID) || isMatchAdmin(p)
}
