package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/Fecu3799/app-fuchibol-sub000/middleware"
	"github.com/Fecu3799/app-fuchibol-sub000/models"
	"github.com/Fecu3799/app-fuchibol-sub000/services"
)

type ParticipationHandler struct {
	participationService *services.ParticipationService
}

func NewParticipationHandler(participationService *services.ParticipationService) *ParticipationHandler {
	return &ParticipationHandler{
		participationService: participationService,
	}
}

// keyedActionRequest is the shared body of the keyed participation actions.
// The idempotency key itself travels in the Idempotency-Key header.
type keyedActionRequest struct {
	ExpectedRevision int `json:"expected_revision"`
}

func (h *ParticipationHandler) readKeyedAction(w http.ResponseWriter, r *http.Request) (matchID, actorID, expectedRevision int, key string, ok bool) {
	matchID, err := getIDFromURL(r, "matchID")
	if err != nil {
		badRequestResponse(w, r, err)
		return 0, 0, 0, "", false
	}

	actorID, err = middleware.GetUserIDFromContext(r.Context())
	if err != nil {
		unauthorizedResponse(w, r, "failed to identify current user")
		return 0, 0, 0, "", false
	}

	var body keyedActionRequest
	if err := readJSON(w, r, &body); err != nil {
		badRequestResponse(w, r, err)
		return 0, 0, 0, "", false
	}

	return matchID, actorID, body.ExpectedRevision, r.Header.Get(idempotencyKeyHeader), true
}

func (h *ParticipationHandler) writeSnapshot(w http.ResponseWriter, r *http.Request, snapshot *models.MatchSnapshot, err error) {
	if err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}
	response := jsonResponse{
		"match": snapshot,
	}
	if err := writeJSON(w, http.StatusOK, response, nil); err != nil {
		serverErrorResponse(w, r, err)
	}
}

func (h *ParticipationHandler) Confirm(w http.ResponseWriter, r *http.Request) {
	matchID, actorID, rev, key, ok := h.readKeyedAction(w, r)
	if !ok {
		return
	}
	snapshot, err := h.participationService.Confirm(r.Context(), services.ConfirmInput{
		MatchID:          matchID,
		ActorID:          actorID,
		ExpectedRevision: rev,
		IdempotencyKey:   key,
	})
	h.writeSnapshot(w, r, snapshot, err)
}

func (h *ParticipationHandler) Decline(w http.ResponseWriter, r *http.Request) {
	matchID, actorID, rev, key, ok := h.readKeyedAction(w, r)
	if !ok {
		return
	}
	snapshot, err := h.participationService.Decline(r.Context(), services.DeclineInput{
		MatchID:          matchID,
		ActorID:          actorID,
		ExpectedRevision: rev,
		IdempotencyKey:   key,
	})
	h.writeSnapshot(w, r, snapshot, err)
}

func (h *ParticipationHandler) Withdraw(w http.ResponseWriter, r *http.Request) {
	matchID, actorID, rev, key, ok := h.readKeyedAction(w, r)
	if !ok {
		return
	}
	snapshot, err := h.participationService.Withdraw(r.Context(), services.WithdrawInput{
		MatchID:          matchID,
		ActorID:          actorID,
		ExpectedRevision: rev,
		IdempotencyKey:   key,
	})
	h.writeSnapshot(w, r, snapshot, err)
}

func (h *ParticipationHandler) Leave(w http.ResponseWriter, r *http.Request) {
	matchID, actorID, rev, key, ok := h.readKeyedAction(w, r)
	if !ok {
		return
	}
	snapshot, err := h.participationService.Leave(r.Context(), services.LeaveInput{
		MatchID:          matchID,
		ActorID:          actorID,
		ExpectedRevision: rev,
		IdempotencyKey:   key,
	})
	h.writeSnapshot(w, r, snapshot, err)
}

func (h *ParticipationHandler) Invite(w http.ResponseWriter, r *http.Request) {
	matchID, err := getIDFromURL(r, "matchID")
	if err != nil {
		badRequestResponse(w, r, err)
		return
	}

	actorID, err := middleware.GetUserIDFromContext(r.Context())
	if err != nil {
		unauthorizedResponse(w, r, "failed to identify current user")
		return
	}

	var body struct {
		ExpectedRevision int    `json:"expected_revision"`
		User             string `json:"user"`
	}
	if err := readJSON(w, r, &body); err != nil {
		badRequestResponse(w, r, err)
		return
	}
	if body.User == "" {
		badRequestResponse(w, r, errors.New("user identifier is required"))
		return
	}

	snapshot, err := h.participationService.Invite(
		r.Context(), matchID, actorID, body.ExpectedRevision, body.User, r.Header.Get(idempotencyKeyHeader),
	)
	h.writeSnapshot(w, r, snapshot, err)
}

func (h *ParticipationHandler) PromoteAdmin(w http.ResponseWriter, r *http.Request) {
	h.changeAdmin(w, r, h.participationService.PromoteAdmin)
}

func (h *ParticipationHandler) DemoteAdmin(w http.ResponseWriter, r *http.Request) {
	h.changeAdmin(w, r, h.participationService.DemoteAdmin)
}

func (h *ParticipationHandler) changeAdmin(w http.ResponseWriter, r *http.Request, op func(ctx context.Context, input services.AdminChangeInput) (*models.MatchSnapshot, error)) {
	matchID, err := getIDFromURL(r, "matchID")
	if err != nil {
		badRequestResponse(w, r, err)
		return
	}

	targetUserID, err := getIDFromURL(r, "userID")
	if err != nil {
		badRequestResponse(w, r, err)
		return
	}

	actorID, err := middleware.GetUserIDFromContext(r.Context())
	if err != nil {
		unauthorizedResponse(w, r, "failed to identify current user")
		return
	}

	var body keyedActionRequest
	if err := readJSON(w, r, &body); err != nil {
		badRequestResponse(w, r, err)
		return
	}

	snapshot, err := op(r.Context(), services.AdminChangeInput{
		MatchID:          matchID,
		ActorID:          actorID,
		TargetUserID:     targetUserID,
		ExpectedRevision: body.ExpectedRevision,
	})
	h.writeSnapshot(w, r, snapshot, err)
}
