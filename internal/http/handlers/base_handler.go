// README: Shared handler utilities (error mapping, response shaping).
package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"unipool/internal/geo"
	"unipool/internal/modules/member"
	"unipool/internal/modules/party"
)

type errorResponse struct {
	Error string `json:"error"`
}

func writeError(c *gin.Context, status int, msg string) {
	c.JSON(status, errorResponse{Error: msg})
}

func writePartyError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, party.ErrPartyNotFound),
		errors.Is(err, party.ErrMemberNotFound),
		errors.Is(err, member.ErrNotFound):
		writeError(c, http.StatusNotFound, err.Error())
	case errors.Is(err, party.ErrUnauthorizedHost):
		writeError(c, http.StatusForbidden, err.Error())
	case errors.Is(err, party.ErrInvalidHost),
		errors.Is(err, party.ErrInsufficientCriteria),
		errors.Is(err, party.ErrPastDepartureTime),
		errors.Is(err, party.ErrMissingCoordinates),
		errors.Is(err, geo.ErrInvalidCoordinate):
		writeError(c, http.StatusBadRequest, err.Error())
	case errors.Is(err, party.ErrAlreadyDeleted),
		errors.Is(err, party.ErrMemberAlreadyInParty),
		errors.Is(err, party.ErrMemberNotInParty),
		errors.Is(err, party.ErrPartyFull),
		errors.Is(err, party.ErrInvalidMaxParticipant),
		errors.Is(err, party.ErrSavingsAlreadyCalculated),
		errors.Is(err, party.ErrNoParticipants),
		errors.Is(err, party.ErrVersionConflict):
		writeError(c, http.StatusConflict, err.Error())
	case errors.Is(err, party.ErrFareProvider):
		writeError(c, http.StatusBadGateway, err.Error())
	default:
		writeError(c, http.StatusInternalServerError, "internal error")
	}
}

type placeDTO struct {
	Name    string  `json:"name"`
	Address string  `json:"address"`
	Lng     float64 `json:"lng"`
	Lat     float64 `json:"lat"`
}

type partyResponse struct {
	ID                int64          `json:"id"`
	Name              string         `json:"name"`
	HostMemberID      int64          `json:"host_member_id"`
	MemberIDs         []int64        `json:"member_ids"`
	StartPlace        *placeDTO      `json:"start_place,omitempty"`
	EndPlace          *placeDTO      `json:"end_place,omitempty"`
	DepartureAt       time.Time      `json:"departure_at"`
	Comment           string         `json:"comment"`
	CurrentCount      int            `json:"current_participant_count"`
	MaxCount          int            `json:"max_participant_count"`
	Options           optionsDTO     `json:"options"`
	SavingsCalculated bool           `json:"savings_calculated"`
	EstimatedFare     *int64         `json:"estimated_fare,omitempty"`
	Notification      string         `json:"notification,omitempty"`
	CreatedAt         time.Time      `json:"created_at"`
}

type optionsDTO struct {
	SameGenderOnly           bool `json:"same_gender_only"`
	CostShareBeforeDropOff   bool `json:"cost_share_before_drop_off"`
	QuietMode                bool `json:"quiet_mode"`
	DestinationChangeAllowed bool `json:"destination_change_allowed"`
}

func toPartyResponse(p *party.Party) partyResponse {
	memberIDs := make([]int64, 0, len(p.Members))
	for _, m := range p.Members {
		memberIDs = append(memberIDs, int64(m.MemberID))
	}
	return partyResponse{
		ID:                int64(p.ID),
		Name:              p.Name,
		HostMemberID:      int64(p.HostMemberID),
		MemberIDs:         memberIDs,
		StartPlace:        toPlaceDTO(p.StartPlace),
		EndPlace:          toPlaceDTO(p.EndPlace),
		DepartureAt:       p.DepartureAt,
		Comment:           p.Comment,
		CurrentCount:      p.CurrentCount,
		MaxCount:          p.MaxCount,
		Options: optionsDTO{
			SameGenderOnly:           p.Options.SameGenderOnly,
			CostShareBeforeDropOff:   p.Options.CostShareBeforeDropOff,
			QuietMode:                p.Options.QuietMode,
			DestinationChangeAllowed: p.Options.DestinationChangeAllowed,
		},
		SavingsCalculated: p.SavingsCalculated,
		EstimatedFare:     p.EstimatedFare,
		Notification:      p.Notification,
		CreatedAt:         p.CreatedAt,
	}
}

func toPlaceDTO(p *party.Place) *placeDTO {
	if p == nil {
		return nil
	}
	return &placeDTO{Name: p.Name, Address: p.Address, Lng: p.Point.Lng, Lat: p.Point.Lat}
}

func toPartyResponses(parties []*party.Party) []partyResponse {
	out := make([]partyResponse, 0, len(parties))
	for _, p := range parties {
		out = append(out, toPartyResponse(p))
	}
	return out
}
