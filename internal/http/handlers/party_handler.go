// README: Party handlers for lifecycle, listing, search, and savings.
package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"unipool/internal/http/middleware"
	"unipool/internal/modules/party"
	"unipool/internal/types"
)

type PartyHandler struct {
	party *party.Service
}

func NewPartyHandler(svc *party.Service) *PartyHandler {
	return &PartyHandler{party: svc}
}

type placeReq struct {
	Name    string  `json:"name"`
	Address string  `json:"address"`
	Lng     float64 `json:"lng"`
	Lat     float64 `json:"lat"`
}

func (r *placeReq) toPlace() *party.Place {
	if r == nil {
		return nil
	}
	return &party.Place{Name: r.Name, Address: r.Address, Point: types.Point{Lng: r.Lng, Lat: r.Lat}}
}

type optionsReq struct {
	SameGenderOnly           bool `json:"same_gender_only"`
	CostShareBeforeDropOff   bool `json:"cost_share_before_drop_off"`
	QuietMode                bool `json:"quiet_mode"`
	DestinationChangeAllowed bool `json:"destination_change_allowed"`
}

func (r optionsReq) toOptions() party.RideOptions {
	return party.RideOptions{
		SameGenderOnly:           r.SameGenderOnly,
		CostShareBeforeDropOff:   r.CostShareBeforeDropOff,
		QuietMode:                r.QuietMode,
		DestinationChangeAllowed: r.DestinationChangeAllowed,
	}
}

type createPartyReq struct {
	Name         string     `json:"name"`
	StartPlace   *placeReq  `json:"start_place"`
	EndPlace     *placeReq  `json:"end_place"`
	DepartureAt  time.Time  `json:"departure_at"`
	Comment      string     `json:"comment"`
	MaxCount     int        `json:"max_participant_count"`
	Options      optionsReq `json:"options"`
}

func (h *PartyHandler) Create(c *gin.Context) {
	memberID, ok := middleware.MemberID(c)
	if !ok {
		writeError(c, http.StatusUnauthorized, "unauthenticated")
		return
	}

	var req createPartyReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}

	p, err := h.party.Create(c.Request.Context(), party.CreateRequest{
		Name:        req.Name,
		StartPlace:  req.StartPlace.toPlace(),
		EndPlace:    req.EndPlace.toPlace(),
		DepartureAt: req.DepartureAt,
		Comment:     req.Comment,
		MaxCount:    req.MaxCount,
		Options:     req.Options.toOptions(),
	}, memberID)
	if err != nil {
		writePartyError(c, err)
		return
	}
	c.JSON(http.StatusCreated, toPartyResponse(p))
}

func (h *PartyHandler) Get(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	p, err := h.party.Get(c.Request.Context(), id)
	if err != nil {
		writePartyError(c, err)
		return
	}
	c.JSON(http.StatusOK, toPartyResponse(p))
}

func (h *PartyHandler) List(c *gin.Context) {
	page, size := pagination(c)
	parties, err := h.party.List(c.Request.Context(), page, size)
	if err != nil {
		writePartyError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"parties": toPartyResponses(parties), "page": page, "size": size})
}

// Search accepts any subset of origin, destination, and departure time as
// query parameters; the engine rejects under-specified combinations.
func (h *PartyHandler) Search(c *gin.Context) {
	memberID, ok := middleware.MemberID(c)
	if !ok {
		writeError(c, http.StatusUnauthorized, "unauthenticated")
		return
	}

	var f party.SearchFilter
	var parseErr bool
	f.DepartureLng = queryFloat(c, "departure_lng", &parseErr)
	f.DepartureLat = queryFloat(c, "departure_lat", &parseErr)
	f.DestinationLng = queryFloat(c, "destination_lng", &parseErr)
	f.DestinationLat = queryFloat(c, "destination_lat", &parseErr)
	f.DepartureTime = queryTime(c, "departure_time", &parseErr)
	if parseErr {
		writeError(c, http.StatusBadRequest, "malformed search criteria")
		return
	}

	page, size := pagination(c)
	parties, err := h.party.Search(c.Request.Context(), f, memberID, page, size)
	if err != nil {
		writePartyError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"parties": toPartyResponses(parties), "page": page, "size": size})
}

func (h *PartyHandler) MyParties(c *gin.Context) {
	memberID, ok := middleware.MemberID(c)
	if !ok {
		writeError(c, http.StatusUnauthorized, "unauthenticated")
		return
	}
	parties, err := h.party.ListForMember(c.Request.Context(), memberID)
	if err != nil {
		writePartyError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"parties": toPartyResponses(parties)})
}

type updatePartyReq struct {
	Name         string     `json:"name"`
	StartPlace   *placeReq  `json:"start_place"`
	EndPlace     *placeReq  `json:"end_place"`
	DepartureAt  time.Time  `json:"departure_at"`
	Comment      string     `json:"comment"`
	MaxCount     int        `json:"max_participant_count"`
	Options      optionsReq `json:"options"`
	Notification string     `json:"notification"`
}

func (h *PartyHandler) Update(c *gin.Context) {
	memberID, ok := middleware.MemberID(c)
	if !ok {
		writeError(c, http.StatusUnauthorized, "unauthenticated")
		return
	}
	id, ok := pathID(c)
	if !ok {
		return
	}

	var req updatePartyReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}

	p, err := h.party.Update(c.Request.Context(), id, memberID, party.UpdateRequest{
		Name:         req.Name,
		StartPlace:   req.StartPlace.toPlace(),
		EndPlace:     req.EndPlace.toPlace(),
		DepartureAt:  req.DepartureAt,
		Comment:      req.Comment,
		MaxCount:     req.MaxCount,
		Options:      req.Options.toOptions(),
		Notification: req.Notification,
	})
	if err != nil {
		writePartyError(c, err)
		return
	}
	c.JSON(http.StatusOK, toPartyResponse(p))
}

func (h *PartyHandler) Delete(c *gin.Context) {
	memberID, ok := middleware.MemberID(c)
	if !ok {
		writeError(c, http.StatusUnauthorized, "unauthenticated")
		return
	}
	id, ok := pathID(c)
	if !ok {
		return
	}
	if err := h.party.Delete(c.Request.Context(), id, memberID); err != nil {
		writePartyError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted_party_id": int64(id)})
}

func (h *PartyHandler) Join(c *gin.Context) {
	memberID, ok := middleware.MemberID(c)
	if !ok {
		writeError(c, http.StatusUnauthorized, "unauthenticated")
		return
	}
	id, ok := pathID(c)
	if !ok {
		return
	}
	p, err := h.party.Join(c.Request.Context(), id, memberID)
	if err != nil {
		writePartyError(c, err)
		return
	}
	c.JSON(http.StatusOK, toPartyResponse(p))
}

func (h *PartyHandler) Leave(c *gin.Context) {
	memberID, ok := middleware.MemberID(c)
	if !ok {
		writeError(c, http.StatusUnauthorized, "unauthenticated")
		return
	}
	id, ok := pathID(c)
	if !ok {
		return
	}
	p, err := h.party.Leave(c.Request.Context(), id, memberID)
	if err != nil {
		writePartyError(c, err)
		return
	}
	c.JSON(http.StatusOK, toPartyResponse(p))
}

func (h *PartyHandler) CalculateSavings(c *gin.Context) {
	memberID, ok := middleware.MemberID(c)
	if !ok {
		writeError(c, http.StatusUnauthorized, "unauthenticated")
		return
	}
	id, ok := pathID(c)
	if !ok {
		return
	}
	summary, err := h.party.CalculateSavings(c.Request.Context(), id, memberID)
	if err != nil {
		writePartyError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"party_id":          int64(summary.PartyID),
		"participants":      summary.Participants,
		"departure_time":    summary.DepartureTime,
		"origin":            gin.H{"lng": summary.Origin.Lng, "lat": summary.Origin.Lat},
		"destination":       gin.H{"lng": summary.Destination.Lng, "lat": summary.Destination.Lat},
		"total_taxi_fare":   summary.TotalFare,
		"each_share":        summary.EachShare,
		"saving_per_member": summary.SavingPerMember,
	})
}

func pathID(c *gin.Context) (types.ID, bool) {
	raw := c.Param("id")
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || n <= 0 {
		writeError(c, http.StatusBadRequest, "invalid party id")
		return 0, false
	}
	return types.ID(n), true
}

func pagination(c *gin.Context) (page, size int) {
	page, _ = strconv.Atoi(c.DefaultQuery("page", "0"))
	size, _ = strconv.Atoi(c.DefaultQuery("size", "10"))
	if page < 0 {
		page = 0
	}
	if size < 1 || size > 50 {
		size = 10
	}
	return page, size
}

func queryFloat(c *gin.Context, key string, parseErr *bool) *float64 {
	raw, ok := c.GetQuery(key)
	if !ok {
		return nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		*parseErr = true
		return nil
	}
	return &v
}

func queryTime(c *gin.Context, key string, parseErr *bool) *time.Time {
	raw, ok := c.GetQuery(key)
	if !ok {
		return nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		*parseErr = true
		return nil
	}
	return &t
}
