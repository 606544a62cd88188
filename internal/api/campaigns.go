package api

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/0xredeth/doneth/internal/store"
	models "github.com/0xredeth/doneth/pkg/store"
)

// orderParams maps the order query value to a store column.
var orderParams = map[string]string{
	"total":   "total_contributions",
	"created": "created_at",
}

// campaignView is a campaign plus fields derived at request time.
type campaignView struct {
	models.Campaign
	Active bool `json:"active"`
}

type statusView struct {
	Indexer       string      `json:"indexer"`
	Network       string      `json:"network"`
	ChainID       uint64      `json:"chainId"`
	LastBlock     uint64      `json:"lastBlock"`
	LastBlockHash string      `json:"lastBlockHash,omitempty"`
	Stats         store.Stats `json:"stats"`
}

type contributorView struct {
	*models.Contributor
	Pledges []models.Pledge `json:"pledges"`
}

// addressParam reads and checksums an address path parameter. It writes a
// 400 and returns false when the value is not an address.
func addressParam(c *gin.Context, name string) (string, bool) {
	return parseAddress(c, c.Param(name))
}

func parseAddress(c *gin.Context, raw string) (string, bool) {
	if !common.IsHexAddress(raw) {
		ErrorResponse(c, http.StatusBadRequest, "invalid address: "+raw)
		return "", false
	}
	return common.HexToAddress(raw).Hex(), true
}

// pageParams reads limit and offset. It writes a 400 and returns false on
// malformed values.
func pageParams(c *gin.Context) (store.Page, bool) {
	var p store.Page
	for _, f := range []struct {
		name string
		dst  *int
	}{
		{"limit", &p.Limit},
		{"offset", &p.Offset},
	} {
		raw := c.Query(f.name)
		if raw == "" {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			ErrorResponse(c, http.StatusBadRequest, "invalid "+f.name+": "+raw)
			return p, false
		}
		*f.dst = n
	}
	return p, true
}

// effectivePage mirrors the store's limit clamping for the response.
func effectivePage(p store.Page) store.Page {
	if p.Limit <= 0 {
		p.Limit = store.DefaultLimit
	}
	if p.Limit > store.MaxLimit {
		p.Limit = store.MaxLimit
	}
	return p
}

func internalError(c *gin.Context, err error) {
	log.Error().Err(err).Str("path", c.FullPath()).Msg("request failed")
	ErrorResponse(c, http.StatusInternalServerError, "internal error")
}

func (s *Server) view(camp models.Campaign) campaignView {
	return campaignView{Campaign: camp, Active: camp.Active(uint64(s.now().Unix()))}
}

func (s *Server) views(camps []models.Campaign) []campaignView {
	out := make([]campaignView, 0, len(camps))
	for _, camp := range camps {
		out = append(out, s.view(camp))
	}
	return out
}

func (s *Server) getStatus(c *gin.Context) {
	ctx := c.Request.Context()

	view := statusView{
		Indexer: s.indexer,
		Network: s.network,
		ChainID: s.chainID,
	}
	st, err := s.store.GetSyncStatus(ctx, s.indexer)
	if err != nil {
		internalError(c, err)
		return
	}
	if st != nil {
		view.LastBlock = st.LastBlockNumber
		view.LastBlockHash = st.LastBlockHash
	}
	if view.Stats, err = s.store.GetStats(ctx); err != nil {
		internalError(c, err)
		return
	}

	SuccessResponse(c, http.StatusOK, "ok", view)
}

// listCampaigns serves
// GET /campaigns?active=&order=total|created&dir=asc|desc&beneficiary=&limit=&offset=
func (s *Server) listCampaigns(c *gin.Context) {
	page, ok := pageParams(c)
	if !ok {
		return
	}

	q := store.CampaignQuery{Limit: page.Limit, Offset: page.Offset}

	if raw := c.Query("active"); raw != "" {
		active, err := strconv.ParseBool(raw)
		if err != nil {
			ErrorResponse(c, http.StatusBadRequest, "invalid active: "+raw)
			return
		}
		if active {
			now := uint64(s.now().Unix())
			q.ActiveAt = &now
		}
	}

	if raw := c.Query("order"); raw != "" {
		column, ok := orderParams[raw]
		if !ok {
			ErrorResponse(c, http.StatusBadRequest, "invalid order: "+raw)
			return
		}
		q.OrderBy = column
	}

	switch dir := strings.ToLower(c.Query("dir")); dir {
	case "", "desc":
		q.OrderDir = "DESC"
	case "asc":
		q.OrderDir = "ASC"
	default:
		ErrorResponse(c, http.StatusBadRequest, "invalid dir: "+dir)
		return
	}

	if raw := c.Query("beneficiary"); raw != "" {
		addr, ok := parseAddress(c, raw)
		if !ok {
			return
		}
		q.Beneficiary = addr
	}

	camps, total, err := s.store.ListCampaigns(c.Request.Context(), q)
	if err != nil {
		internalError(c, err)
		return
	}

	p := effectivePage(page)
	SuccessResponse(c, http.StatusOK, "ok", PageData{
		Items:  s.views(camps),
		Total:  total,
		Limit:  p.Limit,
		Offset: p.Offset,
	})
}

func (s *Server) getCampaign(c *gin.Context) {
	addr, ok := addressParam(c, "address")
	if !ok {
		return
	}

	camp, err := s.store.GetCampaign(c.Request.Context(), addr)
	if err != nil {
		internalError(c, err)
		return
	}
	if camp == nil {
		ErrorResponse(c, http.StatusNotFound, "campaign not found")
		return
	}

	SuccessResponse(c, http.StatusOK, "ok", s.view(*camp))
}

func (s *Server) getCampaignContributions(c *gin.Context) {
	addr, ok := addressParam(c, "address")
	if !ok {
		return
	}
	page, ok := pageParams(c)
	if !ok {
		return
	}

	ctx := c.Request.Context()
	camp, err := s.store.GetCampaign(ctx, addr)
	if err != nil {
		internalError(c, err)
		return
	}
	if camp == nil {
		ErrorResponse(c, http.StatusNotFound, "campaign not found")
		return
	}

	rows, total, err := s.store.ContributionsByCampaign(ctx, addr, page)
	if err != nil {
		internalError(c, err)
		return
	}

	p := effectivePage(page)
	SuccessResponse(c, http.StatusOK, "ok", PageData{Items: rows, Total: total, Limit: p.Limit, Offset: p.Offset})
}

// getCampaignEvents lists the archived logs emitted by a campaign.
func (s *Server) getCampaignEvents(c *gin.Context) {
	addr, ok := addressParam(c, "address")
	if !ok {
		return
	}
	page, ok := pageParams(c)
	if !ok {
		return
	}

	q := store.EventQuery{ContractAddr: addr, EventName: c.Query("event"), Page: page}
	if raw := c.Query("from_block"); raw != "" {
		from, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			ErrorResponse(c, http.StatusBadRequest, "invalid from_block: "+raw)
			return
		}
		q.FromBlock = &from
	}

	rows, total, err := s.store.QueryEvents(c.Request.Context(), q)
	if err != nil {
		internalError(c, err)
		return
	}

	p := effectivePage(page)
	SuccessResponse(c, http.StatusOK, "ok", PageData{Items: rows, Total: total, Limit: p.Limit, Offset: p.Offset})
}

func (s *Server) getContributor(c *gin.Context) {
	addr, ok := addressParam(c, "address")
	if !ok {
		return
	}

	ctx := c.Request.Context()
	contributor, err := s.store.GetContributor(ctx, addr)
	if err != nil {
		internalError(c, err)
		return
	}
	if contributor == nil {
		ErrorResponse(c, http.StatusNotFound, "contributor not found")
		return
	}

	pledges, err := s.store.PledgesByContributor(ctx, addr)
	if err != nil {
		internalError(c, err)
		return
	}

	SuccessResponse(c, http.StatusOK, "ok", contributorView{Contributor: contributor, Pledges: pledges})
}

func (s *Server) getContributorContributions(c *gin.Context) {
	addr, ok := addressParam(c, "address")
	if !ok {
		return
	}
	s.contributionsOf(c, addr)
}

// contributionsOf writes a page of contributions made by addr. Unknown
// contributors get an empty page.
func (s *Server) contributionsOf(c *gin.Context, addr string) {
	page, ok := pageParams(c)
	if !ok {
		return
	}

	rows, total, err := s.store.ContributionsByContributor(c.Request.Context(), addr, page)
	if err != nil {
		internalError(c, err)
		return
	}

	p := effectivePage(page)
	SuccessResponse(c, http.StatusOK, "ok", PageData{Items: rows, Total: total, Limit: p.Limit, Offset: p.Offset})
}

func (s *Server) myCampaigns(c *gin.Context) {
	sess := currentSession(c)
	page, ok := pageParams(c)
	if !ok {
		return
	}

	camps, total, err := s.store.ListCampaigns(c.Request.Context(), store.CampaignQuery{
		Beneficiary: sess.Actor(),
		OrderBy:     "created_at",
		OrderDir:    "DESC",
		Limit:       page.Limit,
		Offset:      page.Offset,
	})
	if err != nil {
		internalError(c, err)
		return
	}

	p := effectivePage(page)
	SuccessResponse(c, http.StatusOK, "ok", PageData{Items: s.views(camps), Total: total, Limit: p.Limit, Offset: p.Offset})
}

func (s *Server) myContributions(c *gin.Context) {
	s.contributionsOf(c, currentSession(c).Actor())
}
