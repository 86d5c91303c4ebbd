package server

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"

	apperrors "ibkr-dashboard/internal/errors"
	"ibkr-dashboard/internal/logging"
	"ibkr-dashboard/internal/models"
	"ibkr-dashboard/internal/staging"
	"ibkr-dashboard/internal/watchlist"
)

type createWatchlistRequest struct {
	Name string `json:"name" form:"watchlist_name"`
}

type addInstrumentRequest struct {
	Symbol      string       `json:"symbol" form:"symbol"`
	Conid       models.Conid `json:"conid" form:"conid"`
	CompanyName string       `json:"company_name" form:"company_name"`
	Description string       `json:"description" form:"description"`
}

type confirmRequest struct {
	Selected []models.Conid `json:"selected_symbols"`
}

// listWatchlists handles GET /api/watchlists
// Query params: sort_by, price_min, price_max, change_min, change_max
func (s *Server) listWatchlists(c *gin.Context) {
	opts, err := watchlist.ParseListOptions(c.Query)
	if err != nil {
		writeError(c, err)
		return
	}

	lists, err := s.watchlists.List(c.Request.Context(), opts)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"watchlists": lists,
		"count":      len(lists),
	})
}

// createWatchlist handles POST /api/watchlists
func (s *Server) createWatchlist(c *gin.Context) {
	var req createWatchlistRequest
	if err := c.ShouldBind(&req); err != nil {
		badRequest(c, "name", err.Error())
		return
	}

	name := strings.TrimSpace(req.Name)
	if err := s.watchlists.Create(c.Request.Context(), name); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"name": name})
}

// getWatchlist handles GET /api/watchlists/:name
func (s *Server) getWatchlist(c *gin.Context) {
	opts, err := watchlist.ParseListOptions(c.Query)
	if err != nil {
		writeError(c, err)
		return
	}

	w, err := s.watchlists.Get(c.Request.Context(), c.Param("name"), opts)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, w)
}

// deleteWatchlist handles DELETE /api/watchlists/:name
func (s *Server) deleteWatchlist(c *gin.Context) {
	if err := s.watchlists.Delete(c.Request.Context(), c.Param("name")); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// searchForWatchlist handles GET /api/watchlists/:name/search?symbol=
func (s *Server) searchForWatchlist(c *gin.Context) {
	ctx := c.Request.Context()
	name := c.Param("name")

	symbol := strings.TrimSpace(c.Query("symbol"))
	if symbol == "" {
		badRequest(c, "symbol", "symbol is required")
		return
	}
	ok, err := s.watchlists.Exists(ctx, name)
	if err != nil {
		writeError(c, err)
		return
	}
	if !ok {
		writeError(c, apperrors.ErrWatchlistNotFound)
		return
	}

	results, err := s.gateway.Search(ctx, symbol)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"watchlist": name,
		"symbol":    symbol,
		"results":   results,
	})
}

// addInstrument handles POST /api/watchlists/:name/instruments
func (s *Server) addInstrument(c *gin.Context) {
	var req addInstrumentRequest
	if err := c.ShouldBind(&req); err != nil {
		badRequest(c, "instrument", err.Error())
		return
	}

	inst := models.Instrument{
		Symbol:      strings.ToUpper(strings.TrimSpace(req.Symbol)),
		Conid:       models.Conid(strings.TrimSpace(req.Conid.String())),
		CompanyName: req.CompanyName,
		Description: req.Description,
	}
	added, err := s.watchlists.Add(c.Request.Context(), c.Param("name"), inst)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"added": added})
}

// removeInstrument handles DELETE /api/watchlists/:name/instruments/:conid
func (s *Server) removeInstrument(c *gin.Context) {
	removed, err := s.watchlists.Remove(c.Request.Context(), c.Param("name"), models.Conid(c.Param("conid")))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"removed": removed})
}

// upload handles POST /api/watchlists/:name/upload
// Expects a multipart form with the CSV in field "file".
func (s *Server) upload(c *gin.Context) {
	ctx := c.Request.Context()
	name := c.Param("name")
	logger := logging.WithWatchlist(logging.FromContext(ctx), name)

	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, s.maxUpload)
	file, header, err := c.Request.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			badRequest(c, "file", staging.MsgTooLarge)
			return
		}
		badRequest(c, "file", staging.MsgNoFile)
		return
	}
	defer file.Close()

	content, err := io.ReadAll(file)
	if err != nil {
		writeError(c, err)
		return
	}

	text, err := staging.ValidateUpload(header.Filename, content)
	if err != nil {
		writeError(c, err)
		return
	}

	batch, err := s.staging.Stage(ctx, sessionID(c), name, text)
	if err != nil {
		if batch != nil && apperrors.IsValidation(err) {
			logger.Warn().Int("failed", len(batch.Failed)).Msg("upload resolved no symbols")
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
				"error":          err.Error(),
				"failed_symbols": batch.Failed,
			})
			return
		}
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, batch)
}

// stage handles GET /api/watchlists/:name/stage
func (s *Server) stage(c *gin.Context) {
	batch, err := s.staging.Batch(c.Request.Context(), sessionID(c), c.Param("name"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, batch)
}

// confirmStage handles POST /api/watchlists/:name/stage/confirm
// Accepts the form list selected_symbols or a JSON body of the same name.
func (s *Server) confirmStage(c *gin.Context) {
	var selected []models.Conid
	if c.ContentType() == binding.MIMEJSON {
		var req confirmRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, "selected_symbols", err.Error())
			return
		}
		selected = req.Selected
	} else {
		for _, v := range c.PostFormArray("selected_symbols") {
			selected = append(selected, models.Conid(strings.TrimSpace(v)))
		}
	}

	res, err := s.staging.Confirm(c.Request.Context(), sessionID(c), c.Param("name"), selected)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// discardStage handles DELETE /api/watchlists/:name/stage
func (s *Server) discardStage(c *gin.Context) {
	if err := s.staging.Discard(c.Request.Context(), sessionID(c)); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
