package home

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"terrain/api/api/common"
	"terrain/api/codes"
	"terrain/api/log"
	"terrain/api/mapindex"
	"terrain/api/model"
	"terrain/api/service"
	"terrain/api/uid"
)

// ---------- request bodies ----------

type EnterReq struct {
	X        *int        `json:"x"`
	Z        *int        `json:"z"`
	Position *model.Vec3 `json:"position"`
	Radius   float32     `json:"radius"`
}

type AlphamapReq struct {
	Big bool `json:"big"`
}

type FlagReq struct {
	Enable   bool       `json:"enable"`
	Position model.Vec3 `json:"position"`
	Flag     uint32     `json:"flag" binding:"required"`
}

type EnterResp struct {
	Cursor  model.TileIndex   `json:"cursor"`
	Evicted []model.TileIndex `json:"evicted"`
}

// ---------- helpers ----------

func session(c *gin.Context, res common.Response) (*service.Session, bool) {
	s, err := service.Current()
	if err != nil {
		common.Fail(c, res, codes.CODE_ERR_UNKNOWN, err.Error())
		return nil, false
	}
	return s, true
}

func tileParam(c *gin.Context, res common.Response) (model.TileIndex, bool) {
	x, errX := strconv.Atoi(c.Param("x"))
	z, errZ := strconv.Atoi(c.Param("z"))
	idx := model.TileIndex{X: x, Z: z}
	if errX != nil || errZ != nil || !idx.Valid() {
		common.Fail(c, res, codes.CODE_ERR_BAD_PARAMS, "tile coordinates must be integers in [0, 64)")
		return idx, false
	}
	return idx, true
}

// failErr maps index errors onto response codes. Partial results stay in
// res.Data.
func failErr(c *gin.Context, res common.Response, err error) {
	var (
		conflict *mapindex.EvictionConflictError
		saveErr  *mapindex.SaveError
		addr     *model.AddressError
	)
	code := codes.CODE_ERR_UNKNOWN
	switch {
	case errors.As(err, &conflict):
		code = codes.CODE_ERR_CONFLICT
	case errors.As(err, &saveErr):
		code = codes.CODE_ERR_PARTIAL
		if res.Data == nil {
			res.Data = gin.H{"failed": saveErr.Failed}
		}
	case errors.As(err, &addr):
		code = codes.CODE_ERR_BAD_PARAMS
	case errors.Is(err, uid.ErrAllocatorUnavailable):
		code = codes.CODE_ERR_UNAVAILABLE
	}
	log.Error(c.Request.Method, " ", c.FullPath(), ": ", err)
	common.Fail(c, res, code, err.Error())
}

// ---------- Gin Handler ----------

// GET /map/info
func Info(c *gin.Context) {
	res := common.NewResponse()
	s, ok := session(c, res)
	if !ok {
		return
	}
	res.Data = s.Info()
	c.JSON(http.StatusOK, res)
}

// GET /map/tiles
func Tiles(c *gin.Context) {
	res := common.NewResponse()
	s, ok := session(c, res)
	if !ok {
		return
	}
	res.Data = s.LoadedTiles()
	c.JSON(http.StatusOK, res)
}

// GET /map/tiles/:x/:z
func TileDetail(c *gin.Context) {
	res := common.NewResponse()
	s, ok := session(c, res)
	if !ok {
		return
	}
	idx, ok := tileParam(c, res)
	if !ok {
		return
	}
	res.Data = s.TileStatus(idx)
	c.JSON(http.StatusOK, res)
}

// GET /map/minimap/:x/:z
func Minimap(c *gin.Context) {
	res := common.NewResponse()
	s, ok := session(c, res)
	if !ok {
		return
	}
	idx, ok := tileParam(c, res)
	if !ok {
		return
	}
	mm, found := s.Minimap(idx)
	if !found {
		common.Fail(c, res, codes.CODE_ERR_OBJ_NOT_FOUND, "no preview for tile "+idx.String())
		return
	}
	res.Data = mm
	c.JSON(http.StatusOK, res)
}

// POST /map/enter
// Body: {"x":..,"z":..} or {"position":{..},"radius":..}
func Enter(c *gin.Context) {
	res := common.NewResponse()
	s, ok := session(c, res)
	if !ok {
		return
	}
	var req EnterReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, res, codes.CODE_ERR_REQFORMAT, "invalid json body: "+err.Error())
		return
	}

	var (
		evicted []model.TileIndex
		err     error
	)
	switch {
	case req.Position != nil:
		evicted, err = s.EnterPosition(*req.Position, req.Radius)
	case req.X != nil && req.Z != nil:
		idx := model.TileIndex{X: *req.X, Z: *req.Z}
		if !idx.Valid() {
			common.Fail(c, res, codes.CODE_ERR_BAD_PARAMS, "tile coordinates out of range")
			return
		}
		evicted, err = s.Enter(idx)
	default:
		common.Fail(c, res, codes.CODE_ERR_BAD_PARAMS, "x/z or position is required")
		return
	}
	res.Data = EnterResp{Cursor: s.Info().Cursor, Evicted: evicted}
	if err != nil {
		failErr(c, res, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// TileAction serves POST /map/tiles/:x/:z/<action>.
func TileAction(action func(*service.Session, model.TileIndex) (service.TileStatus, error)) gin.HandlerFunc {
	return func(c *gin.Context) {
		res := common.NewResponse()
		s, ok := session(c, res)
		if !ok {
			return
		}
		idx, ok := tileParam(c, res)
		if !ok {
			return
		}
		st, err := action(s, idx)
		res.Data = st
		if err != nil {
			failErr(c, res, err)
			return
		}
		c.JSON(http.StatusOK, res)
	}
}

// POST /map/save
func SaveChanged(c *gin.Context) {
	res := common.NewResponse()
	s, ok := session(c, res)
	if !ok {
		return
	}
	if err := s.SaveChanged(); err != nil {
		failErr(c, res, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// POST /map/saveall
func SaveAll(c *gin.Context) {
	res := common.NewResponse()
	s, ok := session(c, res)
	if !ok {
		return
	}
	if err := s.SaveAll(); err != nil {
		failErr(c, res, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// POST /map/guid
func NewGUID(c *gin.Context) {
	res := common.NewResponse()
	s, ok := session(c, res)
	if !ok {
		return
	}
	id, err := s.NewGUID(c.Request.Context())
	if err != nil {
		failErr(c, res, err)
		return
	}
	res.Data = gin.H{"uid": id}
	c.JSON(http.StatusOK, res)
}

// POST /map/uid/search
func SearchUID(c *gin.Context) {
	res := common.NewResponse()
	s, ok := session(c, res)
	if !ok {
		return
	}
	next, err := s.SearchMaxUID(c.Request.Context())
	if err != nil {
		failErr(c, res, err)
		return
	}
	res.Data = gin.H{"nextUid": next}
	c.JSON(http.StatusOK, res)
}

// POST /map/uid/fix
func FixUIDs(c *gin.Context) {
	res := common.NewResponse()
	s, ok := session(c, res)
	if !ok {
		return
	}
	report, err := s.FixUIDs(c.Request.Context())
	if report != nil {
		res.Data = report
	}
	if err != nil {
		failErr(c, res, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// POST /map/alphamap
func Alphamap(c *gin.Context) {
	res := common.NewResponse()
	s, ok := session(c, res)
	if !ok {
		return
	}
	var req AlphamapReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, res, codes.CODE_ERR_REQFORMAT, "invalid json body: "+err.Error())
		return
	}
	if err := s.ConvertAlphamap(req.Big); err != nil {
		failErr(c, res, err)
		return
	}
	res.Data = gin.H{"bigAlpha": req.Big}
	c.JSON(http.StatusOK, res)
}

// POST /map/flag
func Flag(c *gin.Context) {
	res := common.NewResponse()
	s, ok := session(c, res)
	if !ok {
		return
	}
	var req FlagReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, res, codes.CODE_ERR_REQFORMAT, "invalid json body: "+err.Error())
		return
	}
	st, err := s.SetFlag(req.Enable, req.Position, req.Flag)
	res.Data = st
	if err != nil {
		failErr(c, res, err)
		return
	}
	c.JSON(http.StatusOK, res)
}
