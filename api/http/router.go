package http

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"terrain/api/api/http/controller/home"
	"terrain/api/api/interceptor"
	"terrain/api/config"
	"terrain/api/log"
	"terrain/api/service"
)

// NewEngine builds the gin engine with CORS and the map routes.
func NewEngine(c config.ServerConfig) *gin.Engine {
	e := gin.New()
	e.Use(gin.Recovery())

	cc := cors.DefaultConfig()
	if len(c.AllowOrigins) == 0 || (len(c.AllowOrigins) == 1 && c.AllowOrigins[0] == "*") {
		cc.AllowAllOrigins = true
	} else {
		cc.AllowOrigins = c.AllowOrigins
	}
	cc.AddAllowHeaders("Authorization")
	e.Use(cors.New(cc))

	Routers(e.Group("/"), []byte(c.JWTSecret))
	return e
}

func Routers(e *gin.RouterGroup, secret []byte) {

	mapGroup := e.Group("/map")
	mapGroup.GET("info", home.Info)
	mapGroup.GET("tiles", home.Tiles)
	mapGroup.GET("tiles/:x/:z", home.TileDetail)
	mapGroup.GET("minimap/:x/:z", home.Minimap)
	mapGroup.GET("events", home.Events)

	editGroup := e.Group("/map")
	if len(secret) > 0 {
		editGroup.Use(interceptor.TokenInterceptor(secret))
	} else {
		log.Warn("server.jwt_secret is empty, editing routes are open")
	}

	editGroup.POST("enter", home.Enter)
	editGroup.POST("tiles/:x/:z/load", home.TileAction((*service.Session).LoadTile))
	editGroup.POST("tiles/:x/:z/reload", home.TileAction((*service.Session).ReloadTile))
	editGroup.POST("tiles/:x/:z/unload", home.TileAction((*service.Session).UnloadTile))
	editGroup.POST("tiles/:x/:z/save", home.TileAction((*service.Session).SaveTile))
	editGroup.POST("tiles/:x/:z/changed", home.TileAction((*service.Session).SetChanged))

	editGroup.POST("save", home.SaveChanged)
	editGroup.POST("saveall", home.SaveAll)
	editGroup.POST("guid", home.NewGUID)
	editGroup.POST("uid/search", home.SearchUID)
	editGroup.POST("uid/fix", home.FixUIDs)
	editGroup.POST("alphamap", home.Alphamap)
	editGroup.POST("flag", home.Flag)
}
