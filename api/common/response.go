package common

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"terrain/api/codes"
)

type Response struct {
	Timestamp int64  `json:"timestamp"`
	Code      int    `json:"code"`
	Msg       string `json:"msg"`
	Data      any    `json:"data,omitempty"`
}

func NewResponse() Response {
	return Response{Timestamp: time.Now().Unix(), Code: codes.CODE_SUCCESS, Msg: "success"}
}

// Fail writes res with the given code. The HTTP status stays 200, clients
// read the outcome from Code.
func Fail(c *gin.Context, res Response, code int, msg string) {
	res.Code = code
	res.Msg = msg
	c.JSON(http.StatusOK, res)
}
