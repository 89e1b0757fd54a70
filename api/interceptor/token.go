package interceptor

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"terrain/api/api/common"
	"terrain/api/codes"
	"terrain/api/log"
)

func makeFaileRes(c *gin.Context, code int, msg string) {
	res := common.NewResponse()
	res.Code = code
	res.Msg = msg
	c.AbortWithStatusJSON(http.StatusUnauthorized, res)
}

// TokenInterceptor accepts HS256 bearer tokens signed with secret and puts
// the subject into the context as "editor".
func TokenInterceptor(secret []byte) gin.HandlerFunc {
	return func(c *gin.Context) {
		ah := c.GetHeader("Authorization")
		if !strings.HasPrefix(ah, "Bearer ") {
			makeFaileRes(c, codes.CODE_ERR_SECURITY, "missing bearer token")
			return
		}
		tokenStr := strings.TrimSpace(strings.TrimPrefix(ah, "Bearer "))

		tok, err := jwt.Parse(tokenStr, func(token *jwt.Token) (interface{}, error) {
			if token.Method.Alg() != jwt.SigningMethodHS256.Alg() {
				return nil, jwt.ErrTokenUnverifiable
			}
			return secret, nil
		}, jwt.WithExpirationRequired())
		if err != nil || !tok.Valid {
			log.Info("token check failed: ", err)
			makeFaileRes(c, codes.CODE_ERR_SECURITY, "token check failed")
			return
		}

		sub, err := tok.Claims.GetSubject()
		if err != nil || sub == "" {
			makeFaileRes(c, codes.CODE_ERR_SECURITY, "token has no subject")
			return
		}
		c.Set("editor", sub)
		c.Next()
	}
}

// IssueToken signs an editor token valid for ttl.
func IssueToken(secret []byte, editor string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   editor,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}
