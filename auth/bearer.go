package auth

import (
	"fmt"
	"strings"

	"github.com/gin-gonic/gin"
)

const (
	BearerAuthName = "bearer"
	bearerPrefix   = "Bearer "
)

func init() {
	register(&bearerAuth{})
}

type bearerAuth struct {
}

func (b *bearerAuth) Name() string {
	return BearerAuthName
}

func (b *bearerAuth) IsMatchAuthType(ctx *gin.Context) bool {
	return strings.HasPrefix(ctx.GetHeader("Authorization"), bearerPrefix)
}

func (b *bearerAuth) Auth(ctx *gin.Context, fn TokenQueryFunc) (string, error) {
	token := strings.TrimSpace(strings.TrimPrefix(ctx.GetHeader("Authorization"), bearerPrefix))
	if len(token) == 0 {
		return "", fmt.Errorf("empty token")
	}
	user, ok, err := fn(ctx, token)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", fmt.Errorf("token not match")
	}
	return user, nil
}
