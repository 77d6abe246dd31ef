package auth

import (
	"context"
	"fmt"

	"github.com/gin-gonic/gin"
)

// TokenQueryFunc resolves a credential into the user it belongs to.
type TokenQueryFunc func(ctx context.Context, token string) (string, bool, error)

func MapTokenMatch(ud map[string]string) TokenQueryFunc {
	return func(ctx context.Context, token string) (string, bool, error) {
		user, ok := ud[token]
		if !ok {
			return "", false, nil
		}
		return user, true, nil
	}
}

type IAuth interface {
	Name() string
	IsMatchAuthType(ctx *gin.Context) bool
	Auth(ctx *gin.Context, fn TokenQueryFunc) (string, error)
}

var mp = make(map[string]IAuth)

func register(fn IAuth) {
	mp[fn.Name()] = fn
}

func AuthList() []IAuth {
	rs := make([]IAuth, 0, len(mp))
	for _, v := range mp {
		rs = append(rs, v)
	}
	return rs
}

// Authenticate runs the first auth whose scheme matches the request.
func Authenticate(ctx *gin.Context, fn TokenQueryFunc) (string, error) {
	for _, item := range AuthList() {
		if !item.IsMatchAuthType(ctx) {
			continue
		}
		user, err := item.Auth(ctx, fn)
		if err != nil {
			return "", fmt.Errorf("auth by %s failed, err:%w", item.Name(), err)
		}
		return user, nil
	}
	return "", fmt.Errorf("no auth found")
}
