package security

import (
	"context"
	"net/http"

	"github.com/neoforge-dev/synapse-gateway/middleware/security/domain"
)

// User é o objeto de usuário já autenticado anexado pela camada de
// autenticação externa. Este pacote não autentica nada: apenas consome
// {id, tier} para aplicar o teto por plano.
type User struct {
	ID   string
	Tier domain.Tier
}

type userCtxKey struct{}

// WithUser devolve um contexto carregando o usuário autenticado.
func WithUser(ctx context.Context, u User) context.Context {
	return context.WithValue(ctx, userCtxKey{}, u)
}

// UserFrom extrai o usuário autenticado do contexto, se houver.
func UserFrom(ctx context.Context) (User, bool) {
	u, ok := ctx.Value(userCtxKey{}).(User)
	return u, ok
}

// RequestWithUser é o atalho para testes e para adapters de autenticação.
func RequestWithUser(r *http.Request, u User) *http.Request {
	return r.WithContext(WithUser(r.Context(), u))
}
