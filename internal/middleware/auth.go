// Package middleware содержит HTTP middleware сервиса биллинга.
package middleware

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
)

type contextKey string

const principalKey contextKey = "principal"

const (
	authCookieName = "auth_token"
	authCookieTTL  = 30 * 24 * time.Hour
)

// Role роль аутентифицированного пользователя.
type Role string

const (
	RoleMember Role = "member"
	RoleStaff  Role = "staff"
)

// Principal аутентифицированный пользователь: участник клуба или сотрудник.
type Principal struct {
	Role Role
	ID   uuid.UUID
}

// IsStaff сообщает, что запрос выполняет сотрудник.
func (p Principal) IsStaff() bool {
	return p.Role == RoleStaff
}

// CanAccess сообщает, может ли пользователь работать с данными участника memberID.
func (p Principal) CanAccess(memberID uuid.UUID) bool {
	return p.IsStaff() || (p.Role == RoleMember && p.ID == memberID)
}

func (p Principal) String() string {
	return string(p.Role) + ":" + p.ID.String()
}

// AuthMiddleware выполняет проверку аутентификации по подписанному cookie.
type AuthMiddleware struct {
	secretKey []byte
}

// NewAuthMiddleware создаёт новый экземпляр AuthMiddleware с указанным секретным ключом.
// Пустой ключ заменяется случайным: cookie перестают действовать после перезапуска.
func NewAuthMiddleware(secret string) *AuthMiddleware {
	key := []byte(secret)
	if len(key) == 0 {
		randomKey := make([]byte, 32)
		if _, err := rand.Read(randomKey); err == nil {
			key = randomKey
		} else {
			key = []byte("default-secret-key")
		}
	}

	return &AuthMiddleware{
		secretKey: key,
	}
}

// Middleware проверяет cookie авторизации и добавляет пользователя в контекст запроса.
func (a *AuthMiddleware) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cookie, err := r.Cookie(authCookieName)
		if err != nil {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}

		p, ok := a.parseCookie(cookie.Value)
		if !ok {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), p)))
	})
}

// Optional добавляет пользователя в контекст, если запрос несёт действительный cookie,
// и пропускает анонимные запросы без изменений.
func (a *AuthMiddleware) Optional(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if cookie, err := r.Cookie(authCookieName); err == nil {
			if p, ok := a.parseCookie(cookie.Value); ok {
				r = r.WithContext(WithPrincipal(r.Context(), p))
			}
		}
		next.ServeHTTP(w, r)
	})
}

// RequireStaff пропускает только запросы сотрудников. Используется после Middleware.
func RequireStaff(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, ok := PrincipalFromContext(r.Context())
		if !ok {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}
		if !p.IsStaff() {
			http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// SetAuthCookie устанавливает cookie авторизации для пользователя.
func (a *AuthMiddleware) SetAuthCookie(w http.ResponseWriter, p Principal) {
	cookie := &http.Cookie{
		Name:     authCookieName,
		Value:    a.sign(p.String()),
		Path:     "/",
		Expires:  time.Now().Add(authCookieTTL),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	}

	http.SetCookie(w, cookie)
}

func (a *AuthMiddleware) sign(value string) string {
	mac := hmac.New(sha256.New, a.secretKey)
	mac.Write([]byte(value))
	return value + "." + hex.EncodeToString(mac.Sum(nil))
}

func (a *AuthMiddleware) parseCookie(cookieValue string) (Principal, bool) {
	i := strings.LastIndexByte(cookieValue, '.')
	if i < 0 {
		return Principal{}, false
	}
	value, signature := cookieValue[:i], cookieValue[i+1:]

	expected := a.sign(value)
	if !hmac.Equal([]byte(signature), []byte(expected[i+1:])) {
		return Principal{}, false
	}

	role, id, ok := strings.Cut(value, ":")
	if !ok {
		return Principal{}, false
	}
	switch Role(role) {
	case RoleMember, RoleStaff:
	default:
		return Principal{}, false
	}
	uid, err := uuid.Parse(id)
	if err != nil {
		return Principal{}, false
	}

	return Principal{Role: Role(role), ID: uid}, true
}

// WithPrincipal добавляет пользователя в контекст.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey, p)
}

// PrincipalFromContext извлекает пользователя из контекста запроса.
func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey).(Principal)
	return p, ok
}
