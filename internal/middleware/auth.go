package middleware

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-redis/redis/v8"
	"github.com/golang-jwt/jwt/v5"
	"github.com/spf13/viper"
	"github.com/transitpay/backoffice/internal/logger"
)

type contextKey string

const (
	operatorIDKey   contextKey = "operatorID"
	operatorRoleKey contextKey = "operatorRole"
)

const (
	RoleOperator = "operator"
	RoleAdmin    = "admin"
)

var redisClient *redis.Client

// InitAuthMiddleware enables the token blacklist check. A nil client disables it.
func InitAuthMiddleware(client *redis.Client) {
	redisClient = client
}

// BlacklistKey is where logged-out tokens are parked until they expire.
func BlacklistKey(token string) string {
	return fmt.Sprintf("blacklist:%s", token)
}

// BearerToken extracts the token from an Authorization header value.
func BearerToken(header string) (string, bool) {
	parts := strings.Split(header, " ")
	if len(parts) != 2 || parts[0] != "Bearer" || parts[1] == "" {
		return "", false
	}
	return parts[1], true
}

func AuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		log := logger.FromContext(r.Context())

		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			http.Error(w, "Authorization header required", http.StatusUnauthorized)
			return
		}

		token, ok := BearerToken(authHeader)
		if !ok {
			http.Error(w, "Invalid authorization header format", http.StatusUnauthorized)
			return
		}

		if redisClient != nil {
			n, err := redisClient.Exists(r.Context(), BlacklistKey(token)).Result()
			if err != nil {
				log.Warn().Err(err).Msg("[AUTH] Blacklist lookup failed")
			} else if n > 0 {
				http.Error(w, "Token revoked", http.StatusUnauthorized)
				return
			}
		}

		operatorID, role, err := validateToken(token)
		if err != nil {
			log.Debug().Err(err).Msg("[AUTH] Token rejected")
			http.Error(w, "Invalid token", http.StatusUnauthorized)
			return
		}

		ctx := WithOperator(r.Context(), operatorID, role)
		ctx = logger.WithContext(ctx, log.With().Str("operator", operatorID).Logger())
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireRole lets through operators carrying one of the given roles.
func RequireRole(roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			role := OperatorRole(r.Context())
			for _, allowed := range roles {
				if role == allowed {
					next.ServeHTTP(w, r)
					return
				}
			}
			http.Error(w, "Forbidden", http.StatusForbidden)
		})
	}
}

// WithOperator stores the authenticated operator in the context.
func WithOperator(ctx context.Context, operatorID, role string) context.Context {
	ctx = context.WithValue(ctx, operatorIDKey, operatorID)
	return context.WithValue(ctx, operatorRoleKey, role)
}

func OperatorID(ctx context.Context) string {
	id, _ := ctx.Value(operatorIDKey).(string)
	return id
}

func OperatorRole(ctx context.Context) string {
	role, _ := ctx.Value(operatorRoleKey).(string)
	return role
}

func validateToken(tokenString string) (string, string, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		return []byte(viper.GetString("jwt.secret_key")), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		return "", "", err
	}
	if !token.Valid {
		return "", "", errors.New("token is not valid")
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", "", errors.New("unexpected claims type")
	}

	operatorID, _ := claims["operator_id"].(string)
	if operatorID == "" {
		return "", "", errors.New("missing operator_id claim")
	}
	role, _ := claims["role"].(string)
	if role == "" {
		role = RoleOperator
	}
	return operatorID, role, nil
}
