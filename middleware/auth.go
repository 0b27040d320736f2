package middleware

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"github.com/AlirezaZareeiD/hamfounder-sub000/config"
	"github.com/AlirezaZareeiD/hamfounder-sub000/model"
	"github.com/AlirezaZareeiD/hamfounder-sub000/pkg/logger"
)

// Claims represents the JWT claims carried by an identity token. The
// display name and avatar are denormalized into the token so project
// writes can snapshot owner info without a user lookup.
type Claims struct {
	DisplayName string `json:"displayName"`
	AvatarURL   string `json:"avatarUrl"`
	jwt.RegisteredClaims
}

// GenerateToken generates a new JWT token for a user
func GenerateToken(user *config.User, cfg *config.AuthConfig) (string, time.Time, error) {
	expiresAt := time.Now().Add(time.Duration(cfg.TokenExpireHours) * time.Hour)

	claims := Claims{
		DisplayName: user.DisplayName,
		AvatarURL:   user.AvatarURL,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID,
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString([]byte(cfg.JWTSecret))
	if err != nil {
		return "", time.Time{}, err
	}

	return tokenString, expiresAt, nil
}

// AuthMiddleware validates the JWT token and resolves the current user
func AuthMiddleware(cfg *config.AuthConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Authorization header required"})
			c.Abort()
			return
		}

		// Extract token from "Bearer <token>"
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid authorization header format"})
			c.Abort()
			return
		}

		tokenString := parts[1]

		claims := &Claims{}
		token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
			return []byte(cfg.JWTSecret), nil
		})

		if err != nil || !token.Valid || claims.Subject == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid or expired token"})
			c.Abort()
			return
		}

		user := model.UserRef{
			ID:          claims.Subject,
			DisplayName: claims.DisplayName,
			AvatarURL:   claims.AvatarURL,
		}
		c.Set("user", user)

		// Add to request context for logger
		ctx := context.WithValue(c.Request.Context(), logger.UserIDKey, user.ID)
		c.Request = c.Request.WithContext(ctx)

		c.Next()
	}
}

// CurrentUser gets the authenticated user from the gin context. The
// zero UserRef is returned on unauthenticated requests.
func CurrentUser(c *gin.Context) model.UserRef {
	if u, exists := c.Get("user"); exists {
		if user, ok := u.(model.UserRef); ok {
			return user
		}
	}
	return model.UserRef{}
}
