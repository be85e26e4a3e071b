package middleware

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

// AuthMiddleware authenticates the three caller kinds: merchants with JWT
// bearer tokens, internal services with the shared API key, and admins with
// either the admin key or an admin-role JWT.
type AuthMiddleware struct {
	jwtSecret   string
	issuer      string
	internalKey string
	adminKey    string
}

func NewAuthMiddleware(jwtSecret, issuer, internalKey, adminKey string) *AuthMiddleware {
	return &AuthMiddleware{
		jwtSecret:   jwtSecret,
		issuer:      issuer,
		internalKey: internalKey,
		adminKey:    adminKey,
	}
}

type Claims struct {
	UserID int64  `json:"user_id"`
	Role   string `json:"role"`
	jwt.RegisteredClaims
}

// JWTAuth validates the bearer token and puts the caller's identity on the
// request context.
func (a *AuthMiddleware) JWTAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, err := a.parseBearer(c)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			c.Abort()
			return
		}

		c.Set("user_id", claims.UserID)
		c.Set("role", claims.Role)
		c.Next()
	}
}

// InternalAPIAuth admits service-to-service calls carrying the internal key.
func (a *AuthMiddleware) InternalAPIAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		apiKey := c.GetHeader("X-API-Key")
		if apiKey == "" || apiKey != a.internalKey {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid or missing API key"})
			c.Abort()
			return
		}
		c.Set("is_internal", true)
		c.Set("service_name", c.GetHeader("X-Service-Name"))
		c.Next()
	}
}

// AdminAuth admits operators: the admin API key, or a JWT whose role is
// admin.
func (a *AuthMiddleware) AdminAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if apiKey := c.GetHeader("X-Admin-Key"); apiKey != "" && apiKey == a.adminKey {
			c.Set("is_admin", true)
			c.Set("admin_id", c.GetHeader("X-Admin-Id"))
			c.Next()
			return
		}

		claims, err := a.parseBearer(c)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			c.Abort()
			return
		}
		if claims.Role != "admin" {
			c.JSON(http.StatusForbidden, gin.H{"error": "admin access required"})
			c.Abort()
			return
		}

		c.Set("is_admin", true)
		c.Set("admin_id", strconv.FormatInt(claims.UserID, 10))
		c.Next()
	}
}

// ValidateUserAccess stops a merchant from reading another merchant's
// balances or transactions. Internal services and admins pass through.
func (a *AuthMiddleware) ValidateUserAccess() gin.HandlerFunc {
	return func(c *gin.Context) {
		if isInternal, ok := c.Get("is_internal"); ok && isInternal.(bool) {
			c.Next()
			return
		}
		if isAdmin, ok := c.Get("is_admin"); ok && isAdmin.(bool) {
			c.Next()
			return
		}

		tokenUserID, ok := c.Get("user_id")
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "user identity missing"})
			c.Abort()
			return
		}

		requestedUserID := c.Param("userId")
		if requestedUserID == "" {
			c.Next()
			return
		}
		if strconv.FormatInt(tokenUserID.(int64), 10) != requestedUserID {
			c.JSON(http.StatusForbidden, gin.H{"error": "cannot access another user's resources"})
			c.Abort()
			return
		}
		c.Next()
	}
}

func (a *AuthMiddleware) parseBearer(c *gin.Context) (*Claims, error) {
	authHeader := c.GetHeader("Authorization")
	if authHeader == "" {
		return nil, fmt.Errorf("authorization header required")
	}
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || parts[0] != "Bearer" {
		return nil, fmt.Errorf("authorization header must be 'Bearer <token>'")
	}

	token, err := jwt.ParseWithClaims(parts[1], &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(a.jwtSecret), nil
	})
	if err != nil {
		return nil, fmt.Errorf("invalid token: %w", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token claims")
	}
	return claims, nil
}

// GenerateJWT issues a token, used by the test helpers and internal tools.
func (a *AuthMiddleware) GenerateJWT(userID int64, role string, ttl time.Duration) (string, error) {
	claims := &Claims{
		UserID: userID,
		Role:   role,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			Issuer:    a.issuer,
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(a.jwtSecret))
}
