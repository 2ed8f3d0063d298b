package services

import (
	"context"
	cryptorand "crypto/rand"
	"crypto/subtle"
	"database/sql"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/go-redis/redis/v8"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/spf13/viper"
	"github.com/transitpay/backoffice/internal/logger"
	"github.com/transitpay/backoffice/internal/middleware"
	"github.com/transitpay/backoffice/internal/models"
	"golang.org/x/crypto/argon2"
)

type AuthService struct {
	db        *sql.DB
	redis     *redis.Client
	validator *validator.Validate
	now       func() time.Time
}

// LoginRequest represents the login request payload
// @Description Login request structure
type LoginRequest struct {
	Email    string `json:"email" validate:"required,email" example:"ops@example.com"` // Operator email
	Password string `json:"password" validate:"required,min=6" example:"password123"`  // Operator password
}

// RegisterRequest represents the operator registration payload
// @Description Operator registration structure
type RegisterRequest struct {
	Email    string `json:"email" validate:"required,email" example:"ops@example.com"`
	Password string `json:"password" validate:"required,min=8" example:"password123"`
	FullName string `json:"fullName" validate:"required,min=2" example:"Back Office"`
	Role     string `json:"role" validate:"omitempty,oneof=operator admin" example:"operator"`
}

// AuthResponse represents the authentication response
// @Description Authentication response structure
type AuthResponse struct {
	Token    string          `json:"token" example:"eyJhbGciOiJIUzI1NiIsInR5cCI6IkpXVCJ9..."` // JWT token
	Operator models.Operator `json:"operator"`
}

func NewAuthService(db *sql.DB, redisClient *redis.Client) *AuthService {
	return &AuthService{
		db:        db,
		redis:     redisClient,
		validator: validator.New(),
		now:       time.Now,
	}
}

func (s *AuthService) sendErrorResponse(w http.ResponseWriter, message string, statusCode int, validationErr error) {
	SendErrorResponse(w, message, statusCode, validationErr)
}

func (s *AuthService) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	log := logger.FromContext(r.Context())

	maxBytes := 1_048_576 // 1 MB
	r.Body = http.MaxBytesReader(w, r.Body, int64(maxBytes))

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(dst); err != nil {
		log.Warn().Err(err).Msg("[AUTH] Invalid request body")
		s.sendErrorResponse(w, "Invalid request", http.StatusBadRequest, nil)
		return false
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		log.Warn().Msg("[AUTH] Multiple JSON objects detected")
		s.sendErrorResponse(w, "Request body must only contain a single JSON object", http.StatusBadRequest, nil)
		return false
	}
	if err := s.validator.Struct(dst); err != nil {
		log.Warn().Err(err).Msg("[AUTH] Validation failed")
		s.sendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return false
	}
	return true
}

// Register creates a back-office operator
// @Summary Register an operator
// @Description Create a new back-office operator. Admin only.
// @Tags auth
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body RegisterRequest true "Registration request"
// @Success 201 {object} models.Operator "Operator created"
// @Failure 400 {object} ErrorResponse "Invalid request"
// @Failure 403 {string} string "Forbidden"
// @Failure 409 {object} ErrorResponse "Email already exists"
// @Failure 500 {object} ErrorResponse "Internal server error"
// @Router /auth/operators [post]
func (s *AuthService) Register(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())
	log.Info().Str("ip", r.RemoteAddr).Msg("[AUTH] Operator registration attempt")

	var req RegisterRequest
	if !s.decode(w, r, &req) {
		return
	}
	if req.Role == "" {
		req.Role = middleware.RoleOperator
	}

	hashedPassword, err := hashPassword(req.Password)
	if err != nil {
		log.Error().Err(err).Msg("[AUTH] Password hashing failed")
		s.sendErrorResponse(w, "An Internal Error Occurred", http.StatusInternalServerError, nil)
		return
	}

	op := models.Operator{
		ID:        uuid.NewString(),
		Email:     strings.ToLower(req.Email),
		FullName:  req.FullName,
		Role:      req.Role,
		CreatedAt: s.now().UTC(),
	}
	_, err = s.db.ExecContext(r.Context(),
		"INSERT INTO operators (id, email, full_name, password, role, created_at) VALUES ($1, $2, $3, $4, $5, $6)",
		op.ID, op.Email, op.FullName, hashedPassword, op.Role, op.CreatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			log.Warn().Str("email", op.Email).Msg("[AUTH] Operator email already exists")
			s.sendErrorResponse(w, "Email Already Exists", http.StatusConflict, nil)
			return
		}
		log.Error().Err(err).Str("email", op.Email).Msg("[AUTH] Operator creation failed")
		s.sendErrorResponse(w, "Failed to create operator", http.StatusInternalServerError, nil)
		return
	}

	log.Info().Str("operator_id", op.ID).Str("role", op.Role).
		Str("created_by", middleware.OperatorID(r.Context())).Msg("[AUTH] Operator created")
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(op)
}

// Login handles operator authentication
// @Summary Login operator
// @Description Authenticate an operator with email and password
// @Tags auth
// @Accept json
// @Produce json
// @Param request body LoginRequest true "Login request"
// @Success 200 {object} AuthResponse "Login successful"
// @Failure 400 {object} ErrorResponse "Invalid request"
// @Failure 401 {object} ErrorResponse "Invalid credentials"
// @Failure 500 {object} ErrorResponse "Internal server error"
// @Router /auth/login [post]
func (s *AuthService) Login(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())
	log.Info().Str("ip", r.RemoteAddr).Msg("[AUTH] Login attempt")

	var req LoginRequest
	if !s.decode(w, r, &req) {
		return
	}

	var op models.Operator
	var hashedPassword string
	err := s.db.QueryRowContext(r.Context(),
		"SELECT id, email, full_name, role, password, created_at FROM operators WHERE email = $1",
		strings.ToLower(req.Email)).Scan(&op.ID, &op.Email, &op.FullName, &op.Role, &hashedPassword, &op.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			log.Warn().Str("email", req.Email).Msg("[AUTH] Operator not found")
			s.sendErrorResponse(w, "Invalid credentials", http.StatusUnauthorized, nil)
			return
		}
		log.Error().Err(err).Msg("[AUTH] Operator lookup failed")
		s.sendErrorResponse(w, "An Internal Error Occurred", http.StatusInternalServerError, nil)
		return
	}

	if !verifyPassword(req.Password, hashedPassword) {
		log.Warn().Str("operator_id", op.ID).Msg("[AUTH] Invalid password")
		s.sendErrorResponse(w, "Invalid credentials", http.StatusUnauthorized, nil)
		return
	}

	token, err := generateJWT(op.ID, op.Role)
	if err != nil {
		log.Error().Err(err).Str("operator_id", op.ID).Msg("[AUTH] JWT generation failed")
		s.sendErrorResponse(w, "Failed to generate token", http.StatusInternalServerError, nil)
		return
	}

	loginAt := s.now().UTC()
	if _, err := s.db.ExecContext(r.Context(), "UPDATE operators SET last_login = $1 WHERE id = $2", loginAt, op.ID); err != nil {
		log.Warn().Err(err).Str("operator_id", op.ID).Msg("[AUTH] Failed to record last login")
	} else {
		op.LastLogin = &loginAt
	}

	log.Info().Str("operator_id", op.ID).Msg("[AUTH] Login successful")
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(AuthResponse{Token: token, Operator: op})
}

// Logout handles operator logout
// @Summary Logout operator
// @Description Logout and blacklist the bearer token
// @Tags auth
// @Produce json
// @Success 200 {object} map[string]string "Logout successful"
// @Router /auth/logout [post]
func (s *AuthService) Logout(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())

	if token, ok := middleware.BearerToken(r.Header.Get("Authorization")); ok && s.redis != nil {
		// Blacklist token until its expiration
		expiry := time.Duration(viper.GetInt("jwt.expiry_hours")) * time.Hour
		if err := s.redis.Set(context.WithoutCancel(r.Context()), middleware.BlacklistKey(token), "1", expiry).Err(); err != nil {
			log.Error().Err(err).Msg("[AUTH] Failed to blacklist token")
		}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"message": "Logout successful"})
}

// GetOperator returns the authenticated operator
// @Summary Get current operator
// @Description Get the authenticated operator's profile
// @Tags auth
// @Produce json
// @Security BearerAuth
// @Success 200 {object} models.Operator "Operator details"
// @Failure 401 {string} string "Unauthorized"
// @Failure 404 {object} ErrorResponse "Operator not found"
// @Failure 500 {object} ErrorResponse "Internal server error"
// @Router /auth/me [get]
func (s *AuthService) GetOperator(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())

	operatorID := middleware.OperatorID(r.Context())
	if operatorID == "" {
		log.Warn().Msg("[AUTH] Unauthorized profile request - no operator in context")
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var op models.Operator
	var lastLogin sql.NullTime
	err := s.db.QueryRowContext(r.Context(),
		"SELECT id, email, full_name, role, last_login, created_at FROM operators WHERE id = $1",
		operatorID).Scan(&op.ID, &op.Email, &op.FullName, &op.Role, &lastLogin, &op.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			log.Warn().Str("operator_id", operatorID).Msg("[AUTH] Operator not found")
			s.sendErrorResponse(w, "Operator not found", http.StatusNotFound, nil)
		} else {
			log.Error().Err(err).Str("operator_id", operatorID).Msg("[AUTH] Failed to fetch operator")
			s.sendErrorResponse(w, "Failed to fetch operator", http.StatusInternalServerError, nil)
		}
		return
	}
	if lastLogin.Valid {
		op.LastLogin = &lastLogin.Time
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(op)
}

func generateJWT(operatorID, role string) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"operator_id": operatorID,
		"role":        role,
		"exp":         time.Now().Add(time.Duration(viper.GetInt("jwt.expiry_hours")) * time.Hour).Unix(),
	})

	return token.SignedString([]byte(viper.GetString("jwt.secret_key")))
}

func hashPassword(password string) (string, error) {
	salt := make([]byte, viper.GetInt("argon2.salt_length"))
	if _, err := cryptorand.Read(salt); err != nil {
		return "", err
	}

	hash := argon2.IDKey([]byte(password), salt,
		uint32(viper.GetInt("argon2.time")),
		uint32(viper.GetInt("argon2.memory")),
		uint8(viper.GetInt("argon2.threads")),
		uint32(viper.GetInt("argon2.key_length")))
	return fmt.Sprintf("%s$%s", base64.StdEncoding.EncodeToString(salt), base64.StdEncoding.EncodeToString(hash)), nil
}

func verifyPassword(password, hashedPassword string) bool {
	parts := strings.Split(hashedPassword, "$")
	if len(parts) != 2 {
		return false
	}

	salt, err := base64.StdEncoding.DecodeString(parts[0])
	if err != nil {
		return false
	}

	hash, err := base64.StdEncoding.DecodeString(parts[1])
	if err != nil {
		return false
	}

	computedHash := argon2.IDKey([]byte(password), salt,
		uint32(viper.GetInt("argon2.time")),
		uint32(viper.GetInt("argon2.memory")),
		uint8(viper.GetInt("argon2.threads")),
		uint32(len(hash)))
	return subtle.ConstantTimeCompare(hash, computedHash) == 1
}
