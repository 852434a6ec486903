package service

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"algoedge/internal/config"
	"algoedge/internal/models"
	"algoedge/internal/repository"
	"algoedge/pkg/crypto"
	"algoedge/pkg/utils"
)

// Ошибки аутентификации
var (
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrEmailTaken         = errors.New("email is already registered")
	ErrInvalidToken       = errors.New("invalid or expired token")
	ErrUserNotFound       = errors.New("user not found")
)

// RegisterRequest - запрос регистрации
type RegisterRequest struct {
	Email     string `json:"email" validate:"required,email,max=255"`
	Password  string `json:"password" validate:"required,min=8,max=72"`
	Name      string `json:"name" validate:"max=100"`
	IPAddress string `json:"-"`
}

// LoginRequest - запрос входа
type LoginRequest struct {
	Email     string `json:"email" validate:"required,email,max=255"`
	Password  string `json:"password" validate:"required,max=72"`
	IPAddress string `json:"-"`
}

// AuthResult - пользователь и выданный ему bearer токен
type AuthResult struct {
	User      *models.User `json:"user"`
	Token     string       `json:"token"`
	ExpiresAt time.Time    `json:"expiresAt"`
}

// UserClaims - содержимое JWT
type UserClaims struct {
	UserID int64 `json:"uid"`
	jwt.RegisteredClaims
}

// AuthService - регистрация, вход и проверка bearer токенов
type AuthService struct {
	users  UserRepositoryInterface
	audit  AuditLogRepositoryInterface
	hasher *crypto.PasswordHasher
	secret []byte
	ttl    time.Duration
	logger *utils.Logger
	now    func() time.Time
}

// NewAuthService создает новый экземпляр сервиса
func NewAuthService(
	users UserRepositoryInterface,
	audit AuditLogRepositoryInterface,
	hasher *crypto.PasswordHasher,
	security config.SecurityConfig,
	logger *utils.Logger,
) *AuthService {
	if logger == nil {
		logger = utils.L()
	}
	return &AuthService{
		users:  users,
		audit:  audit,
		hasher: hasher,
		secret: []byte(security.JWTSecret),
		ttl:    security.TokenTTL,
		logger: logger.WithComponent("auth"),
		now:    time.Now,
	}
}

// Register создаёт пользователя и сразу выдаёт токен
func (s *AuthService) Register(ctx context.Context, req RegisterRequest) (*AuthResult, error) {
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	req.Name = strings.TrimSpace(req.Name)
	if err := utils.ValidateStruct(req); err != nil {
		return nil, err
	}

	hash, err := s.hasher.Hash(req.Password)
	if err != nil {
		return nil, err
	}

	user := &models.User{
		Email:        req.Email,
		PasswordHash: hash,
		Name:         req.Name,
		Role:         models.RoleUser,
	}
	audit := &models.AuditLog{
		Action:    models.AuditUserRegistered,
		IPAddress: req.IPAddress,
		Details:   map[string]interface{}{"email": req.Email},
	}

	if err := s.users.Create(ctx, user, audit); err != nil {
		if errors.Is(err, repository.ErrUserExists) {
			return nil, ErrEmailTaken
		}
		return nil, err
	}

	s.logger.Info("user registered", utils.UserID(user.ID))
	return s.issue(user)
}

// Login проверяет пароль и выдаёт токен.
// Неизвестный email и неверный пароль неразличимы для клиента.
func (s *AuthService) Login(ctx context.Context, req LoginRequest) (*AuthResult, error) {
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	if err := utils.ValidateStruct(req); err != nil {
		return nil, err
	}

	user, err := s.users.GetByEmail(ctx, req.Email)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}

	if err := s.hasher.Verify(req.Password, user.PasswordHash); err != nil {
		return nil, ErrInvalidCredentials
	}

	if err := s.audit.Create(ctx, models.NewAuditLog(user.ID, models.AuditUserLogin, req.IPAddress, nil)); err != nil {
		s.logger.Warn("write login audit failed", utils.UserID(user.ID), utils.Err(err))
	}

	return s.issue(user)
}

// VerifyToken проверяет подпись и срок токена и возвращает id существующего пользователя
func (s *AuthService) VerifyToken(ctx context.Context, token string) (int64, error) {
	claims := &UserClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims,
		func(*jwt.Token) (interface{}, error) { return s.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil || !parsed.Valid || claims.UserID <= 0 {
		return 0, ErrInvalidToken
	}

	if _, err := s.users.GetByID(ctx, claims.UserID); err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return 0, ErrInvalidToken
		}
		return 0, err
	}

	return claims.UserID, nil
}

// GetUser возвращает пользователя по id
func (s *AuthService) GetUser(ctx context.Context, id int64) (*models.User, error) {
	user, err := s.users.GetByID(ctx, id)
	if errors.Is(err, repository.ErrUserNotFound) {
		return nil, ErrUserNotFound
	}
	return user, err
}

func (s *AuthService) issue(user *models.User) (*AuthResult, error) {
	now := s.now()
	expiresAt := now.Add(s.ttl)

	claims := UserClaims{
		UserID: user.ID,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   strconv.FormatInt(user.ID, 10),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return nil, err
	}

	return &AuthResult{User: user, Token: token, ExpiresAt: expiresAt}, nil
}
