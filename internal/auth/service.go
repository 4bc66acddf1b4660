package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"Aegis-MCP/pkg/logger"
)

// 常量定义。
const (
	tokenTypeAccess   = "access"
	tokenTypeRefresh  = "refresh"
	grantTypePassword = "password"
	grantTypeRefresh  = "refresh_token"
	passwordSaltBytes = 16
)

// Service 负责 HTTP 端点的身份验证和授权。
type Service struct {
	mode   Mode
	store  Store
	issuer *tokenIssuer
	audit  *slog.Logger
}

// NewService 构造身份认证服务实例。
func NewService(ctx context.Context, cfg Config, store Store) (*Service, error) {
	mode := Mode(strings.ToLower(string(cfg.Mode)))
	svc := &Service{
		mode:  mode,
		store: store,
		audit: logger.Audit(),
	}

	switch mode {
	case ModeDisabled:
		return svc, nil
	case ModeJWT:
		if store == nil {
			return nil, errors.New("jwt mode requires a user store")
		}
		if strings.TrimSpace(cfg.JWT.Secret) == "" {
			return nil, errors.New("jwt secret must be configured")
		}
		if cfg.JWT.AccessTTL <= 0 {
			cfg.JWT.AccessTTL = 3600
		}
		if cfg.JWT.RefreshTTL <= 0 {
			cfg.JWT.RefreshTTL = 86400
		}
		svc.issuer = &tokenIssuer{
			secret:     []byte(cfg.JWT.Secret),
			issuer:     cfg.JWT.Issuer,
			audience:   cfg.JWT.Audience,
			accessTTL:  time.Duration(cfg.JWT.AccessTTL) * time.Second,
			refreshTTL: time.Duration(cfg.JWT.RefreshTTL) * time.Second,
		}
	default:
		return nil, fmt.Errorf("unsupported auth mode: %s", cfg.Mode)
	}

	if ctx == nil {
		ctx = context.Background()
	}
	if len(cfg.Seeds) > 0 && store != nil {
		if writer, ok := store.(SeedWriter); ok {
			for _, seed := range cfg.Seeds {
				if err := writer.ApplySeed(ctx, seed); err != nil {
					return nil, fmt.Errorf("apply seed %s: %w", seed.Username, err)
				}
			}
		}
	}
	return svc, nil
}

// Mode 返回当前身份认证服务的工作模式。
func (s *Service) Mode() Mode {
	if s == nil {
		return ModeDisabled
	}
	return s.mode
}

// Authenticate 根据提供的令牌请求进行身份验证，并返回相应的令牌对。
func (s *Service) Authenticate(ctx context.Context, req TokenRequest) (*TokenPair, error) {
	if s == nil || s.mode == ModeDisabled {
		return nil, ErrDisabled
	}
	grant := strings.TrimSpace(strings.ToLower(req.GrantType))
	if grant == "" {
		grant = grantTypePassword
	}
	switch grant {
	case grantTypePassword:
		return s.authenticatePassword(ctx, req)
	case grantTypeRefresh:
		return s.refresh(ctx, req)
	default:
		return nil, ErrUnsupportedGrant
	}
}

// authenticatePassword 校验用户名密码并签发会话令牌。
// 请求中的 Surfaces 可以把令牌收窄到账户已授权面的某个子集。
func (s *Service) authenticatePassword(ctx context.Context, req TokenRequest) (*TokenPair, error) {
	if s.store == nil {
		return nil, errors.New("user store not configured")
	}
	user, err := s.store.FindUserByUsername(ctx, strings.TrimSpace(req.Username))
	if err != nil {
		return nil, ErrInvalidCredentials
	}
	if user.Disabled {
		return nil, ErrSubjectRevoked
	}
	if !verifyPassword(user.PasswordHash, req.Password) {
		return nil, ErrInvalidCredentials
	}
	subject, err := s.store.LoadSubject(ctx, user.ID)
	if err != nil {
		return nil, fmt.Errorf("load subject: %w", err)
	}
	if subject.Disabled {
		return nil, ErrSubjectRevoked
	}
	surfaces, err := narrowSurfaces(subject, req.Surfaces)
	if err != nil {
		return nil, err
	}
	return s.issue(subject, surfaces)
}

// refresh 用刷新令牌换取新的令牌对，重新走一次用户目录，
// 因此撤销授权面后旧刷新令牌无法再取回该授权面。
func (s *Service) refresh(ctx context.Context, req TokenRequest) (*TokenPair, error) {
	if s.issuer == nil {
		return nil, errors.New("token issuer not initialised")
	}
	claims, err := s.issuer.Verify(req.RefreshToken)
	if err != nil {
		return nil, err
	}
	if claims.TokenType != tokenTypeRefresh {
		return nil, ErrInvalidToken
	}
	subject, err := s.loadSubjectFromClaims(ctx, claims)
	if err != nil {
		return nil, err
	}
	scoped := scopeSubject(subject, claims.Surfaces)
	return s.issue(scoped, scoped.Surfaces)
}

// issue 为给定主体签发令牌对。
func (s *Service) issue(subject *Subject, surfaces []string) (*TokenPair, error) {
	if s.issuer == nil {
		return nil, errors.New("token issuer not initialised")
	}
	pair, err := s.issuer.Generate(subject, surfaces)
	if err != nil {
		return nil, err
	}
	pair.Subject = scopeSubject(subject, surfaces)
	pair.TokenType = "Bearer"
	pair.GrantedSurfaces = append([]string(nil), surfaces...)
	return pair, nil
}

// AuthenticateRequest 验证传入请求的授权头，并返回相应的主体信息。
func (s *Service) AuthenticateRequest(ctx context.Context, authorization string) (*Subject, error) {
	if s == nil || s.mode == ModeDisabled {
		return nil, ErrDisabled
	}
	parts := strings.SplitN(strings.TrimSpace(authorization), " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return nil, ErrMissingToken
	}
	token := strings.TrimSpace(parts[1])
	if token == "" {
		return nil, ErrMissingToken
	}
	return s.verifyAccessToken(ctx, token)
}

// verifyAccessToken 验证访问令牌并返回按令牌范围收窄后的主体信息。
func (s *Service) verifyAccessToken(ctx context.Context, token string) (*Subject, error) {
	if s.issuer == nil {
		return nil, errors.New("token issuer not initialised")
	}
	claims, err := s.issuer.Verify(token)
	if err != nil {
		return nil, err
	}
	if claims.TokenType != tokenTypeAccess {
		return nil, ErrInvalidToken
	}
	subject, err := s.loadSubjectFromClaims(ctx, claims)
	if err != nil {
		return nil, err
	}
	return scopeSubject(subject, claims.Surfaces), nil
}

// loadSubjectFromClaims 根据令牌声明从用户目录加载当前主体。
func (s *Service) loadSubjectFromClaims(ctx context.Context, claims *sessionClaims) (*Subject, error) {
	userID, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil {
		return nil, ErrInvalidToken
	}
	if s.store == nil {
		return nil, errors.New("user store not configured")
	}
	subject, err := s.store.LoadSubject(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load subject: %w", err)
	}
	if subject.Disabled {
		return nil, ErrSubjectRevoked
	}
	subject.normalise()
	return subject, nil
}

// narrowSurfaces 计算令牌应携带的授权面列表。请求为空时返回账户的全部
// 授权面；请求中出现未授权的面时直接报错而不是静默丢弃。
func narrowSurfaces(subject *Subject, requested []string) ([]string, error) {
	if len(requested) == 0 {
		return append([]string(nil), subject.Surfaces...), nil
	}
	narrowed := make([]string, 0, len(requested))
	for _, name := range requested {
		surface, err := ParseSurface(name)
		if err != nil {
			return nil, fmt.Errorf("%w: %s", ErrSurfaceNotGranted, name)
		}
		if !subject.HasSurface(surface) {
			return nil, fmt.Errorf("%w: %s", ErrSurfaceNotGranted, surface)
		}
		narrowed = append(narrowed, string(surface))
	}
	sort.Strings(narrowed)
	return dedupeSurfaces(narrowed), nil
}

// scopeSubject 返回按令牌授权面收窄后的主体副本。令牌未携带授权面时
// 保持目录中的授权不变；目录侧撤销的授权面始终优先生效。
func scopeSubject(subject *Subject, tokenSurfaces []string) *Subject {
	if subject == nil {
		return nil
	}
	kept := subject.Surfaces
	if tokenSurfaces != nil {
		kept = make([]string, 0, len(tokenSurfaces))
		for _, name := range tokenSurfaces {
			surface, err := ParseSurface(name)
			if err != nil {
				continue
			}
			if subject.HasSurface(surface) {
				kept = append(kept, string(surface))
			}
		}
		sort.Strings(kept)
	}
	scoped := &Subject{
		ID:            subject.ID,
		Username:      subject.Username,
		Roles:         append([]string(nil), subject.Roles...),
		Permissions:   append([]string(nil), subject.Permissions...),
		Surfaces:      append([]string(nil), kept...),
		WalletAddress: subject.WalletAddress,
		Disabled:      subject.Disabled,
	}
	if len(subject.Credentials) > 0 {
		scoped.Credentials = make(map[string]string, len(subject.Credentials))
		for name, value := range subject.Credentials {
			scoped.Credentials[name] = value
		}
	}
	scoped.normalise()
	return scoped
}

// tokenIssuer 负责会话令牌的签发与验证。
type tokenIssuer struct {
	secret     []byte
	issuer     string
	audience   []string
	accessTTL  time.Duration
	refreshTTL time.Duration
}

// sessionClaims 定义会话令牌的声明结构。
type sessionClaims struct {
	Username    string   `json:"username,omitempty"`
	Roles       []string `json:"roles,omitempty"`
	Permissions []string `json:"permissions,omitempty"`
	Surfaces    []string `json:"surfaces,omitempty"`
	TokenType   string   `json:"type"`
	jwt.RegisteredClaims
}

// Generate 生成访问令牌和刷新令牌对。
func (m *tokenIssuer) Generate(subject *Subject, surfaces []string) (*TokenPair, error) {
	if subject == nil {
		return nil, errors.New("subject required")
	}
	subject.normalise()
	now := time.Now()

	accessClaims := sessionClaims{
		Username:    subject.Username,
		Roles:       append([]string(nil), subject.Roles...),
		Permissions: append([]string(nil), subject.Permissions...),
		Surfaces:    append([]string(nil), surfaces...),
		TokenType:   tokenTypeAccess,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatInt(subject.ID, 10),
			Issuer:    m.issuer,
			Audience:  jwt.ClaimStrings(m.audience),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.accessTTL)),
			ID:        uuid.NewString(),
		},
	}

	refreshClaims := sessionClaims{
		Username:  subject.Username,
		Roles:     append([]string(nil), subject.Roles...),
		Surfaces:  append([]string(nil), surfaces...),
		TokenType: tokenTypeRefresh,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatInt(subject.ID, 10),
			Issuer:    m.issuer,
			Audience:  jwt.ClaimStrings(m.audience),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.refreshTTL)),
			ID:        uuid.NewString(),
		},
	}

	accessToken, err := jwt.NewWithClaims(jwt.SigningMethodHS256, accessClaims).SignedString(m.secret)
	if err != nil {
		return nil, fmt.Errorf("sign access token: %w", err)
	}
	refreshToken, err := jwt.NewWithClaims(jwt.SigningMethodHS256, refreshClaims).SignedString(m.secret)
	if err != nil {
		return nil, fmt.Errorf("sign refresh token: %w", err)
	}
	return &TokenPair{
		AccessToken:      accessToken,
		ExpiresIn:        int64(m.accessTTL.Seconds()),
		RefreshToken:     refreshToken,
		RefreshExpiresIn: int64(m.refreshTTL.Seconds()),
		TokenType:        "Bearer",
	}, nil
}

// Verify 验证令牌有效性并返回其声明。
func (m *tokenIssuer) Verify(token string) (*sessionClaims, error) {
	if strings.TrimSpace(token) == "" {
		return nil, ErrInvalidToken
	}
	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if m.issuer != "" {
		options = append(options, jwt.WithIssuer(m.issuer))
	}
	parsed, err := jwt.ParseWithClaims(token, &sessionClaims{}, func(*jwt.Token) (any, error) {
		return m.secret, nil
	}, options...)
	if err != nil || !parsed.Valid {
		return nil, ErrInvalidToken
	}
	claims, ok := parsed.Claims.(*sessionClaims)
	if !ok {
		return nil, ErrInvalidToken
	}
	if len(m.audience) > 0 && len(claims.Audience) > 0 {
		matched := false
		for _, expected := range m.audience {
			for _, provided := range claims.Audience {
				if strings.EqualFold(strings.TrimSpace(expected), strings.TrimSpace(provided)) {
					matched = true
					break
				}
			}
			if matched {
				break
			}
		}
		if !matched {
			return nil, ErrInvalidToken
		}
	}
	return claims, nil
}

// HashPassword 对给定的密码进行哈希处理并返回哈希值。
func HashPassword(password string) (string, error) {
	return hashPassword(password)
}

func hashPassword(password string) (string, error) {
	if strings.TrimSpace(password) == "" {
		return "", errors.New("password cannot be empty")
	}
	salt := make([]byte, passwordSaltBytes)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}
	digest := sha256.Sum256(append(salt, []byte(password)...))
	encodedSalt := base64.RawStdEncoding.EncodeToString(salt)
	encodedDigest := base64.RawStdEncoding.EncodeToString(digest[:])
	return encodedSalt + ":" + encodedDigest, nil
}

// verifyPassword 验证给定的密码是否与哈希值匹配。
func verifyPassword(hashed, password string) bool {
	if hashed == "" {
		return false
	}
	parts := strings.SplitN(hashed, ":", 2)
	if len(parts) != 2 {
		return false
	}
	salt, err := base64.RawStdEncoding.DecodeString(parts[0])
	if err != nil {
		return false
	}
	expected, err := base64.RawStdEncoding.DecodeString(parts[1])
	if err != nil {
		return false
	}
	digest := sha256.Sum256(append(salt, []byte(password)...))
	return subtle.ConstantTimeCompare(expected, digest[:]) == 1
}
