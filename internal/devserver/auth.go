package devserver

import (
	"errors"
	"strings"
	"time"

	"ai-notetaking-client/internal/dto"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

type accessClaims struct {
	UserID string `json:"user_id"`
	Email  string `json:"email"`
	Epoch  int    `json:"ver"`
	jwt.RegisteredClaims
}

func (s *Server) issueAccessToken(u user) (string, error) {
	now := time.Now()
	claims := accessClaims{
		UserID: u.Id.String(),
		Email:  u.Email,
		Epoch:  u.AccessEpoch,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   u.Id.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.accessTTL)),
			ID:        uuid.NewString(),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}

// parseAccessToken accepts only HMAC tokens that are unexpired and whose
// epoch still matches the user's.
func (s *Server) parseAccessToken(tokenStr string) (uuid.UUID, error) {
	var claims accessClaims
	token, err := jwt.ParseWithClaims(tokenStr, &claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fiber.ErrUnauthorized
		}
		return s.secret, nil
	}, jwt.WithExpirationRequired())
	if err != nil || !token.Valid {
		return uuid.Nil, errors.New("invalid token")
	}

	userID, err := uuid.Parse(claims.UserID)
	if err != nil {
		return uuid.Nil, errors.New("invalid user ID format in token")
	}
	epoch, ok := s.state.accessEpoch(userID)
	if !ok || epoch != claims.Epoch {
		return uuid.Nil, errors.New("token revoked")
	}
	return userID, nil
}

func bearerToken(ctx *fiber.Ctx) string {
	authHeader := ctx.Get("Authorization")
	if len(authHeader) > 7 && strings.EqualFold(authHeader[:7], "Bearer ") {
		return authHeader[7:]
	}
	return ""
}

func (s *Server) jwtMiddleware(ctx *fiber.Ctx) error {
	tokenStr := bearerToken(ctx)
	if tokenStr == "" {
		return unauthorized("Missing token")
	}
	userID, err := s.parseAccessToken(tokenStr)
	if err != nil {
		return unauthorized("Invalid token")
	}
	ctx.Locals("user_id", userID.String())
	return ctx.Next()
}

func currentUserID(ctx *fiber.Ctx) uuid.UUID {
	userIdStr, _ := ctx.Locals("user_id").(string)
	userId, _ := uuid.Parse(userIdStr)
	return userId
}

func (s *Server) registerAuthRoutes(r fiber.Router) {
	h := r.Group("/auth")
	h.Post("/register", s.register)
	h.Post("/login", s.login)
	h.Post("/refresh", s.refresh)
	h.Post("/logout", s.logout)
}

func (s *Server) register(ctx *fiber.Ctx) error {
	var req dto.RegisterRequest
	if err := s.parseAndValidate(ctx, &req); err != nil {
		return err
	}

	u, err := s.state.register(&req)
	if errors.Is(err, errEmailTaken) {
		return validationFailed(map[string][]string{"email": {"Email is already registered"}})
	}
	if err != nil {
		return err
	}

	return ctx.JSON(dto.SuccessResponse("Success register", dto.RegisterResponse{Id: u.Id, Email: u.Email}))
}

func (s *Server) login(ctx *fiber.Ctx) error {
	var req dto.LoginRequest
	if err := s.parseAndValidate(ctx, &req); err != nil {
		return err
	}

	u, err := s.state.authenticate(req.Email, req.Password)
	switch {
	case errors.Is(err, errNotFound):
		return validationFailed(map[string][]string{"email": {"Email is not registered"}})
	case errors.Is(err, bcrypt.ErrMismatchedHashAndPassword):
		return validationFailed(map[string][]string{"password": {"Incorrect password"}})
	case err != nil:
		return err
	}

	res, err := s.sessionFor(u, s.state.issueRefreshToken(u.Id))
	if err != nil {
		return err
	}
	s.logger.Info("DevServer", "User logged in", map[string]interface{}{"user_id": u.Id})
	return ctx.JSON(dto.SuccessResponse("Success login", res))
}

// refresh rotates the refresh token: the presented one stops working.
func (s *Server) refresh(ctx *fiber.Ctx) error {
	var req dto.RefreshTokenRequest
	if err := s.parseAndValidate(ctx, &req); err != nil {
		return err
	}

	userID, next, err := s.state.rotateRefreshToken(req.RefreshToken)
	if err != nil {
		return unauthorized("Invalid refresh token")
	}
	u, err := s.state.userByID(userID)
	if err != nil {
		return unauthorized("Invalid refresh token")
	}

	res, err := s.sessionFor(u, next)
	if err != nil {
		return err
	}
	s.refreshCount.Add(1)
	return ctx.JSON(dto.SuccessResponse("Success refresh token", res))
}

func (s *Server) logout(ctx *fiber.Ctx) error {
	var req dto.LogoutRequest
	if err := ctx.BodyParser(&req); err == nil && req.RefreshToken != "" {
		s.state.revokeRefreshToken(req.RefreshToken)
	}
	return ctx.JSON(dto.SuccessResponse[any]("Success logout", nil))
}

func (s *Server) sessionFor(u user, refreshToken string) (dto.LoginResponse, error) {
	access, err := s.issueAccessToken(u)
	if err != nil {
		return dto.LoginResponse{}, err
	}
	return dto.LoginResponse{
		AccessToken:  access,
		RefreshToken: refreshToken,
		User:         userDTO(u),
	}, nil
}

func userDTO(u user) dto.UserDTO {
	return dto.UserDTO{Id: u.Id, Email: u.Email, FullName: u.FullName, Role: u.Role}
}
