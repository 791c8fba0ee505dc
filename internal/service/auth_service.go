package service

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"gardenx/internal/errs"
	"gardenx/internal/models"
	"gardenx/internal/util"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

// AccountStore is the storage surface for accounts and profiles.
type AccountStore interface {
	CreateAccount(ctx context.Context, account *models.Account) error
	GetAccountByEmail(ctx context.Context, email string) (*models.Account, error)
	UpdatePassword(ctx context.Context, id, passwordHash string) error
	DeleteAccount(ctx context.Context, id string) error
	CreateProfile(ctx context.Context, profile *models.UserProfile) error
	GetProfile(ctx context.Context, userID string) (*models.UserProfile, error)
	UpdateProfile(ctx context.Context, profile *models.UserProfile) error
	GemsIDExists(ctx context.Context, gemsID, excludeUserID string) (bool, error)
}

// TokenRevoker denylists token ids until their natural expiry.
type TokenRevoker interface {
	RevokeToken(ctx context.Context, jti string, ttl time.Duration) error
	IsTokenRevoked(ctx context.Context, jti string) (bool, error)
}

// PasswordResetStore holds one-time password reset tokens until they
// are consumed or expire.
type PasswordResetStore interface {
	StageResetToken(ctx context.Context, token, userID string, ttl time.Duration) error
	TakeResetToken(ctx context.Context, token string) (string, error)
}

// ResetMailer delivers the password reset link.
type ResetMailer interface {
	PasswordReset(ctx context.Context, to, resetLink string) error
}

// AuthConfig carries the knobs for one school's auth service.
type AuthConfig struct {
	JWTSecret   string
	AdminDomain string
	TokenTTL    time.Duration
	ResetTTL    time.Duration
	ResetURL    string
	SchoolID    string
}

// AuthService handles sign-up, sign-in, sessions, password recovery,
// and profiles for one school.
type AuthService struct {
	store       AccountStore
	tokens      TokenRevoker
	resets      PasswordResetStore
	mailer      ResetMailer
	jwtKey      []byte
	adminDomain string
	tokenTTL    time.Duration
	resetTTL    time.Duration
	resetURL    string
	schoolID    string
	logger      *zap.Logger
}

// NewAuthService creates a new auth service
func NewAuthService(store AccountStore, tokens TokenRevoker, resets PasswordResetStore, mailer ResetMailer, cfg AuthConfig) *AuthService {
	return &AuthService{
		store:       store,
		tokens:      tokens,
		resets:      resets,
		mailer:      mailer,
		jwtKey:      []byte(cfg.JWTSecret),
		adminDomain: cfg.AdminDomain,
		tokenTTL:    cfg.TokenTTL,
		resetTTL:    cfg.ResetTTL,
		resetURL:    cfg.ResetURL,
		schoolID:    cfg.SchoolID,
		logger:      util.GetLogger(),
	}
}

// TokenClaims are the session JWT claims. The school id is pinned into
// the token so a session can never follow its holder across a school
// switch.
type TokenClaims struct {
	UserID   string `json:"user_id"`
	Email    string `json:"email"`
	SchoolID string `json:"school_id"`
	Admin    bool   `json:"admin"`
	jwt.RegisteredClaims
}

// SignUpRequest carries the sign-up form fields
type SignUpRequest struct {
	Email     string                `json:"email" binding:"required"`
	Password  string                `json:"password" binding:"required"`
	FirstName string                `json:"first_name" binding:"required"`
	LastName  string                `json:"last_name" binding:"required"`
	Phone     string                `json:"phone" binding:"required"`
	Role      string                `json:"role" binding:"required"`
	Details   models.ProfileDetails `json:"details"`
}

// SessionResult is the response for sign-up and sign-in
type SessionResult struct {
	UserID    string `json:"user_id"`
	Email     string `json:"email"`
	SchoolID  string `json:"school_id"`
	Admin     bool   `json:"admin"`
	Token     string `json:"token"`
	ExpiresIn int    `json:"expires_in"`
	TokenType string `json:"token_type"`
}

var (
	phoneRe   = regexp.MustCompile(`^05\d{8}$`)
	gemsIDRe  = regexp.MustCompile(`^[1-9]\d{5}$`)
	sectionRe = regexp.MustCompile(`^[A-Z]$`)
)

// SignUp creates an account and its profile. If the profile insert fails
// after the account exists, the account is deleted again so a failed
// sign-up leaves nothing behind.
func (as *AuthService) SignUp(ctx context.Context, req *SignUpRequest) (*SessionResult, error) {
	ctx, span := util.StartSpan(ctx, "AuthService.SignUp")
	defer span.End()

	if err := as.validateProfileFields(ctx, req.Phone, req.Role, req.Details, ""); err != nil {
		return nil, err
	}
	if !strings.Contains(req.Email, "@") {
		return nil, &errs.ValidationError{Field: "email", Message: "invalid email address"}
	}
	if len(req.Password) < 8 {
		return nil, &errs.ValidationError{Field: "password", Message: "must be at least 8 characters"}
	}

	existing, err := as.store.GetAccountByEmail(ctx, req.Email)
	if err != nil {
		return nil, &errs.BackendError{Op: "check existing account", Err: err}
	}
	if existing != nil {
		return nil, &errs.ValidationError{Field: "email", Message: "email already registered"}
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, &errs.BackendError{Op: "hash password", Err: err}
	}

	account := &models.Account{
		ID:           uuid.New().String(),
		Email:        req.Email,
		PasswordHash: string(hash),
	}
	if err := as.store.CreateAccount(ctx, account); err != nil {
		return nil, &errs.BackendError{Op: "create account", Err: err}
	}

	profile := &models.UserProfile{
		ID:        account.ID,
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Email:     req.Email,
		Phone:     req.Phone,
		Role:      req.Role,
		Details:   req.Details,
	}
	if err := as.store.CreateProfile(ctx, profile); err != nil {
		// Compensate: a half-created sign-up must not leave an orphaned
		// auth account behind.
		if delErr := as.store.DeleteAccount(ctx, account.ID); delErr != nil {
			as.logger.Error("Failed to compensate account after profile failure",
				zap.String("account_id", account.ID),
				zap.Error(delErr))
		} else {
			util.SignupCompensationsTotal.Inc()
		}
		return nil, &errs.BackendError{Op: "create profile", Err: err}
	}

	util.SignupsTotal.Inc()
	as.logger.Info("User signed up",
		zap.String("user_id", account.ID),
		zap.String("role", req.Role))

	return as.session(account)
}

// SignIn authenticates an account and returns a session token
func (as *AuthService) SignIn(ctx context.Context, email, password string) (*SessionResult, error) {
	ctx, span := util.StartSpan(ctx, "AuthService.SignIn")
	defer span.End()

	account, err := as.store.GetAccountByEmail(ctx, email)
	if err != nil {
		return nil, &errs.BackendError{Op: "load account", Err: err}
	}
	if account == nil {
		return nil, &errs.ValidationError{Field: "email", Message: "invalid credentials"}
	}

	if err := bcrypt.CompareHashAndPassword([]byte(account.PasswordHash), []byte(password)); err != nil {
		as.logger.Info("Login failed", zap.String("email", email))
		return nil, &errs.ValidationError{Field: "password", Message: "invalid credentials"}
	}

	return as.session(account)
}

// RequestPasswordReset emails a one-time reset link to the account
// holder. The response is the same whether or not the email is
// registered, so the endpoint cannot be used to enumerate accounts.
func (as *AuthService) RequestPasswordReset(ctx context.Context, email string) error {
	ctx, span := util.StartSpan(ctx, "AuthService.RequestPasswordReset")
	defer span.End()

	account, err := as.store.GetAccountByEmail(ctx, email)
	if err != nil {
		return &errs.BackendError{Op: "load account", Err: err}
	}
	if account == nil {
		as.logger.Info("Password reset requested for unknown email")
		return nil
	}

	token := uuid.New().String()
	if err := as.resets.StageResetToken(ctx, token, account.ID, as.resetTTL); err != nil {
		return &errs.BackendError{Op: "stage reset token", Err: err}
	}

	link := fmt.Sprintf("%s?token=%s", as.resetURL, token)
	if err := as.mailer.PasswordReset(ctx, account.Email, link); err != nil {
		return &errs.BackendError{Op: "send reset email", Err: err}
	}

	as.logger.Info("Password reset link issued", zap.String("user_id", account.ID))
	return nil
}

// ResetPassword consumes a reset token and sets the new password. The
// token is single-use: a second attempt with the same token fails even
// before its TTL runs out.
func (as *AuthService) ResetPassword(ctx context.Context, token, newPassword string) error {
	ctx, span := util.StartSpan(ctx, "AuthService.ResetPassword")
	defer span.End()

	if len(newPassword) < 8 {
		return &errs.ValidationError{Field: "password", Message: "must be at least 8 characters"}
	}

	userID, err := as.resets.TakeResetToken(ctx, token)
	if err != nil {
		return &errs.BackendError{Op: "consume reset token", Err: err}
	}
	if userID == "" {
		return &errs.ValidationError{Field: "token", Message: "reset link expired or already used"}
	}

	if err := as.setPassword(ctx, userID, newPassword); err != nil {
		return err
	}
	as.logger.Info("Password reset completed", zap.String("user_id", userID))
	return nil
}

// ChangePassword sets a new password for a signed-in user.
func (as *AuthService) ChangePassword(ctx context.Context, userID, newPassword string) error {
	if len(newPassword) < 8 {
		return &errs.ValidationError{Field: "password", Message: "must be at least 8 characters"}
	}
	if err := as.setPassword(ctx, userID, newPassword); err != nil {
		return err
	}
	as.logger.Info("Password changed", zap.String("user_id", userID))
	return nil
}

func (as *AuthService) setPassword(ctx context.Context, userID, password string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return &errs.BackendError{Op: "hash password", Err: err}
	}
	if err := as.store.UpdatePassword(ctx, userID, string(hash)); err != nil {
		return &errs.BackendError{Op: "update password", Err: err}
	}
	return nil
}

// SignOut revokes the session token until its natural expiry. A school
// switch calls this before the client re-authenticates against the new
// school, so no stale session can reach the old backend.
func (as *AuthService) SignOut(ctx context.Context, claims *TokenClaims) error {
	ttl := time.Until(claims.ExpiresAt.Time)
	if err := as.tokens.RevokeToken(ctx, claims.ID, ttl); err != nil {
		return &errs.BackendError{Op: "revoke token", Err: err}
	}
	as.logger.Info("Session revoked",
		zap.String("user_id", claims.UserID),
		zap.String("school_id", claims.SchoolID))
	return nil
}

// VerifyToken parses a session token, checks its signature and the
// revocation denylist, and requires it to belong to this school.
func (as *AuthService) VerifyToken(ctx context.Context, tokenString string) (*TokenClaims, error) {
	claims := &TokenClaims{}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return as.jwtKey, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}
	if !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}

	if claims.SchoolID != as.schoolID {
		return nil, fmt.Errorf("token bound to school %s, request is for %s", claims.SchoolID, as.schoolID)
	}

	revoked, err := as.tokens.IsTokenRevoked(ctx, claims.ID)
	if err != nil {
		return nil, &errs.BackendError{Op: "check token revocation", Err: err}
	}
	if revoked {
		return nil, fmt.Errorf("token revoked")
	}
	return claims, nil
}

// GetProfile returns a user's profile, or nil when not yet completed
func (as *AuthService) GetProfile(ctx context.Context, userID string) (*models.UserProfile, error) {
	return as.store.GetProfile(ctx, userID)
}

// UpdateProfile re-validates and saves the mutable profile fields
func (as *AuthService) UpdateProfile(ctx context.Context, profile *models.UserProfile) error {
	if err := as.validateProfileFields(ctx, profile.Phone, profile.Role, profile.Details, profile.ID); err != nil {
		return err
	}
	if err := as.store.UpdateProfile(ctx, profile); err != nil {
		return &errs.BackendError{Op: "update profile", Err: err}
	}
	return nil
}

// IsAdminEmail reports whether an email belongs to the admin domain
func (as *AuthService) IsAdminEmail(email string) bool {
	return strings.HasSuffix(email, "@"+as.adminDomain)
}

func (as *AuthService) session(account *models.Account) (*SessionResult, error) {
	admin := as.IsAdminEmail(account.Email)
	now := time.Now()

	claims := &TokenClaims{
		UserID:   account.ID,
		Email:    account.Email,
		SchoolID: as.schoolID,
		Admin:    admin,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.New().String(),
			ExpiresAt: jwt.NewNumericDate(now.Add(as.tokenTTL)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    "gardenx",
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(as.jwtKey)
	if err != nil {
		return nil, &errs.BackendError{Op: "sign token", Err: err}
	}

	return &SessionResult{
		UserID:    account.ID,
		Email:     account.Email,
		SchoolID:  as.schoolID,
		Admin:     admin,
		Token:     signed,
		ExpiresIn: int(as.tokenTTL.Seconds()),
		TokenType: "Bearer",
	}, nil
}

func (as *AuthService) validateProfileFields(ctx context.Context, phone, role string, details models.ProfileDetails, excludeUserID string) error {
	if !phoneRe.MatchString(phone) {
		return &errs.ValidationError{Field: "phone", Message: "must be 10 digits starting with 05"}
	}

	switch role {
	case models.RoleParent:
		if details.Parent == nil {
			return &errs.ValidationError{Field: "details", Message: "parent details are required"}
		}
		if strings.TrimSpace(details.Parent.StudentName) == "" {
			return &errs.ValidationError{Field: "student_name", Message: "student name is required"}
		}
		if !sectionRe.MatchString(details.Parent.StudentSection) {
			return &errs.ValidationError{Field: "student_section", Message: "must be a single capital letter"}
		}
		if !gemsIDRe.MatchString(details.Parent.GemsID) {
			return &errs.ValidationError{Field: "student_gems_id", Message: "must be 6 digits starting with non-zero"}
		}
	case models.RoleStaff:
		if details.Staff == nil {
			return &errs.ValidationError{Field: "details", Message: "staff details are required"}
		}
		if !gemsIDRe.MatchString(details.Staff.GemsID) {
			return &errs.ValidationError{Field: "staff_gems_id", Message: "must be 6 digits starting with non-zero"}
		}
	case models.RoleVisitor:
		// no role-specific fields
	default:
		return &errs.ValidationError{Field: "role", Message: "must be parent, staff, or visitor"}
	}

	if gemsID := details.GemsID(); gemsID != "" {
		exists, err := as.store.GemsIDExists(ctx, gemsID, excludeUserID)
		if err != nil {
			return &errs.BackendError{Op: "check gems id", Err: err}
		}
		if exists {
			return &errs.ValidationError{Field: "gems_id", Message: "this GEMS ID is already registered"}
		}
	}
	return nil
}
