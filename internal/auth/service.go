// Package auth handles accounts, browser sessions and the second login
// factor.
package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
	"golang.org/x/crypto/bcrypt"

	"energytiles/internal/config"
	"energytiles/internal/db"
	"energytiles/internal/energy"
)

var (
	ErrInvalidCredentials = errors.New("invalid username or password")
	ErrUsernameTaken      = errors.New("username already exists")
	ErrWeakPassword       = errors.New("password must be at least 6 characters")
	ErrPasswordMismatch   = errors.New("passwords do not match")
	ErrShortUsername      = errors.New("username must be at least 3 characters")
	ErrChallengeExpired   = errors.New("MFA session expired, please log in again")
	ErrInvalidOTP         = errors.New("invalid verification code")
	ErrNoSession          = errors.New("not logged in")
)

const (
	minUsernameLen = 3
	minPasswordLen = 6

	// TOTPIssuer labels the account in authenticator apps.
	TOTPIssuer = "Energy Tiles"
)

// MFA methods accepted by VerifyMFA.
const (
	MethodEmail = "email"
	MethodTOTP  = "totp"
)

// Store is the account persistence. *db.Store implements it.
type Store interface {
	FindUser(ctx context.Context, username string) (db.User, error)
	CreateUser(ctx context.Context, u *db.User) error

	CreateSession(ctx context.Context, s *db.Session) error
	FindSession(ctx context.Context, token string, now time.Time) (db.Session, error)
	DeleteSession(ctx context.Context, token string) error

	CreateChallenge(ctx context.Context, c *db.MFAChallenge) error
	FindChallenge(ctx context.Context, id string, now time.Time) (db.MFAChallenge, error)
	DeleteChallenge(ctx context.Context, id string) error

	TouchMetrics(ctx context.Context, username, month string) (energy.Metrics, error)
}

// Service implements registration and login.
type Service struct {
	store Store
	cfg   *config.Config
	now   func() time.Time
	cost  int
}

// NewService builds a Service using the wall clock.
func NewService(store Store, cfg *config.Config) *Service {
	return &Service{store: store, cfg: cfg, now: time.Now, cost: bcrypt.DefaultCost}
}

// Registration is a sign-up form.
type Registration struct {
	Username string
	Email    string
	Password string
	Confirm  string
}

// Registered is a new account. TOTP is set for users and carries the
// provisioning URL for authenticator apps.
type Registered struct {
	User db.User
	TOTP *otp.Key
}

// Register creates a user account, its TOTP secret and an empty metrics
// row.
func (s *Service) Register(ctx context.Context, r Registration) (Registered, error) {
	u, err := s.newAccount(ctx, r, db.RoleUser)
	if err != nil {
		return Registered{}, err
	}

	key, err := totp.Generate(totp.GenerateOpts{Issuer: TOTPIssuer, AccountName: u.Username})
	if err != nil {
		return Registered{}, fmt.Errorf("generate totp secret: %w", err)
	}
	u.TOTPSecret = key.Secret()

	if err := s.store.CreateUser(ctx, &u); err != nil {
		return Registered{}, err
	}
	if _, err := s.store.TouchMetrics(ctx, u.Username, energy.MonthOf(s.now())); err != nil {
		return Registered{}, err
	}
	return Registered{User: u, TOTP: key}, nil
}

// RegisterAdmin creates an admin account.
func (s *Service) RegisterAdmin(ctx context.Context, r Registration) (db.User, error) {
	u, err := s.newAccount(ctx, r, db.RoleAdmin)
	if err != nil {
		return db.User{}, err
	}
	if err := s.store.CreateUser(ctx, &u); err != nil {
		return db.User{}, err
	}
	return u, nil
}

func (s *Service) newAccount(ctx context.Context, r Registration, role string) (db.User, error) {
	username := strings.TrimSpace(r.Username)
	if len(username) < minUsernameLen {
		return db.User{}, ErrShortUsername
	}
	_, err := s.store.FindUser(ctx, username)
	switch {
	case err == nil:
		return db.User{}, ErrUsernameTaken
	case !errors.Is(err, db.ErrNotFound):
		return db.User{}, err
	}
	if r.Password != r.Confirm {
		return db.User{}, ErrPasswordMismatch
	}
	if len(r.Password) < minPasswordLen {
		return db.User{}, ErrWeakPassword
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(r.Password), s.cost)
	if err != nil {
		return db.User{}, fmt.Errorf("hash password: %w", err)
	}
	return db.User{
		Username:     username,
		Email:        strings.TrimSpace(r.Email),
		PasswordHash: string(hash),
		Role:         role,
	}, nil
}

// LoginResult holds either a session or a pending second factor.
type LoginResult struct {
	Session   *db.Session
	Challenge *db.MFAChallenge
}

// Login checks a user's password. With UserMFA enabled the user must then
// pass VerifyMFA with a TOTP code.
func (s *Service) Login(ctx context.Context, username, password string) (LoginResult, error) {
	u, err := s.checkPassword(ctx, username, password, db.RoleUser)
	if err != nil {
		return LoginResult{}, err
	}
	if s.cfg.UserMFA && u.TOTPSecret != "" {
		c, err := s.challenge(ctx, u, "")
		if err != nil {
			return LoginResult{}, err
		}
		return LoginResult{Challenge: &c}, nil
	}
	sess, err := s.startSession(ctx, u.Username, u.Role)
	if err != nil {
		return LoginResult{}, err
	}
	return LoginResult{Session: &sess}, nil
}

// AdminLogin checks an admin's password and opens an MFA challenge.
func (s *Service) AdminLogin(ctx context.Context, username, password string) (db.MFAChallenge, error) {
	u, err := s.checkPassword(ctx, username, password, db.RoleAdmin)
	if err != nil {
		return db.MFAChallenge{}, err
	}
	c, err := s.challenge(ctx, u, s.cfg.AdminOTP)
	if err != nil {
		return db.MFAChallenge{}, err
	}
	// No mail transport; the code is fixed and only logged.
	log.Printf("mfa: challenge %s opened for admin %s", c.ID, u.Username)
	return c, nil
}

func (s *Service) checkPassword(ctx context.Context, username, password, role string) (db.User, error) {
	u, err := s.store.FindUser(ctx, strings.TrimSpace(username))
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return db.User{}, ErrInvalidCredentials
		}
		return db.User{}, err
	}
	if u.Role != role {
		return db.User{}, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		return db.User{}, ErrInvalidCredentials
	}
	return u, nil
}

func (s *Service) challenge(ctx context.Context, u db.User, code string) (db.MFAChallenge, error) {
	now := s.now().UTC()
	c := db.MFAChallenge{
		ID:        uuid.NewString(),
		CreatedAt: now,
		Username:  u.Username,
		Role:      u.Role,
		OTP:       code,
		ExpiresAt: now.Add(s.cfg.MFATTL),
	}
	if err := s.store.CreateChallenge(ctx, &c); err != nil {
		return db.MFAChallenge{}, err
	}
	return c, nil
}

// Challenge returns a pending, unexpired challenge.
func (s *Service) Challenge(ctx context.Context, id string) (db.MFAChallenge, error) {
	if id == "" {
		return db.MFAChallenge{}, ErrChallengeExpired
	}
	c, err := s.store.FindChallenge(ctx, id, s.now().UTC())
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return db.MFAChallenge{}, ErrChallengeExpired
		}
		return db.MFAChallenge{}, err
	}
	return c, nil
}

// VerifyMFA completes a challenge. The email method compares against the
// code stored with the challenge; the totp method checks the user's
// authenticator. A wrong code leaves the challenge open for another try.
func (s *Service) VerifyMFA(ctx context.Context, challengeID, method, code string) (db.Session, error) {
	c, err := s.Challenge(ctx, challengeID)
	if err != nil {
		return db.Session{}, err
	}

	ok := false
	switch method {
	case MethodEmail:
		ok = c.OTP != "" && subtle.ConstantTimeCompare([]byte(code), []byte(c.OTP)) == 1
	case MethodTOTP:
		ok, err = s.validateTOTP(ctx, c, code)
		if err != nil {
			return db.Session{}, err
		}
	}
	if !ok {
		return db.Session{}, ErrInvalidOTP
	}

	if err := s.store.DeleteChallenge(ctx, c.ID); err != nil {
		return db.Session{}, err
	}
	return s.startSession(ctx, c.Username, c.Role)
}

func (s *Service) validateTOTP(ctx context.Context, c db.MFAChallenge, code string) (bool, error) {
	if c.Role != db.RoleUser {
		return false, nil
	}
	u, err := s.store.FindUser(ctx, c.Username)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	if u.TOTPSecret == "" {
		return false, nil
	}
	return totp.ValidateCustom(strings.TrimSpace(code), u.TOTPSecret, s.now().UTC(), totp.ValidateOpts{
		Period:    30,
		Skew:      1,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
}

func (s *Service) startSession(ctx context.Context, username, role string) (db.Session, error) {
	token, err := NewToken("")
	if err != nil {
		return db.Session{}, err
	}
	now := s.now().UTC()
	sess := db.Session{
		CreatedAt: now,
		Token:     token,
		Username:  username,
		Role:      role,
		ExpiresAt: now.Add(s.cfg.SessionTTL),
	}
	if err := s.store.CreateSession(ctx, &sess); err != nil {
		return db.Session{}, err
	}
	return sess, nil
}

// Session resolves a session cookie.
func (s *Service) Session(ctx context.Context, token string) (db.Session, error) {
	if token == "" {
		return db.Session{}, ErrNoSession
	}
	sess, err := s.store.FindSession(ctx, token, s.now().UTC())
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return db.Session{}, ErrNoSession
		}
		return db.Session{}, err
	}
	return sess, nil
}

// Logout ends a session. Unknown tokens are ignored.
func (s *Service) Logout(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}
	return s.store.DeleteSession(ctx, token)
}
