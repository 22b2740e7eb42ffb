package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/mtowater/waterbilling/internal/storage"
)

type Service struct {
	storage  storage.Storage
	enforcer *casbin.Enforcer
}

func NewService(s storage.Storage) (*Service, error) {
	m, err := model.NewModelFromString(`
[request_definition]
r = sub, obj, act

[policy_definition]
p = sub, obj, act

[role_definition]
g = _, _

[policy_effect]
e = some(where (p.eft == allow))

[matchers]
m = g(r.sub, p.sub) && (r.obj == p.obj || p.obj == "*") && (r.act == p.act || p.act == "*")
`)
	if err != nil {
		return nil, err
	}

	e, err := casbin.NewEnforcer(m, NewAdapter(s))
	if err != nil {
		return nil, err
	}

	// Default policies. AddPolicy is a no-op for rules already loaded from
	// storage, so restarts do not duplicate them.
	// Admin can do everything.
	e.AddPolicy("admin", "*", "*")
	// Cashier encodes bills and records payments but cannot touch accounts
	// or tenant settings.
	e.AddPolicy("cashier", "customers", "read")
	e.AddPolicy("cashier", "bills", "read")
	e.AddPolicy("cashier", "bills", "write")
	e.AddPolicy("cashier", "payments", "read")
	e.AddPolicy("cashier", "payments", "write")
	// Reader can only read.
	e.AddPolicy("reader", "customers", "read")
	e.AddPolicy("reader", "bills", "read")
	e.AddPolicy("reader", "payments", "read")

	return &Service{storage: s, enforcer: e}, nil
}

func (s *Service) Authenticate(ctx context.Context, username, password string) (*storage.User, error) {
	u, err := s.storage.GetUserByUsername(ctx, username)
	if err != nil {
		return nil, err
	}
	if u == nil {
		return nil, errors.New("invalid credentials")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		return nil, errors.New("invalid credentials")
	}
	return u, nil
}

func (s *Service) Register(ctx context.Context, username, password, role, firstName, lastName, email string) (*storage.User, error) {
	existing, err := s.storage.GetUserByUsername(ctx, username)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, errors.New("user already exists")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}

	u := storage.User{
		ID:           uuid.New().String(),
		Username:     username,
		FirstName:    firstName,
		LastName:     lastName,
		Email:        email,
		PasswordHash: string(hash),
		Role:         role,
		CreatedAt:    time.Now(),
		UpdatedAt:    time.Now(),
	}

	if err := s.storage.CreateUser(ctx, u); err != nil {
		return nil, err
	}

	s.enforcer.AddGroupingPolicy(u.ID, role)

	return &u, nil
}

func (s *Service) CreateToken(ctx context.Context, userID, name, role string, expiresAt *time.Time) (*storage.Token, string, error) {
	rawToken := uuid.New().String() + uuid.New().String()

	hasher := sha256.New()
	hasher.Write([]byte(rawToken))
	tokenHash := hex.EncodeToString(hasher.Sum(nil))

	t := storage.Token{
		ID:        uuid.New().String(),
		UserID:    userID,
		Name:      name,
		TokenHash: tokenHash,
		Role:      role,
		CreatedAt: time.Now(),
		ExpiresAt: expiresAt,
	}

	if err := s.storage.CreateToken(ctx, t); err != nil {
		return nil, "", err
	}

	return &t, rawToken, nil
}

func (s *Service) ValidateToken(ctx context.Context, rawToken string) (*storage.Token, error) {
	hasher := sha256.New()
	hasher.Write([]byte(rawToken))
	tokenHash := hex.EncodeToString(hasher.Sum(nil))

	t, err := s.storage.GetTokenByHash(ctx, tokenHash)
	if err != nil {
		return nil, err
	}
	if t == nil {
		return nil, errors.New("invalid token")
	}

	if t.ExpiresAt != nil && t.ExpiresAt.Before(time.Now()) {
		return nil, errors.New("token expired")
	}

	go s.storage.UpdateTokenLastUsed(context.Background(), t.ID)

	return t, nil
}

func (s *Service) Enforce(sub, obj, act string) (bool, error) {
	// Tokens carry the role they were minted with, so enforcement goes
	// through the role directly rather than the user's grouping policy.
	return s.enforcer.Enforce(sub, obj, act)
}
