package store

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// AccountType enumerates Tenant.account_type.
type AccountType string

const (
	AccountTypePersonal AccountType = "personal"
	AccountTypeBusiness AccountType = "business"
)

// IsolationMode enumerates Tenant.isolation_mode.
type IsolationMode string

const (
	IsolationShared    IsolationMode = "shared"
	IsolationDedicated IsolationMode = "dedicated"
)

// Tenant is a customer workspace, at most two levels deep.
type Tenant struct {
	ID             uuid.UUID
	Slug           string
	Name           string
	AccountType    AccountType
	IsolationMode  IsolationMode
	ParentID       *uuid.UUID
	HierarchyLevel int
	HierarchyPath  string
	Settings       json.RawMessage
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// User lives in the global pool; tenant membership is a separate relation.
type User struct {
	ID               uuid.UUID
	Email            string
	EmailVerified    bool
	Phone            *string
	PhoneVerified    bool
	PasswordHash     *string
	IsActive         bool
	IsPlatformAdmin  bool
	MFAEnabled       bool
	DefaultTenantID  *uuid.UUID
	FullName         *string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// TenantMember binds a user to a tenant with a tenant-local role.
type TenantMember struct {
	UserID   uuid.UUID
	TenantID uuid.UUID
	Role     string
	JoinedAt time.Time
}

// AppType enumerates Application.app_type.
type AppType string

const (
	AppTypeService AppType = "service"
	AppTypeWebapp  AppType = "webapp"
	AppTypeSPA     AppType = "spa"
	AppTypeNative  AppType = "native"
	AppTypeAPI     AppType = "api"
)

// TokenEndpointAuthMethod enumerates Application.token_endpoint_auth_method.
type TokenEndpointAuthMethod string

const (
	AuthMethodClientSecretBasic TokenEndpointAuthMethod = "client_secret_basic"
	AuthMethodClientSecretPost  TokenEndpointAuthMethod = "client_secret_post"
	AuthMethodNone              TokenEndpointAuthMethod = "none"
)

// Application is an OAuth 2.0 client registration.
type Application struct {
	ID                      uuid.UUID
	TenantID                *uuid.UUID
	Slug                    string
	AppType                 AppType
	ClientID                string
	ClientSecretHash        *string
	CallbackURLs            []string
	LogoutURLs              []string
	WebOrigins              []string
	GrantTypes              []string
	ResponseTypes           []string
	AllowedScopes           []string
	TokenEndpointAuthMethod TokenEndpointAuthMethod
	AccessTokenTTL          time.Duration
	RefreshTokenTTL         time.Duration
	IDTokenTTL              time.Duration
	IsFirstParty            bool
	IsEnabled               bool
	CreatedAt               time.Time
	UpdatedAt               time.Time
}

// ConnectionType enumerates Connection.type.
type ConnectionType string

const (
	ConnectionDatabase     ConnectionType = "database"
	ConnectionOIDC         ConnectionType = "oidc"
	ConnectionSAML         ConnectionType = "saml"
	ConnectionSocial       ConnectionType = "social"
	ConnectionPasswordless ConnectionType = "passwordless"
)

// ConnectionScope enumerates Connection.scope. A platform-scoped
// connection has no tenant_id; an organization-scoped one always does.
type ConnectionScope string

const (
	ConnectionScopePlatform     ConnectionScope = "platform"
	ConnectionScopeOrganization ConnectionScope = "organization"
)

// Connection is an upstream identity provider or local password realm.
type Connection struct {
	ID        uuid.UUID
	TenantID  *uuid.UUID
	Name      string
	Type      ConnectionType
	Scope     ConnectionScope
	Config    json.RawMessage
	IsEnabled bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// SigningKeyAlgorithm enumerates SigningKey.algorithm.
type SigningKeyAlgorithm string

const (
	AlgorithmRS256 SigningKeyAlgorithm = "RS256"
	AlgorithmEdDSA SigningKeyAlgorithm = "EdDSA"
)

// SigningKey is a row in the key manager's durable key table.
type SigningKey struct {
	ID                 string // kid
	Algorithm          SigningKeyAlgorithm
	PublicKey          []byte // DER
	PrivateKeySealed   string // AES-256-GCM sealed, "enc:" prefixed
	IsCurrent          bool
	CreatedAt          time.Time
	RotatedAt          *time.Time
	ExpiresAt          *time.Time
}

// PKCEMethod enumerates AuthorizationCode.code_challenge_method.
type PKCEMethod string

const (
	PKCES256  PKCEMethod = "S256"
	PKCEPlain PKCEMethod = "plain"
)

// AuthorizationCode is a single-use OAuth code.
type AuthorizationCode struct {
	Code                string
	ClientID            string
	UserID              uuid.UUID
	TenantID            *uuid.UUID
	RedirectURI         string
	Scope               string
	CodeChallenge       *string
	CodeChallengeMethod PKCEMethod
	Nonce               *string
	State               *string
	ExpiresAt           time.Time
	UsedAt              *time.Time
	RefreshFamilyID     *uuid.UUID
	CreatedAt           time.Time
}

// OAuthConsent records that a user approved a client for a scope set. One
// row per (user, client); re-granting replaces the scope in place.
type OAuthConsent struct {
	ID        uuid.UUID
	UserID    uuid.UUID
	ClientID  string
	Scope     string
	GrantedAt time.Time
	RevokedAt *time.Time
}

// RefreshToken is one link in a rotation family.
type RefreshToken struct {
	ID          uuid.UUID
	TokenHash   string
	ClientID    string
	UserID      uuid.UUID
	TenantID    *uuid.UUID
	FamilyID    uuid.UUID
	Scope       string
	Audience    *string
	SessionID   *uuid.UUID
	IPAddress   *string
	UserAgent   *string
	ExpiresAt   *time.Time
	RevokedAt   *time.Time
	ReplacedBy  *uuid.UUID
	CreatedAt   time.Time
}

// LoginSession underpins the browser session at the authorization server.
type LoginSession struct {
	ID              uuid.UUID
	TokenHash       string
	UserID          uuid.UUID
	TenantID        *uuid.UUID
	IP              string
	UserAgent       string
	AuthenticatedAt time.Time
	LastActiveAt    time.Time
	ExpiresAt       time.Time
	MFAVerified     bool
	RevokedAt       *time.Time
}

// LoginAttempt is one recorded authentication attempt, successful or not.
type LoginAttempt struct {
	ID            uuid.UUID
	UserID        *uuid.UUID
	Email         string
	Success       bool
	FailureReason *string
	IP            string
	UserAgent     string
	CreatedAt     time.Time
}

// AccountLockout is a durable lockout window shared by every API replica.
type AccountLockout struct {
	ID          uuid.UUID
	UserID      uuid.UUID
	Reason      string
	LockedUntil time.Time
	ReleasedAt  *time.Time
	CreatedAt   time.Time
}

// UserBan is an administrative block on an account. A nil ExpiresAt means
// the ban holds until revoked.
type UserBan struct {
	ID        uuid.UUID
	UserID    uuid.UUID
	Reason    string
	BannedBy  *uuid.UUID
	ExpiresAt *time.Time
	RevokedAt *time.Time
	CreatedAt time.Time
}

// MfaMethodType enumerates MfaMethod.type.
type MfaMethodType string

const (
	MfaTOTP    MfaMethodType = "totp"
	MfaSMS     MfaMethodType = "sms"
	MfaEmail   MfaMethodType = "email"
	MfaWebAuth MfaMethodType = "webauthn"
)

// MfaMethod is one enrolled second factor for a user.
type MfaMethod struct {
	ID           uuid.UUID
	UserID       uuid.UUID
	Type         MfaMethodType
	Secret       *string
	Phone        *string
	CredentialID *string
	PublicKey    []byte
	SignCount    int64
	Verified     bool
	IsPrimary    bool
	CreatedAt    time.Time
}

// MfaChallenge is a durable, attempt-limited in-progress MFA verification.
type MfaChallenge struct {
	ID             uuid.UUID
	UserID         uuid.UUID
	ChallengeToken string
	MethodID       *uuid.UUID
	CodeHash       *string
	Verified       bool
	Attempts       int
	IP             string
	ExpiresAt      time.Time
	CreatedAt      time.Time
}

// SubjectType enumerates RelationTuple.subject_type.
type SubjectType string

const (
	SubjectUser        SubjectType = "user"
	SubjectApplication SubjectType = "application"
	SubjectGroup       SubjectType = "group"
	SubjectUserset     SubjectType = "userset"
)

// RelationTuple is one fact in the FGA store.
type RelationTuple struct {
	StoreID        uuid.UUID
	ObjectType     string
	ObjectID       string
	Relation       string
	SubjectType    SubjectType
	SubjectID      string
	SubjectRelation string // "" when not a userset
	CreatedAt      time.Time
}

// FgaStore holds one active authorization model plus tuple history.
type FgaStore struct {
	ID                   uuid.UUID
	TenantID             uuid.UUID
	Name                 string
	CurrentModelVersion  int64
	TupleCount           int64
	IsActive             bool
	CreatedAt            time.Time
}

// AuthorizationModel is one versioned schema snapshot for a store.
type AuthorizationModel struct {
	StoreID          uuid.UUID
	Version          int64
	Schema           json.RawMessage
	IsValid          bool
	ValidationErrors []string
	CreatedAt        time.Time
}

// AuditLog is an append-only, month-partitioned event row.
type AuditLog struct {
	ID          uuid.UUID
	TenantID    *uuid.UUID
	SubTenantID *uuid.UUID
	UserID      *uuid.UUID
	EventType   string
	Category    string
	Description string
	Metadata    json.RawMessage
	IP          string
	UserAgent   string
	CreatedAt   time.Time
}

// Invitation lets an existing tenant member onboard a new user.
type Invitation struct {
	ID        uuid.UUID
	Email     string
	TenantID  uuid.UUID
	Role      string
	TokenHash string
	ExpiresAt time.Time
	AcceptedAt *time.Time
	CreatedAt time.Time
}

// VerificationTokenType enumerates VerificationToken.kind.
type VerificationTokenType string

const (
	VerificationPasswordReset VerificationTokenType = "password_reset"
	VerificationEmailVerify   VerificationTokenType = "email_verify"
	VerificationMagicLink     VerificationTokenType = "magic_link"
)

// VerificationToken is a single-use, SHA-256-hashed token backing the
// password-reset, email-verification, and passwordless magic-link flows.
// All three share one table and one consumption rule rather than three
// near-identical ones.
type VerificationToken struct {
	ID        uuid.UUID
	UserID    uuid.UUID
	TokenHash string
	Kind      VerificationTokenType
	ExpiresAt time.Time
	UsedAt    *time.Time
	CreatedAt time.Time
}

// OutboxEvent is a durable row fed to the audit or email dispatcher outside
// the request path.
type OutboxEvent struct {
	ID          uuid.UUID
	Topic       string
	Payload     json.RawMessage
	CreatedAt   time.Time
	DispatchedAt *time.Time
	Attempts    int
}
