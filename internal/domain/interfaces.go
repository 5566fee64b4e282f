package domain

import "context"

// BrokerClient is the Broker Capability: the narrow interface an external
// adapter exposes to the core. The core never speaks the wire protocol; it
// only calls these methods and reacts to their results.
type BrokerClient interface {
	Connect(ctx context.Context, cred BrokerCredential) error
	Disconnect(ctx context.Context) error
	QueryAccount(ctx context.Context) (BrokerAccount, error)
	ListPositions(ctx context.Context) ([]BrokerPosition, error)
	SubmitOrder(ctx context.Context, symbol, side string, size float64, sl, tp *float64) (BrokerOrderResult, error)
	CloseOrder(ctx context.Context, ticket string) (BrokerOrderResult, error)
	ModifyOrder(ctx context.Context, ticket string, sl, tp *float64) (BrokerOrderResult, error)
	SubscribeTicks(ctx context.Context, symbols []string) (<-chan BrokerTick, error)
	Healthy() bool
}

// BrokerAdapterFactory mints a BrokerClient for a given profile. Wired at
// process start so the pool never constructs adapters itself.
type BrokerAdapterFactory interface {
	NewClient(profileID string) BrokerClient
}

// Repository is the typed CRUD capability over the six logical
// tables/collections named in the external-interfaces section: tenants,
// profiles, positions, trade-history, system-events, and decision-audit.
// All multi-row mutations are transactional.
type Repository interface {
	TenantRepository
	ProfileRepository
	PositionRepository
	SystemEventRepository
	DecisionRepository
}

type TenantRepository interface {
	GetTenant(ctx context.Context, id string) (Tenant, error)
	ListTenants(ctx context.Context) ([]Tenant, error)
	SuspendTenant(ctx context.Context, id string) error
	UpdateTenant(ctx context.Context, t Tenant) error
}

type ProfileRepository interface {
	GetProfile(ctx context.Context, id string) (Profile, error)
	ListProfiles(ctx context.Context, tenantID string) ([]Profile, error)
	ListAllProfiles(ctx context.Context) ([]Profile, error)
	SaveProfile(ctx context.Context, p Profile) error
}

type PositionRepository interface {
	GetOpenPositions(ctx context.Context, profileID string) ([]Position, error)
	UpsertPosition(ctx context.Context, p Position) error
	ClosePosition(ctx context.Context, profileID, ticket string) error
	ArchiveToHistory(ctx context.Context, p Position) error
}

type SystemEventRepository interface {
	AppendSystemEvent(ctx context.Context, e SystemEvent) error
	ListSystemEvents(ctx context.Context, filter SystemEventFilter) ([]SystemEvent, error)
	AcknowledgeSystemEvent(ctx context.Context, id string) error
}

// SystemEventFilter scopes ListSystemEvents for the Admin Plane projection.
type SystemEventFilter struct {
	Severity     *Severity
	Type         string
	Acknowledged *bool
	TenantID     string
	ProfileID    string
	Limit        int
}

type DecisionRepository interface {
	SaveDecision(ctx context.Context, d Decision, chain DecisionChain) error
	GetDecision(ctx context.Context, id string) (Decision, error)
	GetChain(ctx context.Context, chainID string) (DecisionChain, error)
	CountDecisionsToday(ctx context.Context, profileID string, today string) (int, error)
	ExpirePending(ctx context.Context, asOf string) ([]Decision, error)
	QueryDecisions(ctx context.Context, q ProvenanceQuery) ([]Decision, error)
}

// ProvenanceQuery filters the decision-audit query surface (§12 supplement).
type ProvenanceQuery struct {
	ProfileID string
	Outcome   Outcome
	Since     string
	Until     string
	Limit     int
}
