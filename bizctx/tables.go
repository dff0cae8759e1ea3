package bizctx

// TableEntities maps database table names to the business entity type that
// is stored in them.
var TableEntities = map[string]string{
	"categories":         "category",
	"operations":         "financial_operation",
	"fast_operations":    "fast_operation",
	"regular_operations": "regular_operation",
	"places":             "place",
	"debts":              "debt",
	"debt_owners":        "debt_owner",
	"cars":               "vehicle",
	"car_events":         "vehicle_event",
	"domain_users":       "user",

	"asp_net_users":       "identity_user",
	"asp_net_roles":       "identity_role",
	"asp_net_user_roles":  "identity_user_role",
	"asp_net_user_claims": "identity_user_claim",
	"asp_net_role_claims": "identity_role_claim",

	"openiddict_applications":   "oauth_application",
	"openiddict_authorizations": "oauth_authorization",
	"openiddict_scopes":         "oauth_scope",
	"openiddict_tokens":         "oauth_token",
}

// SQLVerbActions maps the leading SQL verb of a statement to the business
// action it performs.
var SQLVerbActions = map[string]string{
	"SELECT": "read",
	"INSERT": "create",
	"UPDATE": "update",
	"DELETE": "delete",
	"MERGE":  "upsert",
}

// PriorityLevel is the business importance of an operation.
type PriorityLevel string

const (
	PriorityLow    PriorityLevel = "low"
	PriorityMedium PriorityLevel = "medium"
	PriorityHigh   PriorityLevel = "high"
)

// EntityPriority returns the priority of operations on entityType.
func EntityPriority(entityType string) PriorityLevel {
	switch entityType {
	case "financial_operation", "fast_operation", "regular_operation":
		return PriorityHigh
	case "debt", "category":
		return PriorityMedium
	default:
		return PriorityLow
	}
}

// Priority returns the priority of an extracted business context. Contexts
// without a single entity type have low priority.
func Priority(bctx Context) PriorityLevel {
	entityType, _ := bctx.Get(KeyEntityType)
	return EntityPriority(entityType)
}

// Category returns the coarse business grouping of entityType.
func Category(entityType string) string {
	switch entityType {
	case "financial_operation", "fast_operation", "regular_operation":
		return "financial"
	case "debt", "debt_owner":
		return "debt_management"
	case "category", "place":
		return "reference_data"
	case "vehicle", "vehicle_event":
		return "vehicle_management"
	case "user", "identity_user":
		return "user_management"
	case "oauth_application", "oauth_authorization", "oauth_scope", "oauth_token":
		return "authentication"
	default:
		return "general"
	}
}
