package model

import "time"

const (
	AuditLogin            = "auth.login"
	AuditRefresh          = "auth.refresh"
	AuditLogout           = "auth.logout"
	AuditLogoutAll        = "auth.logout_all"
	AuditRegister         = "auth.register"
	AuditPasswordChange   = "auth.password_change"
	AuditDeactivate       = "auth.deactivate"
	AuditUserRoleChange   = "user.role_change"
	AuditUserStatusChange = "user.status_change"
	AuditUserDelete       = "user.delete"
	AuditPasswordReset    = "user.password_reset"

	AuditStatusSuccess = "success"
	AuditStatusFailure = "failure"
)

type AuditActor struct {
	UserID string `json:"user_id,omitempty"`
	Role   Role   `json:"role,omitempty"`
	IP     string `json:"ip,omitempty"`
}

// AuditEntry is internal-only. Reason may carry the precise failure kind
// that is never returned to unauthenticated callers.
type AuditEntry struct {
	Action     string     `json:"action"`
	OccurredAt time.Time  `json:"occurred_at"`
	Actor      AuditActor `json:"actor"`
	SubjectID  string     `json:"subject_id,omitempty"`
	Status     string     `json:"status"`
	Reason     string     `json:"reason,omitempty"`
}

type AuditQuery struct {
	Action    string
	ActorID   string
	SubjectID string
	Status    string
	Page      int
	Limit     int
}

type AuditListData struct {
	Items []AuditEntry `json:"items"`
}
