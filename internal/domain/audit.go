package domain

import "time"

// AuditAction tags a privileged action recorded in the audit log.
type AuditAction string

// Audit actions.
const (
	AuditGrantAdmin          AuditAction = "GRANT_ADMIN"
	AuditRevokeAdmin         AuditAction = "REVOKE_ADMIN"
	AuditBlockUser           AuditAction = "BLOCK_USER"
	AuditUnblockUser         AuditAction = "UNBLOCK_USER"
	AuditUpdateAppSettings   AuditAction = "UPDATE_APP_SETTINGS"
	AuditEnableChannel       AuditAction = "ENABLE_CHANNEL"
	AuditDisableChannel      AuditAction = "DISABLE_CHANNEL"
	AuditUpdateChannelTerms  AuditAction = "UPDATE_CHANNEL_TERMS"
	AuditConfirmSubscription AuditAction = "CONFIRM_SUBSCRIPTION"
)

// AuditSeverity ranks audit actions for display.
type AuditSeverity string

// Audit severities.
const (
	AuditSeverityInfo     AuditSeverity = "info"
	AuditSeverityWarning  AuditSeverity = "warning"
	AuditSeverityCritical AuditSeverity = "critical"
)

// AuditActionMeta is display metadata for an audit action.
type AuditActionMeta struct {
	Label    string        `json:"label"`
	Icon     string        `json:"icon"`
	Severity AuditSeverity `json:"severity"`
}

// AllAuditActions lists every known audit action.
func AllAuditActions() []AuditAction {
	return []AuditAction{
		AuditGrantAdmin,
		AuditRevokeAdmin,
		AuditBlockUser,
		AuditUnblockUser,
		AuditUpdateAppSettings,
		AuditEnableChannel,
		AuditDisableChannel,
		AuditUpdateChannelTerms,
		AuditConfirmSubscription,
	}
}

// IsValid checks if the action is a known audit action.
func (a AuditAction) IsValid() bool {
	_, ok := a.lookup()
	return ok
}

// Meta returns display metadata for the action.
// Unknown actions get a neutral fallback so old rows remain readable.
func (a AuditAction) Meta() AuditActionMeta {
	if m, ok := a.lookup(); ok {
		return m
	}
	return AuditActionMeta{Label: string(a), Icon: "circle", Severity: AuditSeverityInfo}
}

func (a AuditAction) lookup() (AuditActionMeta, bool) {
	switch a {
	case AuditGrantAdmin:
		return AuditActionMeta{Label: "Admin granted", Icon: "shield-plus", Severity: AuditSeverityCritical}, true
	case AuditRevokeAdmin:
		return AuditActionMeta{Label: "Admin revoked", Icon: "shield-minus", Severity: AuditSeverityCritical}, true
	case AuditBlockUser:
		return AuditActionMeta{Label: "User blocked", Icon: "user-x", Severity: AuditSeverityWarning}, true
	case AuditUnblockUser:
		return AuditActionMeta{Label: "User unblocked", Icon: "user-check", Severity: AuditSeverityInfo}, true
	case AuditUpdateAppSettings:
		return AuditActionMeta{Label: "Settings updated", Icon: "settings", Severity: AuditSeverityWarning}, true
	case AuditEnableChannel:
		return AuditActionMeta{Label: "Channel enabled", Icon: "radio", Severity: AuditSeverityInfo}, true
	case AuditDisableChannel:
		return AuditActionMeta{Label: "Channel disabled", Icon: "radio-off", Severity: AuditSeverityWarning}, true
	case AuditUpdateChannelTerms:
		return AuditActionMeta{Label: "Channel terms updated", Icon: "tag", Severity: AuditSeverityWarning}, true
	case AuditConfirmSubscription:
		return AuditActionMeta{Label: "Subscription confirmed", Icon: "credit-card", Severity: AuditSeverityInfo}, true
	}
	return AuditActionMeta{}, false
}

// AuditLogEntry is an immutable record of a privileged action.
// Details is deliberately untyped: its shape varies per action.
type AuditLogEntry struct {
	ID              string         `json:"id"`
	ActorUID        string         `json:"actor_uid"`
	ActorEmail      string         `json:"actor_email"`
	Action          AuditAction    `json:"action"`
	TargetUserID    *string        `json:"target_user_id,omitempty"`
	TargetUserEmail *string        `json:"target_user_email,omitempty"`
	Details         map[string]any `json:"details,omitempty"`
	OriginIP        *string        `json:"origin_ip,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
}
