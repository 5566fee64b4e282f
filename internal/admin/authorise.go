package admin

// Action names one admin mutation the authorise choke point guards.
type Action string

const (
	ActionPatchUser         Action = "patch_user"
	ActionSuspendTenant     Action = "suspend_tenant"
	ActionPatchProfile      Action = "patch_profile"
	ActionForceDisconnect   Action = "force_disconnect"
	ActionAcknowledgeAlert  Action = "acknowledge_alert"
	ActionCreateAlert       Action = "create_alert"
	ActionBroadcast         Action = "broadcast"
	ActionActivateKillSwitch Action = "activate_kill_switch"
	ActionReenableKillSwitch Action = "reenable_kill_switch"
	ActionTriggerPanicHedge  Action = "trigger_panic_hedge"
)

// Decision is the single Allow/Deny verdict authorise returns.
type Decision struct {
	Allow  bool
	Reason string
}

func allow() Decision { return Decision{Allow: true} }
func deny(reason string) Decision { return Decision{Allow: false, Reason: reason} }

// actor is the caller invoking an admin operation.
type actor struct {
	TenantID string
	IsAdmin  bool
}

// authorise is the single choke point every admin mutation runs through
// before touching state, replacing what the source expresses as decorator
// wrappers on each handler. target is the tenant id the action would apply
// to; for profile/alert actions it is the owning tenant. selfSensitive is
// true only when the mutation itself would demote, deactivate, or suspend
// the caller — an otherwise-harmless self-edit (e.g. changing one's own
// tier) is not blocked.
func authorise(a actor, action Action, target string, selfSensitive bool) Decision {
	if !a.IsAdmin {
		return deny("caller is not an admin")
	}
	if target == a.TenantID && selfSensitive {
		switch action {
		case ActionSuspendTenant:
			return deny("cannot suspend self")
		case ActionPatchUser:
			return deny("cannot demote or deactivate self")
		}
	}
	return allow()
}
