package models

// TriggerKind is the closed set of ways a rule can be started.
type TriggerKind string

const (
	TriggerEvent     TriggerKind = "event"
	TriggerSchedule  TriggerKind = "schedule"
	TriggerManual    TriggerKind = "manual"
	TriggerWebhook   TriggerKind = "webhook"
	TriggerCondition TriggerKind = "condition"
)

// Trigger describes what starts a rule. Event triggers match a domain
// event name (e.g. "ticket.created"), schedule triggers carry a cron
// spec, manual and webhook triggers are dispatched by explicit rule ID.
type Trigger struct {
	Kind          TriggerKind    `json:"kind"               validate:"required,oneof=event schedule manual webhook condition"`
	Event         string         `json:"event,omitempty"`
	Schedule      *ScheduleSpec  `json:"schedule,omitempty"`
	Configuration map[string]any `json:"configuration,omitempty"`
}

// Common help-desk event names used by event triggers.
const (
	EventTicketCreated  = "ticket.created"
	EventTicketUpdated  = "ticket.updated"
	EventTicketAssigned = "ticket.assigned"
	EventTicketClosed   = "ticket.closed"
	EventTicketComment  = "ticket.comment"
	EventSLABreached    = "sla.breached"
	EventSLAWarning     = "sla.warning"
)
