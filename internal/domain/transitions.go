// Conversation state machine.
//
// Statuses move forward only: new → active → closed. The guards that used to
// be re-derived per HTTP handler live in one transition table here, so every
// service consults the same matrix.
package domain

// Status is the lifecycle state of a conversation.
type Status string

const (
	// StatusNew marks a conversation no agent has engaged with yet. The
	// first message exchanged promotes it to StatusActive.
	StatusNew Status = "new"
	// StatusActive marks a conversation with at least one message exchanged.
	StatusActive Status = "active"
	// StatusClosed is terminal; no action mutates a closed conversation
	// except Close itself, which is an idempotent no-op.
	StatusClosed Status = "closed"
)

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusNew, StatusActive, StatusClosed:
		return true
	}
	return false
}

// Action is an operation attempted against a conversation.
type Action string

const (
	ActionVisitorMessage Action = "message.visitor"
	ActionAgentMessage   Action = "message.agent"
	ActionAssign         Action = "assign"
	ActionClose          Action = "close"
)

// transitions maps each status to the actions permitted while in it.
// Absence means the action is rejected.
var transitions = map[Status]map[Action]struct{}{
	StatusNew: {
		ActionVisitorMessage: {},
		ActionAgentMessage:   {},
		ActionAssign:         {},
		ActionClose:          {},
	},
	StatusActive: {
		ActionVisitorMessage: {},
		ActionAgentMessage:   {},
		ActionAssign:         {},
		ActionClose:          {},
	},
	StatusClosed: {
		ActionClose: {}, // re-closing is a no-op, not an error
	},
}

// Allows reports whether action may be applied to a conversation in status s.
// Unknown statuses allow nothing.
func (s Status) Allows(action Action) bool {
	allowed, ok := transitions[s]
	if !ok {
		return false
	}
	_, ok = allowed[action]
	return ok
}

// Next returns the status that results from applying action to status s.
// Message inserts promote "new" to "active"; Close is terminal; every other
// combination leaves the status unchanged. Callers must have checked Allows
// first; Next does not re-validate.
func (s Status) Next(action Action) Status {
	switch action {
	case ActionClose:
		return StatusClosed
	case ActionVisitorMessage, ActionAgentMessage:
		if s == StatusNew {
			return StatusActive
		}
	}
	return s
}

// NotifiesStaff reports whether a message insert by the given action should
// page staff, evaluated against the status the conversation held immediately
// before the insert. Only a visitor message arriving while the conversation
// is still "new" notifies; the same insert promotes the conversation to
// "active", so the gate fires at most once per conversation.
func (s Status) NotifiesStaff(action Action) bool {
	return s == StatusNew && action == ActionVisitorMessage
}
