// Package event implements the bridge's typed event stream, grounded on the
// teacher's internal/domain/event.go Event{Type, Data any} shape with typed
// accessor methods and paired constructor functions. Generalized from the
// teacher's eight process-lifecycle event kinds to the seventeen bridge/session
// lifecycle kinds spec §4.10 requires external observers (logging, metrics,
// admin tooling) to be able to subscribe to.
package event

import "time"

// Type enumerates the recognized bridge event kinds (spec §4.10).
type Type int

const (
	TypeSessionCreated Type = iota
	TypeSessionClosed
	TypeFirstTurnCompleted
	TypeBackendConnected
	TypeBackendDisconnected
	TypeBackendSessionID
	TypeBackendRelaunchNeeded
	TypeConsumerConnected
	TypeConsumerDisconnected
	TypeMessageInbound
	TypeMessageOutbound
	TypePermissionRequested
	TypePermissionResolved
	TypeCapabilitiesReady
	TypeCapabilitiesTimeout
	TypeAuthStatus
	TypeError
)

func (t Type) String() string {
	switch t {
	case TypeSessionCreated:
		return "session:created"
	case TypeSessionClosed:
		return "session:closed"
	case TypeFirstTurnCompleted:
		return "session:first_turn_completed"
	case TypeBackendConnected:
		return "backend:connected"
	case TypeBackendDisconnected:
		return "backend:disconnected"
	case TypeBackendSessionID:
		return "backend:session_id"
	case TypeBackendRelaunchNeeded:
		return "backend:relaunch_needed"
	case TypeConsumerConnected:
		return "consumer:connected"
	case TypeConsumerDisconnected:
		return "consumer:disconnected"
	case TypeMessageInbound:
		return "message:inbound"
	case TypeMessageOutbound:
		return "message:outbound"
	case TypePermissionRequested:
		return "permission:requested"
	case TypePermissionResolved:
		return "permission:resolved"
	case TypeCapabilitiesReady:
		return "capabilities:ready"
	case TypeCapabilitiesTimeout:
		return "capabilities:timeout"
	case TypeAuthStatus:
		return "auth_status"
	case TypeError:
		return "error"
	default:
		return "unknown"
	}
}

// Event is the single envelope every bridge event is delivered as. Data's
// concrete type is determined by Type; callers use the typed accessors below
// rather than asserting on Data directly.
type Event struct {
	Type      Type
	Timestamp time.Time
	SessionID string
	Data      any
}

// SessionLifecycleData carries payload for Created/Closed/FirstTurnCompleted.
type SessionLifecycleData struct {
	AdapterName string
	Reason      string
}

func NewSessionCreatedEvent(sessionID, adapterName string) Event {
	return Event{Type: TypeSessionCreated, SessionID: sessionID, Data: SessionLifecycleData{AdapterName: adapterName}}
}

func NewSessionClosedEvent(sessionID, reason string) Event {
	return Event{Type: TypeSessionClosed, SessionID: sessionID, Data: SessionLifecycleData{Reason: reason}}
}

func NewFirstTurnCompletedEvent(sessionID string) Event {
	return Event{Type: TypeFirstTurnCompleted, SessionID: sessionID}
}

func (e Event) SessionLifecycle() (SessionLifecycleData, bool) {
	d, ok := e.Data.(SessionLifecycleData)
	return d, ok
}

// BackendData carries payload for the backend:* events.
type BackendData struct {
	UpstreamSessionID string
	Err               error
}

func NewBackendConnectedEvent(sessionID string) Event {
	return Event{Type: TypeBackendConnected, SessionID: sessionID}
}

func NewBackendDisconnectedEvent(sessionID string, err error) Event {
	return Event{Type: TypeBackendDisconnected, SessionID: sessionID, Data: BackendData{Err: err}}
}

func NewBackendSessionIDEvent(sessionID, upstreamID string) Event {
	return Event{Type: TypeBackendSessionID, SessionID: sessionID, Data: BackendData{UpstreamSessionID: upstreamID}}
}

func NewBackendRelaunchNeededEvent(sessionID string) Event {
	return Event{Type: TypeBackendRelaunchNeeded, SessionID: sessionID}
}

func (e Event) Backend() (BackendData, bool) {
	d, ok := e.Data.(BackendData)
	return d, ok
}

// ConsumerData carries payload for the consumer:* events.
type ConsumerData struct {
	ConsumerID string
	Identity   string
}

func NewConsumerConnectedEvent(sessionID, consumerID, identity string) Event {
	return Event{Type: TypeConsumerConnected, SessionID: sessionID, Data: ConsumerData{ConsumerID: consumerID, Identity: identity}}
}

func NewConsumerDisconnectedEvent(sessionID, consumerID string) Event {
	return Event{Type: TypeConsumerDisconnected, SessionID: sessionID, Data: ConsumerData{ConsumerID: consumerID}}
}

func (e Event) Consumer() (ConsumerData, bool) {
	d, ok := e.Data.(ConsumerData)
	return d, ok
}

// MessageData carries payload for message:inbound/outbound.
type MessageData struct {
	ConsumerID  string
	MessageType string
}

func NewMessageInboundEvent(sessionID, consumerID, messageType string) Event {
	return Event{Type: TypeMessageInbound, SessionID: sessionID, Data: MessageData{ConsumerID: consumerID, MessageType: messageType}}
}

func NewMessageOutboundEvent(sessionID, messageType string) Event {
	return Event{Type: TypeMessageOutbound, SessionID: sessionID, Data: MessageData{MessageType: messageType}}
}

func (e Event) Message() (MessageData, bool) {
	d, ok := e.Data.(MessageData)
	return d, ok
}

// PermissionData carries payload for permission:requested/resolved.
type PermissionData struct {
	RequestID string
	ToolName  string
	Reply     string
}

func NewPermissionRequestedEvent(sessionID, requestID, toolName string) Event {
	return Event{Type: TypePermissionRequested, SessionID: sessionID, Data: PermissionData{RequestID: requestID, ToolName: toolName}}
}

func NewPermissionResolvedEvent(sessionID, requestID, reply string) Event {
	return Event{Type: TypePermissionResolved, SessionID: sessionID, Data: PermissionData{RequestID: requestID, Reply: reply}}
}

func (e Event) Permission() (PermissionData, bool) {
	d, ok := e.Data.(PermissionData)
	return d, ok
}

// CapabilitiesData carries payload for capabilities:ready/timeout.
type CapabilitiesData struct {
	CommandCount int
	ModelCount   int
}

func NewCapabilitiesReadyEvent(sessionID string, commandCount, modelCount int) Event {
	return Event{Type: TypeCapabilitiesReady, SessionID: sessionID, Data: CapabilitiesData{CommandCount: commandCount, ModelCount: modelCount}}
}

func NewCapabilitiesTimeoutEvent(sessionID string) Event {
	return Event{Type: TypeCapabilitiesTimeout, SessionID: sessionID}
}

func (e Event) Capabilities() (CapabilitiesData, bool) {
	d, ok := e.Data.(CapabilitiesData)
	return d, ok
}

// AuthStatusData carries payload for auth_status.
type AuthStatusData struct {
	Status string
}

func NewAuthStatusEvent(sessionID, status string) Event {
	return Event{Type: TypeAuthStatus, SessionID: sessionID, Data: AuthStatusData{Status: status}}
}

func (e Event) AuthStatus() (AuthStatusData, bool) {
	d, ok := e.Data.(AuthStatusData)
	return d, ok
}

// ErrorData carries payload for error.
type ErrorData struct {
	Err error
}

func NewErrorEvent(sessionID string, err error) Event {
	return Event{Type: TypeError, SessionID: sessionID, Data: ErrorData{Err: err}}
}

func (e Event) AsError() (ErrorData, bool) {
	d, ok := e.Data.(ErrorData)
	return d, ok
}
