package carwings

// ============================================================================
// Push-channel events
// ============================================================================

// Event is one notification delivered to a ConnectionManager subscriber.
// The set of implementations is closed; switch on the concrete type:
//
//	switch ev := ev.(type) {
//	case carwings.Connected:
//	case carwings.Disconnected:
//	case carwings.Reconnecting:
//	case carwings.ClientError:
//	case carwings.ServerAck:
//	case carwings.AlertReceived:
//	case carwings.VehicleUpdated:
//	}
type Event interface {
	// Kind returns a short stable name, used for logging.
	Kind() string
	isEvent()
}

// Connected is emitted once the server acknowledged the subscription.
// Silent is true when the reconnect never became visible to the user.
type Connected struct {
	Silent bool
}

// Disconnected is emitted whenever the socket is lost while the manager
// still wants a connection.
type Disconnected struct{}

// Reconnecting is emitted once per outage, when the attempt counter reaches
// VisibleReconnectAttempt.
type Reconnecting struct{}

// ClientError carries a transport or decode failure message.
type ClientError struct {
	Message string
}

// ServerAck is the server's "listen" acknowledgement.
type ServerAck struct{}

// AlertReceived carries a new alert pushed by the server.
type AlertReceived struct {
	Alert Alert
}

// VehicleUpdated carries a full vehicle snapshot pushed by the server.
type VehicleUpdated struct {
	Car Car
}

func (Connected) Kind() string      { return "connected" }
func (Disconnected) Kind() string   { return "disconnected" }
func (Reconnecting) Kind() string   { return "reconnecting" }
func (ClientError) Kind() string    { return "client_error" }
func (ServerAck) Kind() string      { return "server_ack" }
func (AlertReceived) Kind() string  { return "alert" }
func (VehicleUpdated) Kind() string { return "vehicle_updated" }

func (Connected) isEvent()      {}
func (Disconnected) isEvent()   {}
func (Reconnecting) isEvent()   {}
func (ClientError) isEvent()    {}
func (ServerAck) isEvent()      {}
func (AlertReceived) isEvent()  {}
func (VehicleUpdated) isEvent() {}
