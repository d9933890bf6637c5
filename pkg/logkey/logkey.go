package logkey

// Keys used as slog attribute names so log lines stay greppable across packages.
const (
	TraceID   = "TRACE ID"
	ERROR     = "ERROR"
	OrderID   = "OrderID"
	SessionID = "SessionID"
	EventID   = "EventID"
	EventType = "EventType"
	ProductID = "ProductID"
)
