package logger

// Fields is an alias for map[string]interface{} for convenience.
type Fields map[string]interface{}

// Tracing fields, propagated through the call chain via context.
const (
	// FieldRequestID is the HTTP request ID (UUID)
	FieldRequestID = "request_id"

	// FieldComponent is the component/module name
	FieldComponent = "component"

	// FieldStore is the name of the remote store instance
	FieldStore = "store"

	// FieldProductUUID is the catalog identifier of a product
	FieldProductUUID = "product_uuid"

	// FieldJobID is the remote-side job identifier of an order
	FieldJobID = "job_id"

	// FieldOrderStatus is the durable status of an order
	FieldOrderStatus = "order_status"

	// FieldPrincipal is the user that asked for a product
	FieldPrincipal = "principal"
)

// Metric fields, used on Entry for aggregation and alerting.
const (
	// FieldDurationMs is the execution duration in milliseconds
	FieldDurationMs = "duration_ms"

	// FieldCount is a generic count field
	FieldCount = "count"

	// FieldSize is the data size in bytes
	FieldSize = "size"

	// FieldStatus is the operation status
	FieldStatus = "status"
)
