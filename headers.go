package taskstream

// Reserved header names carried in every envelope.
const (
	// HeaderMessageUUID holds the correlation id returned by Publish. It is
	// the only identity that survives redelivery and claiming.
	HeaderMessageUUID = "x-message-uuid"
	// HeaderCorrelationID is the request/reply correlation header. It
	// defaults to the message uuid.
	HeaderCorrelationID = "correlation_id"
	// HeaderContentType names the body encoding.
	HeaderContentType = "content-type"
)

const (
	contentTypeText   = "text/plain"
	contentTypeBinary = "application/octet-stream"
)
