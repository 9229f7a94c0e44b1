package taskstream

// Delivery carries one stream entry through every stage of its processing.
// A new Delivery is built per entry and per attempt; stages must not keep it
// after the attempt ends.
type Delivery struct {
	Stream   string
	Group    string
	Consumer string
	// EntryID is the broker's id for this entry. It is not stable across
	// streams and is meaningless to business code; use MessageUUID.
	EntryID string
	// Recovered is true when the claiming path took the entry over from a
	// consumer that never acknowledged it.
	Recovered bool
	// MessageUUID is read from the raw envelope before the body is decoded.
	MessageUUID string
	// Values are the entry fields exactly as read from the stream.
	Values map[string]any
	// Raw is the undecoded envelope.
	Raw []byte

	// Headers and Body are filled once the envelope is decoded.
	Headers map[string]string
	Body    []byte

	// Result and Err are the handler outcome, visible to AfterProcessed stages.
	Result any
	Err    error
}

// Header returns a decoded header value.
func (d *Delivery) Header(name string) string {
	if d.Headers == nil {
		return ""
	}
	return d.Headers[name]
}
