// Package keys centralizes Redis key and consumer name construction.
// It is kept in internal to avoid leaking naming formats to public API.
package keys

// StatusPrefix namespaces every task status record.
const StatusPrefix = "task:status:"

// ClaimingSuffix marks the recovery consumer of a process.
const ClaimingSuffix = "-claiming"

// Status returns the key holding the status record of a correlation id.
func Status(id string) string { return StatusPrefix + id }

// MainConsumer returns the main path consumer name: <group>-<identity>.
func MainConsumer(group, identity string) string { return group + "-" + identity }

// ClaimingConsumer returns the claiming path consumer name: <group>-<identity>-claiming.
func ClaimingConsumer(group, identity string) string {
	return MainConsumer(group, identity) + ClaimingSuffix
}

// Consumers holds both precomputed consumer names of one process for a group.
type Consumers struct {
	Main     string
	Claiming string
}

// For returns the consumer names for the provided group and process identity.
func For(group, identity string) Consumers {
	return Consumers{
		Main:     MainConsumer(group, identity),
		Claiming: ClaimingConsumer(group, identity),
	}
}

// Names returns both names in main, claiming order.
func (c Consumers) Names() []string { return []string{c.Main, c.Claiming} }
