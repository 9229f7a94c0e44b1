package taskstream

import (
	"time"

	"github.com/UniQw/taskstream/internal/keys"
	"github.com/google/uuid"
)

// DefaultClaimMinIdle is how long an entry must stay unacknowledged before
// the claiming path takes it over.
const DefaultClaimMinIdle = time.Minute

// ConsumerIdentity is the process-unique part of consumer names. Generate it
// once at startup and pass it to every NewTopology call of the process.
type ConsumerIdentity string

// NewConsumerIdentity returns a fresh random identity. Identities are never
// reused, so a restarted process never inherits the names of its previous run.
func NewConsumerIdentity() ConsumerIdentity { return ConsumerIdentity(uuid.NewString()) }

func (c ConsumerIdentity) String() string { return string(c) }

// Topology is one stream/group pair served by a process, with the two
// consumer names of that process.
type Topology struct {
	Stream           string
	Group            string
	MainConsumer     string
	ClaimingConsumer string
	ClaimMinIdle     time.Duration
}

// NewTopology names the consumers <group>-<identity> and <group>-<identity>-claiming.
// A non-positive claimMinIdle selects DefaultClaimMinIdle.
func NewTopology(stream, group string, id ConsumerIdentity, claimMinIdle time.Duration) Topology {
	if claimMinIdle <= 0 {
		claimMinIdle = DefaultClaimMinIdle
	}
	c := keys.For(group, id.String())
	return Topology{
		Stream:           stream,
		Group:            group,
		MainConsumer:     c.Main,
		ClaimingConsumer: c.Claiming,
		ClaimMinIdle:     claimMinIdle,
	}
}

// ConsumerNames returns the main and claiming names.
func (t Topology) ConsumerNames() []string {
	return keys.Consumers{Main: t.MainConsumer, Claiming: t.ClaimingConsumer}.Names()
}
