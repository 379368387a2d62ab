package types

// Round is a DAG layer. Round 0 holds the deterministic genesis
// certificates; round 1 is the first round an authority proposes.
type Round uint64

// Epoch is fixed for the lifetime of a committee.
type Epoch uint64

// SequenceNumber indexes committed sub-DAGs, strictly monotonic from 0.
type SequenceNumber uint64

// TimestampSec is a unix timestamp in seconds.
type TimestampSec uint64

// WorkerID identifies one of an authority's (possibly several) workers.
type WorkerID uint16

// GenesisRound is the round at which the deterministic genesis
// certificates live; round 1 headers reference them as parents.
const GenesisRound Round = 0
