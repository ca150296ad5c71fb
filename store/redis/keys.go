package redis

// Redis key naming conventions for settle data.
// All keys are prefixed with "settle:" to avoid collisions.

const keyPrefix = "settle:"

// ── Run keys ──

// runKey returns the key for a saga run entity: settle:run:{id}
func runKey(id string) string { return keyPrefix + "run:" + id }

// runIDsKey is the Set tracking all run IDs for enumeration.
const runIDsKey = keyPrefix + "run_ids"

// checkpointKey returns the key for a checkpoint: settle:checkpoint:{runID}:{step}
func checkpointKey(runID, step string) string {
	return keyPrefix + "checkpoint:" + runID + ":" + step
}

// checkpointIndexKey returns the Set key tracking checkpoints for a run.
func checkpointIndexKey(runID string) string {
	return keyPrefix + "checkpoint_idx:" + runID
}

// ── Signal keys ──

// signalKey returns the key for a signal entity: settle:signal:{id}
func signalKey(id string) string { return keyPrefix + "signal:" + id }

// mailboxKey returns the List key holding a run's signal ids in arrival
// order: settle:mailbox:{runID}
func mailboxKey(runID string) string { return keyPrefix + "mailbox:" + runID }

// correlationKey maps a provider correlation id to a run id.
func correlationKey(correlationID string) string {
	return keyPrefix + "correlation:" + correlationID
}

// ── Audit keys ──

// auditLogKey is the List holding the append-only audit trail.
const auditLogKey = keyPrefix + "audit_log"

// ── Review keys ──

// reviewKey returns the key for a review entry: settle:review:{id}
func reviewKey(id string) string { return keyPrefix + "review:" + id }

// reviewIDsKey is the Set tracking all review entry IDs for enumeration.
const reviewIDsKey = keyPrefix + "review_ids"
