// Package rotation replaces one secret class of a deployment with a freshly
// generated value.
//
// # Blast radius
//
// The three classes share one shape but differ in what a rotation destroys:
//
//   - password: data-preserving. Every database role is altered, then the
//     config record. A single y/N confirmation is enough.
//   - signing_secret: session-invalidating. The database setting is replaced,
//     both derived tokens are re-minted and written to the config record
//     together with the secret. Every token issued before the rotation stops
//     verifying.
//   - encryption_key: destructive. The encrypted subsystem's table is
//     truncated and the new key written to the config record. A backup
//     cannot help here: its contents are unreadable under the new key.
//
// # Confirmation
//
// Confirmation is a state machine driven by a Prompter:
//
//	AwaitingBackupChoice -> AwaitingLossAck -> AwaitingRegenerabilityAck -> AwaitingTypedPhrase -> Executing
//
// Each class walks the subset of stages that matches its blast radius. The
// typed phrases differ per class so a phrase pasted from one rotation cannot
// confirm another. LinePrompter reads a terminal, FlagPrompter answers from
// command-line flags, ScriptedPrompter replays a fixed list for tests.
//
// # Ordering
//
// Within one rotation the backing stores are written first, then the config
// record in one atomic replace, then dependent services are restarted. An
// interruption therefore leaves the config record holding the old value the
// untouched stores still agree with. The first failing step stops the run and
// every later step is reported as skipped; nothing is rolled back. When some
// backing store already holds the new value but the config record does not,
// the new values are written to a recovery file so the operator can finish
// the rotation by hand.
package rotation
