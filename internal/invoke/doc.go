// Package invoke runs one-shot inference requests as transient worker processes.
//
// Each Invoke call spawns a fresh process for the request kind, writes the
// payload to its stdin, closes stdin, captures stdout, and waits for exit.
// The outcome is mapped onto protocol types:
//   - exit 0 with a well-formed document → the kind's protocol.Result variant
//   - exit ≠ 0 → ProcessError (stdout is not parsed)
//   - exit 0 with malformed output → ParseError
//   - bound exceeded → Timeout, after SIGTERM → 5s grace → SIGKILL
//   - required supervised worker not running → WorkerUnavailable, nothing spawned
//
// Stderr is captured (capped at 64KB) and logged on failure. The invoker holds
// no mutable state between calls; concurrent calls are independent processes.
// There is no retry at this layer.
package invoke
