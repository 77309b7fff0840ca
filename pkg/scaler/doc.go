/*
Package scaler drives a single node through a resize.

The state machine is stop → modify → start → running. A modify rejected
as incompatible moves to the next class on the fallback ladder; an
exhausted ladder pages for help and makes one best-effort revert to the
class captured at entry. Only a successful run advances the node record's
class fields, and only while holding the per-instance lock, so a reverse
rule always sees the class the node had before its parent fired.
*/
package scaler
