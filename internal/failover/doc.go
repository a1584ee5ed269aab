// Package failover switches dispensing between the primary store and the
// in-process fallback store.
//
// The Controller owns the process-wide backend mode and performs both
// transitions:
//
//	Primary ──(store unavailable / startup probe failed)──▶ Fallback
//	Fallback ──(recovery probe succeeded)──▶ Primary
//
// On every Primary→Fallback transition the controller copies whatever it can
// read from the primary into the fallback store. The copy is best-effort: a
// failed or partial snapshot is logged and the transition proceeds. Nothing is
// copied back on recovery; tokens dispensed from the fallback during an outage
// are consumed.
//
// The Prober drives recovery on a fixed interval, independent of request
// traffic. A failed probe leaves the mode unchanged until the next tick.
package failover
