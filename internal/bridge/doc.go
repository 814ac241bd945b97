// Package bridge holds the shared conversation state between two paired
// agents and the verdict grammar they use to talk to the supervisor.
//
// A [State] tracks which agent holds the turn, the review round, any
// permission prompt waiting on a pane, error patience counters, and the
// session metrics printed at teardown. It is safe for concurrent use; the
// supervisor's monitor loop and the prompt servicer both touch it.
//
// Verdicts are single uppercase tags an agent writes on a line of its own
// inside a feedback artifact:
//
//	VERDICT: APPROVED      review passed, hand the turn back
//	VERDICT: NEEDS_WORK    review failed, initiator revises
//	VERDICT: CONSENSUS     both agents accept the result
//	STATUS: OK | NOTE | SUGGESTION
//	INTERJECT: <message>   urgent, interrupt the working agent now
//
// [ParseVerdict] applies the grammar: the last VERDICT line wins, and an
// INTERJECT outranks any STATUS in the same artifact. Text that matches no
// tag is prose and is ignored.
package bridge
