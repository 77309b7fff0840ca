/*
Package dispatch translates rule definitions into periodic activations
and bounded retry loops.

Each rule owns two schedule tags: rule_<id> for the primary schedule and
retry_rule_<id> for the lazily created retry schedule. An activation runs
the pipeline exception calendar → safety evaluator → scaling state
machine → DNS steerer. Pipeline errors schedule a retry every
retry_after minutes until retry_max attempts are spent; a successful or
benignly aborted activation cancels the retry schedule and resets the
counter. The primary schedule is never affected by retries.

The persisted rule table is the durable source of schedules: Reconcile
rebuilds the registry from it at startup, including retry schedules for
rules that were mid-retry when the controller went down.
*/
package dispatch
