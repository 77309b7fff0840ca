/*
Package evaluate decides, at activation time, which replicas of a cluster
are safe to scale.

Two modes exist. In per-replica mode each predicate of the rule is applied
to the replica's own probe snapshot; a failed predicate or a failed probe
rejects that replica. When the cluster carries a management policy with an
average-load budget, a packing pass substitutes for the load predicate:
replicas are admitted in ascending load order while the primary's load
plus the admitted loads stays strictly under the budget.
*/
package evaluate
