/*
Package cloud abstracts the provider control plane behind the Adapter
interface: describe, stop, modify, start, the corresponding wait
primitives, and the instance-class catalog.

The EC2 implementation keeps one client per enabled region and classifies
modify rejections into a tagged result so the scaling state machine can
walk its fallback ladder without parsing provider errors. Wait primitives
are bounded by the caller's timeout; a lapsed wait is surfaced as an error
and never retried here.
*/
package cloud
