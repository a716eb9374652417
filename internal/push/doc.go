// Package push is the subscription polling and fan-out delivery engine.
//
// Per source kind, a scheduled tick enumerates the entities referenced by at
// least one subscription, polls the source's collaborator, detects new state
// against the persisted baseline, and fans rendered content out to every
// subscribed group. Per-group delivery failures degrade gracefully and never
// abort delivery to the remaining groups.
package push
