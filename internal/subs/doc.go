// Package subs is the subscription store: the durable mapping of chat group
// to subscribed entity IDs per source kind, plus the per-entity baselines
// the pollers use to tell "already delivered" from "new".
//
// It is the only shared mutable state in the push engine. All mutation goes
// through its methods; no other component caches its contents across ticks.
package subs
