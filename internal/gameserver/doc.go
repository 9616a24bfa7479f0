// Package gameserver provides the battle backend: the per-channel battle
// loops and the hub that owns them, the WebSocket snapshot/delta feed, and
// the REST join/leave endpoints.
//
// Each channel's battle is mutated by exactly one goroutine. Transports submit
// requests to the channel's inbox and wait for the reply; state changes fan
// out to subscribed sessions as deltas in the order they were applied.
package gameserver
