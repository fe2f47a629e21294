// Package dispatch is the principal's dispatch orchestrator.
//
// A dispatch moves through four steps:
//
//  1. Trigger: run events_dir/<event> and take its stdout as the payload.
//  2. Respond locally: run this host's handlers for the topic, if any.
//  3. Resolve: look up the agents subscribed to the topic.
//  4. Broadcast: POST the payload to each agent with a freshly minted token.
//
// A trigger failure stops the dispatch. Local handler problems are logged
// only. Every subscribed agent is attempted; if any delivery fails the
// dispatch as a whole fails with ErrBroadcast, joined with one
// DeliveryError per failed agent.
package dispatch
