// Package ws implements signaling over plain WebSockets: a Relay server that
// keeps rooms in memory and routes JSON messages between the participants, and
// a Client implementing the Signal interface.
//
// The Relay can mirror room membership into redis so that several relays, or
// other services, can observe the rooms.
package ws
