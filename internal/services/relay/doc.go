// Package relay implements the real-time translated chat surface.
//
// It keeps WebSocket lifecycle, presence tracking, and message fan-out
// isolated from the translation backend so the gateway remains a swappable
// collaborator rather than part of the core state machine.
package relay
