// Package dev implements the development server: the request
// dispatcher, the file watcher that triggers manifest rebuilds, and
// the WebSocket live-reload channel.
//
// The dispatcher runs each request through a fixed sequence: static
// asset check, base path check, environment injection, hooks load,
// render, and static fallback on a 404. Every fault is recovered at
// the dispatcher boundary and answered as a 500 with a rewritten
// stack; no inner layer writes to the response.
package dev
