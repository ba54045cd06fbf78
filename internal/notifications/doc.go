// Package notifications delivers run lifecycle and error notifications
// over ntfy. When no topic is configured the service degrades to a noop.
package notifications
