// Package redis keeps chat transcripts in Redis lists, one list per
// conversation.
package redis
