// Package mysql persists chat transcripts in MySQL. Schema changes ship as
// embedded migrations applied on startup.
package mysql
