// Package model defines the public data types shared across the engine:
// records, search results and search options.
package model
