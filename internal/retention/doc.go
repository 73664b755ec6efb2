// Package retention deletes jobs and their artifacts once their retention
// deadline has passed, whatever their status.
package retention
