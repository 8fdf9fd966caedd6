// Package user provides the dashboard's user identity records.
package user
