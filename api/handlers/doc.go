// Package handlers implements the REST surface: agent CRUD, the audio
// artifact endpoint, and health checks.
package handlers
