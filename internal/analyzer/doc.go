// Package analyzer defines the gateway contract to the external probe
// scripts that do the actual DNS and SMTP work, along with the per-kind
// payload types exchanged between the gateway and the scorer. Payloads are
// schema-validated at this edge so malformed analyzer output fails fast
// instead of propagating into scoring.
package analyzer
