// Package engine orchestrates check runs. It admits Start/Retry requests
// against the one-in-flight-per-(domain, kind) invariant, drives each run's
// pending→running→completed/failed lifecycle on a bounded worker pool,
// enforces the analyzer timeout, scores successful probes, and publishes
// every transition to the notification hub.
package engine
