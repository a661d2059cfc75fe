// Package triage provides the business boundary for Medevac's casualty
// triage engine. It defines the Service (ingestion pipeline, alert engine,
// evacuation state machine, ranking and geo-proximity), the Store interface
// (persistence), and the domain models.
package triage
