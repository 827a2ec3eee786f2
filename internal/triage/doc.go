// Package triage is the business boundary of the resolution engine. The
// Service scans the case page, decides which affordances apply, and runs one
// resolution flow at a time through the submission machine, recording every
// flow in a Store.
package triage
