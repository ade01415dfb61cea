// Package model defines the core data types of the knowledge cache:
// the monolithic KnowledgeRecord, its Summary/DetailBlob halves, and the
// compact wire representations used at the codec boundary.
package model
