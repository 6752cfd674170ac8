package models

import "github.com/google/uuid"

// Event property keys.
const (
	PropStatus          = "status"
	PropMessage         = "message"
	PropTaskGroupStatus = "taskGroupStatus"
	PropTaskGroupID     = "taskGroupId"
	PropPipelineID      = "pipelineId"
)

// Properties is a string multimap.
type Properties map[string][]string

// Add appends value to the values of key.
func (p Properties) Add(key, value string) {
	p[key] = append(p[key], value)
}

// Set replaces the values of key.
func (p Properties) Set(key, value string) {
	p[key] = []string{value}
}

// Get returns the first value of key, or "" when absent.
func (p Properties) Get(key string) string {
	if vs := p[key]; len(vs) > 0 {
		return vs[0]
	}
	return ""
}

// All returns every value of key.
func (p Properties) All(key string) []string {
	return p[key]
}

// Event is an asynchronous notification addressed to one object. It resumes a
// suspended pipeline or tells a pipeline's owner about a status change.
type Event struct {
	ObjectID   uuid.UUID  `json:"objectId"`
	Properties Properties `json:"properties"`
}

// NewEvent returns an event with an empty property set.
func NewEvent(objectID uuid.UUID) Event {
	return Event{ObjectID: objectID, Properties: Properties{}}
}
