package ir

import "fmt"

// ConsistencyCoordinate is an addressable point in a document scope's log.
type ConsistencyCoordinate struct {
	DocumentID     string `json:"documentId"`
	Scope          string `json:"scope"`
	Branch         string `json:"branch"`
	OperationIndex int64  `json:"operationIndex"`
}

// ConsistencyKey is "documentId:scope:branch".
type ConsistencyKey string

// Key returns the tracker key for the coordinate.
func (c ConsistencyCoordinate) Key() ConsistencyKey {
	return MakeConsistencyKey(c.DocumentID, c.Scope, c.Branch)
}

// MakeConsistencyKey builds a key from its parts.
func MakeConsistencyKey(documentID, scope, branch string) ConsistencyKey {
	return ConsistencyKey(fmt.Sprintf("%s:%s:%s", documentID, scope, branch))
}

// ConsistencyToken is handed to writers and passed back by readers who need
// the write to be visible before their query runs.
type ConsistencyToken struct {
	Version         int                     `json:"version"`
	CreatedAtUtcIso string                  `json:"createdAtUtcIso"`
	Coordinates     []ConsistencyCoordinate `json:"coordinates"`
}

// ConsistencyTokenVersion is the current token format version.
const ConsistencyTokenVersion = 1
