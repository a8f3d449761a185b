package session

import (
	"fmt"
	"time"
)

// Status is the lifecycle state of an agent session.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusRunning   Status = "RUNNING"
	StatusPaused    Status = "PAUSED"
	StatusCompleted Status = "COMPLETED"
	StatusFailed    Status = "FAILED"
)

// Terminal reports whether no further transitions are allowed.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Session is one agent run. The context blob holds the serialized message
// list and is written only by the session's own loop; all other fields may
// be mutated by HTTP handlers concurrently, guarded by the version field.
type Session struct {
	ID              string    `json:"id"`
	UserID          string    `json:"userId,omitempty"`
	TaskDescription string    `json:"taskDescription"`
	Status          Status    `json:"status"`
	IterationCount  int       `json:"iterationCount"`
	Result          string    `json:"result,omitempty"`
	ErrorMessage    string    `json:"errorMessage,omitempty"`
	Plan            string    `json:"plan,omitempty"`
	ContextBlob     string    `json:"contextBlob,omitempty"`
	Version         int64     `json:"version"`
	CreateTime      time.Time `json:"createTime"`
	UpdateTime      time.Time `json:"updateTime"`
}

// SubscribePath is the event topic for this session.
func (s *Session) SubscribePath() string {
	return fmt.Sprintf("/agent/%s", s.ID)
}

// Clone returns a copy safe to hand to other goroutines.
func (s *Session) Clone() *Session {
	copied := *s
	return &copied
}
