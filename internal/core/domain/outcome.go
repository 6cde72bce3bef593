package domain

import "time"

// Outcome is one significant result worth reporting to operators. It is
// emitted to the log channel and, when configured, persisted for audit.
type Outcome struct {
	Time      time.Time `json:"time" bson:"time"`
	Kind      string    `json:"kind" bson:"kind"`
	Operation string    `json:"operation" bson:"operation"`
	MemberID  string    `json:"member_id,omitempty" bson:"member_id,omitempty"`
	Detail    string    `json:"detail" bson:"detail"`
}
