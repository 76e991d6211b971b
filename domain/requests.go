package domain

// Request bodies of the task sub-resource endpoints.

type CancelRequest struct {
	Reason string `json:"reason"`
}

type AssignRequest struct {
	UserID int64 `json:"user_id"`
}

type AssignManyRequest struct {
	UserIDs []int64 `json:"user_ids"`
}

// ChecklistUpdateRequest patches the checklist item at Index. Nil fields are
// left untouched.
type ChecklistUpdateRequest struct {
	Index     int     `json:"index"`
	Text      *string `json:"text,omitempty"`
	Completed *bool   `json:"completed,omitempty"`
}

type ChecklistRemoveRequest struct {
	Index int `json:"index"`
}
