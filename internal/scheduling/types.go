package scheduling

import "time"

// Schedule is one exam schedule as returned by the API.
type Schedule struct {
	ID       int64     `json:"id"`
	ExamName string    `json:"examName"`
	Date     time.Time `json:"date"`
	Location string    `json:"location"`
	Active   bool      `json:"active"`
}

// CreateScheduleRequest is the body of POST /schedules.
type CreateScheduleRequest struct {
	ExamName string    `json:"examName"`
	Date     time.Time `json:"date"`
	Location string    `json:"location"`
	Active   bool      `json:"active"`
}

// ScheduleUpdate is the body of PATCH /schedules/{id}. Nil fields are left
// unchanged by the server.
type ScheduleUpdate struct {
	ExamName *string    `json:"examName,omitempty"`
	Date     *time.Time `json:"date,omitempty"`
	Location *string    `json:"location,omitempty"`
	Active   *bool      `json:"active,omitempty"`
}

// IsEmpty reports whether the update changes nothing.
func (u ScheduleUpdate) IsEmpty() bool {
	return u.ExamName == nil && u.Date == nil && u.Location == nil && u.Active == nil
}
