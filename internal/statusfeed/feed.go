package statusfeed

import "time"

// Incident is an incident entry of the summary document.
type Incident struct {
	ID           string     `json:"id"`
	Name         string     `json:"name"`
	Status       string     `json:"status"`
	Impact       string     `json:"impact"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
	ResolvedAt   *time.Time `json:"resolved_at"`
	LastUpdateID string     `json:"last_update_id"`
}

// Component is a component entry of the summary document.
type Component struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Status    string    `json:"status"`
	GroupID   *string   `json:"group_id"`
	UpdatedAt time.Time `json:"updated_at"`
}

// HasGroup reports whether the component is linked to a group or incident.
func (c Component) HasGroup() bool {
	return c.GroupID != nil && *c.GroupID != ""
}
