package leads

import "time"

type Status string

const (
	StatusNew       Status = "new"
	StatusContacted Status = "contacted"
	StatusQualified Status = "qualified"
	StatusConverted Status = "converted"
	StatusLost      Status = "lost"
)

// Valid reports whether s is one of the known lead statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusNew, StatusContacted, StatusQualified, StatusConverted, StatusLost:
		return true
	}
	return false
}

// Lead is a prospective customer identified by their normalized phone key.
// There is exactly one Lead per phone key.
type Lead struct {
	ID        string    `json:"id"`
	PhoneKey  string    `json:"phone_key"`
	Name      string    `json:"name"`
	Status    Status    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ListFilter narrows and pages a lead listing.
type ListFilter struct {
	Status Status
	Limit  int
	Offset int
}
