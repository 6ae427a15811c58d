package model

import "time"

// CycleStatus records the outcome of one run of a periodic job.
type CycleStatus struct {
	Started  time.Time `json:"started"`
	Finished time.Time `json:"finished"`
	// Months are the months requested; Fetched the ones that answered.
	Months  []string `json:"months,omitempty"`
	Fetched []string `json:"fetched,omitempty"`

	Decoded     int   `json:"decoded"`
	Inserted    int   `json:"inserted"`
	Touched     int   `json:"touched"`
	Deactivated int64 `json:"deactivated"`
	Created     int   `json:"created"`
	Deleted     int   `json:"deleted"`

	Error string `json:"error,omitempty"`
}

// Status is what the service reports about its periodic jobs.
type Status struct {
	LastFetch *CycleStatus `json:"last_fetch,omitempty"`
	LastSync  *CycleStatus `json:"last_sync,omitempty"`
	NextFetch time.Time    `json:"next_fetch,omitzero"`
	NextSync  time.Time    `json:"next_sync,omitzero"`
}
