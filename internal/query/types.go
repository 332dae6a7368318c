package query

import "time"

// Record is a committed entity as served by the record lookup API. Data
// holds the entity itself; Related holds ledger entries derived from it.
type Record struct {
	Kind    string         `json:"kind"`
	ID      string         `json:"id"`
	Data    any            `json:"data"`
	Related map[string]any `json:"related,omitempty"`
	AsOf    time.Time      `json:"as_of"`
}

// ErrorResponse is the JSON body of a failed API call.
type ErrorResponse struct {
	Error string `json:"error"`
}
